package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BTreeMap/DocFinder/internal/models"
	"github.com/BTreeMap/DocFinder/internal/store"
	"github.com/BTreeMap/DocFinder/internal/util"
)

// Default engine settings.
const (
	DefaultPageSize    = 8
	DefaultCacheTTL    = 5 * time.Minute
	DefaultVectorScale = 6.0
	DefaultVectorField = "specialty_vector"
)

var tracer = otel.Tracer("github.com/BTreeMap/DocFinder/internal/search")

// VectorSource embeds text. It returns a zero vector when no embedding is
// available.
type VectorSource interface {
	Vector(ctx context.Context, text string) []float32
}

// IDEncrypter produces the opaque external identifier of a doctor.
type IDEncrypter interface {
	Encrypt(plain string) (string, error)
}

// Engine runs searches against an Index with caching, a single
// location-free fallback and failure isolation.
type Engine struct {
	builder     *Builder
	index       Index
	vectors     VectorSource
	cache       store.KV
	cacheTTL    time.Duration
	breaker     Breaker
	ids         IDEncrypter
	pageSize    int
	vectorScale float64
	vectorField string
	retry       util.RetryPolicy
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBuilder sets the query builder.
func WithBuilder(b *Builder) EngineOption {
	return func(e *Engine) { e.builder = b }
}

// WithVectors blends cosine similarity from src into the ranking. scale is
// the upper bound of the added score.
func WithVectors(src VectorSource, field string, scale float64) EngineOption {
	return func(e *Engine) {
		e.vectors = src
		if field != "" {
			e.vectorField = field
		}
		if scale > 0 {
			e.vectorScale = scale
		}
	}
}

// WithCache caches results in kv for ttl.
func WithCache(kv store.KV, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.cache = kv
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// WithBreaker sets the failure breaker.
func WithBreaker(b Breaker) EngineOption {
	return func(e *Engine) { e.breaker = b }
}

// WithIDEncrypter attaches encrypted identifiers to results.
func WithIDEncrypter(enc IDEncrypter) EngineOption {
	return func(e *Engine) { e.ids = enc }
}

// WithPageSize caps the number of results.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithRetry sets the retry policy for index calls.
func WithRetry(p util.RetryPolicy) EngineOption {
	return func(e *Engine) { e.retry = p }
}

// NewEngine creates an Engine over index.
func NewEngine(index Index, opts ...EngineOption) *Engine {
	e := &Engine{
		index:       index,
		cacheTTL:    DefaultCacheTTL,
		pageSize:    DefaultPageSize,
		vectorScale: DefaultVectorScale,
		vectorField: DefaultVectorField,
		retry:       util.RetryPolicy{Attempts: 2, BaseDelay: 100 * time.Millisecond, MaxJitter: 100 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.builder == nil {
		e.builder = NewBuilder()
	}
	if e.breaker == nil {
		e.breaker = NewCircuitBreaker(5, 60*time.Second)
	}
	return e
}

// Search returns up to the page size of doctors for p, most relevant first.
//
// An open breaker yields an empty result and a nil error. An index failure
// is returned as an error after the retry budget is spent.
func (e *Engine) Search(ctx context.Context, p Params) ([]models.Doctor, error) {
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()
	span.SetAttributes(attribute.String("specialist_type", p.SpecialistType))

	key := cacheKey(p)
	if docs, ok := e.cached(ctx, key); ok {
		slog.Debug("Engine.Search: cache hit", "specialistType", p.SpecialistType, "count", len(docs))
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return docs, nil
	}

	if !e.breaker.Allow() {
		slog.Warn("Engine.Search: breaker open, returning no results", "specialistType", p.SpecialistType)
		span.SetAttributes(attribute.Bool("breaker_open", true))
		return nil, nil
	}

	var vec []float32
	if e.vectors != nil {
		vec = e.vectors.Vector(ctx, p.SpecialistType)
	}

	docs, err := e.run(ctx, p, vec)
	if err != nil {
		e.breaker.Failure()
		span.RecordError(err)
		slog.Error("Engine.Search: index query failed", "specialistType", p.SpecialistType, "error", err)
		return nil, err
	}
	if len(docs) == 0 && !p.ExplicitLocation() {
		slog.Warn("Engine.Search: no results, retrying without location", "specialistType", p.SpecialistType,
			"patientCity", models.Deref(p.PatientCity), "patientCountry", models.Deref(p.PatientCountry))
		docs, err = e.run(ctx, p.WithoutLocation(), vec)
		if err != nil {
			e.breaker.Failure()
			span.RecordError(err)
			slog.Error("Engine.Search: fallback query failed", "specialistType", p.SpecialistType, "error", err)
			return nil, err
		}
	}
	e.breaker.Success()

	docs = e.decorate(docs)
	e.store(ctx, key, docs)
	span.SetAttributes(attribute.Int("results", len(docs)))
	slog.Info("Engine.Search: completed", "specialistType", p.SpecialistType, "results", len(docs))
	return docs, nil
}

// Query returns the query Search would send for p, without the vector clause.
func (e *Engine) Query(p Params) SearchQuery {
	return e.builder.Build(p)
}

func (e *Engine) run(ctx context.Context, p Params, vec []float32) ([]models.Doctor, error) {
	q := e.builder.Build(p)
	if len(vec) > 0 && !isZero(vec) {
		q = q.WithShould(VectorClause{Field: e.vectorField, Vector: vec, Scale: e.vectorScale / 2})
	}
	body := q.Source(e.pageSize)
	slog.Debug("Engine.run: executing query", "city", q.EffectiveCity(), "country", q.EffectiveCountry(),
		"must", len(q.must), "should", len(q.should))

	var docs []models.Doctor
	err := util.Retry(ctx, "search.index", e.retry, func(ctx context.Context) error {
		var err error
		docs, err = e.index.Search(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(docs) > e.pageSize {
		docs = docs[:e.pageSize]
	}
	return docs, nil
}

// decorate attaches encrypted identifiers and tags. A record whose
// identifier cannot be encrypted is dropped.
func (e *Engine) decorate(docs []models.Doctor) []models.Doctor {
	out := make([]models.Doctor, 0, len(docs))
	for _, d := range docs {
		if e.ids != nil {
			enc, err := e.ids.Encrypt(d.ID.String())
			if err != nil {
				slog.Error("Engine.decorate: dropping doctor, id encryption failed", "doctorID", d.ID, "error", err)
				continue
			}
			d.EncryptedID = enc
		}
		if d.PatientStatus == "1" && !slices.Contains(d.Tags, models.TagAcceptingPatients) {
			d.Tags = append(append([]string(nil), d.Tags...), models.TagAcceptingPatients)
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) cached(ctx context.Context, key string) ([]models.Doctor, bool) {
	if e.cache == nil {
		return nil, false
	}
	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("Engine.cached: cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var docs []models.Doctor
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, false
	}
	return docs, true
}

func (e *Engine) store(ctx context.Context, key string, docs []models.Doctor) {
	if e.cache == nil {
		return
	}
	if docs == nil {
		docs = []models.Doctor{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
		slog.Warn("Engine.store: cache write failed", "error", err)
	}
}

// cacheKey is exact over every parameter; nil and "" are distinct.
func cacheKey(p Params) string {
	data, _ := json.Marshal(p)
	sum := sha256.Sum256(data)
	return "doctors:" + hex.EncodeToString(sum[:])
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
