// Package embedding turns free text into fixed-length dense vectors.
//
// The Provider never fails: an upstream error or empty input yields an
// all-zero vector of the configured length, which downstream scoring treats
// as "no semantic signal".
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/BTreeMap/DocFinder/internal/store"
)

// DefaultDimensions is the vector length stored in the search index.
const DefaultDimensions = 384

// Embedder is the upstream embedding service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider wraps an Embedder with a KV cache keyed by input text and
// collapses concurrent requests for the same text.
type Provider struct {
	upstream   Embedder
	kv         store.KV
	ttl        time.Duration
	dimensions int
	group      singleflight.Group
}

// Option configures a Provider.
type Option func(*Provider)

// WithCache caches vectors in kv for ttl.
func WithCache(kv store.KV, ttl time.Duration) Option {
	return func(p *Provider) {
		p.kv = kv
		p.ttl = ttl
	}
}

// WithDimensions sets the vector length.
func WithDimensions(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.dimensions = n
		}
	}
}

// NewProvider creates a Provider. A nil upstream yields zero vectors only.
func NewProvider(upstream Embedder, opts ...Option) *Provider {
	p := &Provider{upstream: upstream, dimensions: DefaultDimensions}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dimensions reports the vector length.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// Vector returns the embedding of text, or a zero vector on any failure.
func (p *Provider) Vector(ctx context.Context, text string) []float32 {
	text = preprocess(text)
	if text == "" || p.upstream == nil {
		return p.zero()
	}
	key := cacheKey(text)
	if vec, ok := p.cached(ctx, key); ok {
		return vec
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		vec, err := p.upstream.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		p.store(ctx, key, vec)
		return vec, nil
	})
	if err != nil {
		slog.Warn("Provider.Vector: embedding failed, using zero vector", "error", err)
		return p.zero()
	}
	vec := v.([]float32)
	if len(vec) != p.dimensions {
		slog.Warn("Provider.Vector: unexpected vector length, using zero vector", "got", len(vec), "want", p.dimensions)
		return p.zero()
	}
	return vec
}

// IsZero reports whether every component of vec is zero.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func (p *Provider) zero() []float32 {
	return make([]float32, p.dimensions)
}

func (p *Provider) cached(ctx context.Context, key string) ([]float32, bool) {
	if p.kv == nil {
		return nil, false
	}
	data, ok, err := p.kv.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var vec []float32
	if err := msgpack.Unmarshal(data, &vec); err != nil || len(vec) != p.dimensions {
		return nil, false
	}
	return vec, true
}

func (p *Provider) store(ctx context.Context, key string, vec []float32) {
	if p.kv == nil || len(vec) != p.dimensions {
		return
	}
	data, err := msgpack.Marshal(vec)
	if err != nil {
		return
	}
	if err := p.kv.Set(ctx, key, data, p.ttl); err != nil {
		slog.Debug("Provider.store: cache write failed", "error", err)
	}
}

// preprocess lowercases text and folds line breaks into spaces.
func preprocess(text string) string {
	text = strings.NewReplacer("\r", "", "\n", " ").Replace(text)
	return strings.ToLower(strings.TrimSpace(text))
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + hex.EncodeToString(sum[:])
}
