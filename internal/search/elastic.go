package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/BTreeMap/DocFinder/internal/models"
)

// Index executes a rendered query body and returns the matching doctors in
// ranked order.
type Index interface {
	Search(ctx context.Context, body map[string]any) ([]models.Doctor, error)
}

// ElasticConfig configures the Elasticsearch connection.
type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// ElasticIndex is an Index backed by Elasticsearch.
type ElasticIndex struct {
	es      *elasticsearch.Client
	index   string
	timeout time.Duration
}

var _ Index = (*ElasticIndex)(nil)

// NewElasticIndex creates a client for cfg. It does not contact the cluster.
func NewElasticIndex(cfg ElasticConfig) (*ElasticIndex, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("elasticsearch index name is required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	slog.Debug("NewElasticIndex: client created", "addresses", cfg.Addresses, "index", cfg.Index)
	return &ElasticIndex{es: es, index: cfg.Index, timeout: cfg.Timeout}, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Score  *float64        `json:"_score"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (ix *ElasticIndex) Search(ctx context.Context, body map[string]any) ([]models.Doctor, error) {
	ctx, span := tracer.Start(ctx, "search.index")
	defer span.End()
	span.SetAttributes(attribute.String("index", ix.index))

	if ix.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	res, err := ix.es.Search(
		ix.es.Search.WithContext(ctx),
		ix.es.Search.WithIndex(ix.index),
		ix.es.Search.WithBody(&buf),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		span.SetStatus(codes.Error, res.Status())
		return nil, fmt.Errorf("elasticsearch search: status %s: %s", res.Status(), bytes.TrimSpace(msg))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	doctors := make([]models.Doctor, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		var d models.Doctor
		if err := json.Unmarshal(h.Source, &d); err != nil {
			slog.Warn("ElasticIndex.Search: skipping undecodable hit", "id", h.ID, "error", err)
			continue
		}
		if d.ID == "" {
			d.ID = models.FlexString(h.ID)
		}
		if h.Score != nil {
			d.Score = *h.Score
		}
		doctors = append(doctors, d)
	}
	span.SetAttributes(attribute.Int("hits", len(doctors)))
	return doctors, nil
}

// Ping reports whether the cluster is reachable.
func (ix *ElasticIndex) Ping(ctx context.Context) error {
	res, err := ix.es.Ping(ix.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: status %s", res.Status())
	}
	return nil
}
