// Package config loads DocFinder tunables from an optional YAML file.
//
// Every field has a default, so a missing file or a partial file is valid.
// Secrets and endpoints stay in the environment; this file only carries
// behavior knobs such as page size, cache lifetimes and breaker limits.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SearchConfig tunes query construction and ranking.
type SearchConfig struct {
	Index           string        `yaml:"index"`
	PageSize        int           `yaml:"page_size"`
	Timeout         time.Duration `yaml:"timeout"`
	ExactBoost      float64       `yaml:"exact_boost"`
	Fuzziness       int           `yaml:"fuzziness"`
	CityBoost       float64       `yaml:"city_boost"`
	CountryBoost    float64       `yaml:"country_boost"`
	TelehealthBoost float64       `yaml:"telehealth_boost"`
	VectorScale     float64       `yaml:"vector_scale"`
	VectorField     string        `yaml:"vector_field"`
	GPSynonyms      []string      `yaml:"gp_synonyms"`
	GPLabels        []string      `yaml:"gp_labels"`
	IndexAttempts   int           `yaml:"index_attempts"`
}

// CacheConfig holds the lifetimes of every cached value.
type CacheConfig struct {
	SearchTTL       time.Duration `yaml:"search_ttl"`
	LocationTTL     time.Duration `yaml:"location_ttl"`
	ResetTTL        time.Duration `yaml:"reset_ttl"`
	ConversationTTL time.Duration `yaml:"conversation_ttl"`
	EmbeddingTTL    time.Duration `yaml:"embedding_ttl"`
}

// BreakerConfig configures the search failure breaker.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// CompletionConfig configures calls to the completion service.
type CompletionConfig struct {
	ChatModel         string        `yaml:"chat_model"`
	ClassifierModel   string        `yaml:"classifier_model"`
	Attempts          int           `yaml:"attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxJitter         time.Duration `yaml:"max_jitter"`
	Timeout           time.Duration `yaml:"timeout"`
	ClassifierTimeout time.Duration `yaml:"classifier_timeout"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ConversationConfig tunes the conversation controller.
type ConversationConfig struct {
	MinSymptoms  int           `yaml:"min_symptoms"`
	ContextTurns int           `yaml:"context_turns"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

// MaintenanceConfig schedules background housekeeping.
type MaintenanceConfig struct {
	PruneSchedule  string        `yaml:"prune_schedule"`
	DedupRetention time.Duration `yaml:"dedup_retention"`
}

// Config is the root tunables document.
type Config struct {
	Search       SearchConfig       `yaml:"search"`
	Cache        CacheConfig        `yaml:"cache"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Completion   CompletionConfig   `yaml:"completion"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Conversation ConversationConfig `yaml:"conversation"`
	Maintenance  MaintenanceConfig  `yaml:"maintenance"`
}

// Default returns the built-in tunables.
func Default() *Config {
	return &Config{
		Search: SearchConfig{
			Index:           "doctors",
			PageSize:        8,
			Timeout:         15 * time.Second,
			ExactBoost:      10,
			Fuzziness:       1,
			CityBoost:       2.0,
			CountryBoost:    1.5,
			TelehealthBoost: 1.5,
			VectorScale:     6,
			VectorField:     "specialty_vector",
			GPSynonyms:      []string{"general practitioner", "family doctor", "gp"},
			GPLabels:        []string{"general practitioner", "general practitioner (gp)", "general internal medicine"},
			IndexAttempts:   2,
		},
		Cache: CacheConfig{
			SearchTTL:       5 * time.Minute,
			LocationTTL:     time.Hour,
			ResetTTL:        time.Hour,
			ConversationTTL: 24 * time.Hour,
			EmbeddingTTL:    24 * time.Hour,
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			Cooldown:  60 * time.Second,
		},
		Completion: CompletionConfig{
			ChatModel:         "gpt-4o-mini",
			ClassifierModel:   "gpt-4o-mini",
			Attempts:          3,
			BaseDelay:         300 * time.Millisecond,
			MaxJitter:         100 * time.Millisecond,
			Timeout:           15 * time.Second,
			ClassifierTimeout: 10 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 384,
		},
		Conversation: ConversationConfig{
			MinSymptoms:  2,
			ContextTurns: 3,
			LockTTL:      30 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			PruneSchedule:  "@hourly",
			DedupRetention: 7 * 24 * time.Hour,
		},
	}
}

// Load reads tunables from path. An empty path or a missing file yields the
// defaults; fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Code: ErrorInvalidYAML, Value: path, Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects tunables that would break the search or the controller.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Search.Index) == "":
		return &Error{Code: ErrorMissingIndex}
	case c.Search.PageSize <= 0:
		return &Error{Code: ErrorInvalidValue, Field: "search.page_size", Value: fmt.Sprint(c.Search.PageSize)}
	case c.Search.Fuzziness < 0 || c.Search.Fuzziness > 2:
		return &Error{Code: ErrorInvalidValue, Field: "search.fuzziness", Value: fmt.Sprint(c.Search.Fuzziness)}
	case c.Search.VectorScale < 0:
		return &Error{Code: ErrorInvalidValue, Field: "search.vector_scale", Value: fmt.Sprint(c.Search.VectorScale)}
	case c.Breaker.Threshold <= 0:
		return &Error{Code: ErrorInvalidValue, Field: "breaker.threshold", Value: fmt.Sprint(c.Breaker.Threshold)}
	case c.Completion.Attempts <= 0:
		return &Error{Code: ErrorInvalidValue, Field: "completion.attempts", Value: fmt.Sprint(c.Completion.Attempts)}
	case c.Embedding.Dimensions <= 0:
		return &Error{Code: ErrorInvalidValue, Field: "embedding.dimensions", Value: fmt.Sprint(c.Embedding.Dimensions)}
	case c.Conversation.MinSymptoms < 0:
		return &Error{Code: ErrorInvalidValue, Field: "conversation.min_symptoms", Value: fmt.Sprint(c.Conversation.MinSymptoms)}
	case c.Maintenance.DedupRetention < 0:
		return &Error{Code: ErrorInvalidValue, Field: "maintenance.dedup_retention", Value: c.Maintenance.DedupRetention.String()}
	}
	return nil
}
