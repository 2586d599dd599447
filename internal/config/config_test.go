package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.PageSize != 8 {
		t.Errorf("expected page size 8, got %d", cfg.Search.PageSize)
	}
	if cfg.Breaker.Threshold != 5 || cfg.Breaker.Cooldown != time.Minute {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Cache.ConversationTTL != 24*time.Hour {
		t.Errorf("unexpected conversation TTL: %v", cfg.Cache.ConversationTTL)
	}
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docfinder.yaml")
	content := `
search:
  index: practitioners
  page_size: 5
cache:
  search_ttl: 90s
breaker:
  cooldown: 2m
maintenance:
  dedup_retention: 48h
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.Index != "practitioners" || cfg.Search.PageSize != 5 {
		t.Errorf("search overrides not applied: %+v", cfg.Search)
	}
	if cfg.Cache.SearchTTL != 90*time.Second {
		t.Errorf("expected 90s search TTL, got %v", cfg.Cache.SearchTTL)
	}
	if cfg.Breaker.Cooldown != 2*time.Minute || cfg.Breaker.Threshold != 5 {
		t.Errorf("unexpected breaker config: %+v", cfg.Breaker)
	}
	if cfg.Maintenance.DedupRetention != 48*time.Hour || cfg.Maintenance.PruneSchedule != "@hourly" {
		t.Errorf("unexpected maintenance config: %+v", cfg.Maintenance)
	}
	if len(cfg.Search.GPLabels) != 3 {
		t.Errorf("GP labels default lost: %v", cfg.Search.GPLabels)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("search:\n  fuzziness: 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	var cfgErr *Error
	if !errors.As(err, &cfgErr) || cfgErr.Code != ErrorInvalidValue {
		t.Fatalf("expected invalid value error, got %v", err)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("search: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	var cfgErr *Error
	if !errors.As(err, &cfgErr) || cfgErr.Code != ErrorInvalidYAML {
		t.Fatalf("expected invalid yaml error, got %v", err)
	}
}
