// Package store provides the storage backends DocFinder depends on.
//
// It includes expiring key-value stores (Redis and in-memory) used for
// conversations and caches, per-key locks, and relational patient
// repositories (SQLite, PostgreSQL and in-memory).
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/DocFinder/internal/models"
)

var (
	// ErrPatientNotFound is returned when no patient matches the lookup.
	ErrPatientNotFound = errors.New("patient not found")
	// ErrDSNNotSet is returned when a SQL store is constructed without a DSN.
	ErrDSNNotSet = errors.New("database DSN not set")
)

// KV is an expiring key-value store.
type KV interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Locker provides short-lived mutual exclusion per key.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done. The returned
	// function releases the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// PatientRepo reads patient records.
type PatientRepo interface {
	GetPatient(ctx context.Context, id string) (*models.Patient, error)
	FindPatientByPhone(ctx context.Context, phone string) (*models.Patient, error)
	SavePatient(ctx context.Context, p models.Patient) error
	Close() error
}

// Opts holds configuration options for the SQL stores.
type Opts struct {
	DSN string
}

// Option defines a function that modifies store options.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL URLs or keyword DSNs and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// NewPatientRepo opens the SQL store matching dsn, or an in-memory store when
// dsn is empty.
func NewPatientRepo(dsn string) (PatientRepo, error) {
	switch {
	case strings.TrimSpace(dsn) == "":
		return NewInMemoryStore(), nil
	case DetectDSNType(dsn) == "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}
