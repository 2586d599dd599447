// This file implements a PostgreSQL-backed patient repository.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/BTreeMap/DocFinder/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

const postgresPatientSelect = `SELECT p.id, p.name, p.phone, ci.name, co.name
FROM patients p
LEFT JOIN cities ci ON ci.id = p.city_id
LEFT JOIN countries co ON co.id = p.country_id`

var (
	_ PatientRepo = (*PostgresStore)(nil)
	_ DedupRepo   = (*PostgresStore)(nil)
)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	row := s.db.QueryRowContext(ctx, postgresPatientSelect+` WHERE p.id = $1`, id)
	p, err := scanPatientRow(row)
	if err != nil {
		if err != ErrPatientNotFound {
			slog.Error("PostgresStore GetPatient failed", "error", err, "patientID", id)
		}
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) FindPatientByPhone(ctx context.Context, phone string) (*models.Patient, error) {
	row := s.db.QueryRowContext(ctx, postgresPatientSelect+` WHERE p.phone = $1 ORDER BY p.updated_at DESC LIMIT 1`, phone)
	p, err := scanPatientRow(row)
	if err != nil {
		if err != ErrPatientNotFound {
			slog.Error("PostgresStore FindPatientByPhone failed", "error", err)
		}
		return nil, err
	}
	return p, nil
}

// SavePatient inserts or replaces a patient, creating its country and city rows as needed.
func (s *PostgresStore) SavePatient(ctx context.Context, p models.Patient) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var countryID, cityID sql.NullInt64
	if c := models.Deref(p.Location.Country); c != "" {
		err := tx.QueryRowContext(ctx, `INSERT INTO countries (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`, c).Scan(&countryID)
		if err != nil {
			return fmt.Errorf("upsert country %s: %w", c, err)
		}
	}
	if c := models.Deref(p.Location.City); c != "" {
		err := tx.QueryRowContext(ctx, `SELECT id FROM cities WHERE name = $1 AND country_id IS NOT DISTINCT FROM $2`, c, countryID).Scan(&cityID)
		if err == sql.ErrNoRows {
			err = tx.QueryRowContext(ctx, `INSERT INTO cities (name, country_id) VALUES ($1, $2) RETURNING id`, c, countryID).Scan(&cityID)
		}
		if err != nil {
			return fmt.Errorf("resolve city %s: %w", c, err)
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO patients (id, name, phone, city_id, country_id, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone,
    city_id = EXCLUDED.city_id, country_id = EXCLUDED.country_id, updated_at = NOW()`,
		p.ID, p.Name, p.Phone, cityID, countryID)
	if err != nil {
		slog.Error("PostgresStore SavePatient failed", "error", err, "patientID", p.ID)
		return fmt.Errorf("failed to save patient %s: %w", p.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit patient %s: %w", p.ID, err)
	}
	slog.Debug("PostgresStore SavePatient succeeded", "patientID", p.ID)
	return nil
}

func (s *PostgresStore) RecordInbound(ctx context.Context, messageID, patientID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, patient_id, received_at) VALUES ($1, $2, NOW())
ON CONFLICT (message_id) DO NOTHING`,
		messageID, patientID,
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE inbound_dedup SET processed_at = NOW() WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune inbound failed: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the PostgreSQL database connection
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
