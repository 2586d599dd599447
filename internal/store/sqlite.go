// This file implements an SQLite-backed patient repository.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/DocFinder/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

const sqlitePatientSelect = `SELECT p.id, p.name, p.phone, ci.name, co.name
FROM patients p
LEFT JOIN cities ci ON ci.id = p.city_id
LEFT JOIN countries co ON co.id = p.country_id`

// Compile-time checks that SQLiteStore implements the repositories.
var (
	_ PatientRepo = (*SQLiteStore)(nil)
	_ DedupRepo   = (*SQLiteStore)(nil)
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	row := s.db.QueryRowContext(ctx, sqlitePatientSelect+` WHERE p.id = ?`, id)
	p, err := scanPatientRow(row)
	if err != nil {
		if err != ErrPatientNotFound {
			slog.Error("SQLiteStore GetPatient failed", "error", err, "patientID", id)
		}
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) FindPatientByPhone(ctx context.Context, phone string) (*models.Patient, error) {
	row := s.db.QueryRowContext(ctx, sqlitePatientSelect+` WHERE p.phone = ? ORDER BY p.updated_at DESC LIMIT 1`, phone)
	p, err := scanPatientRow(row)
	if err != nil {
		if err != ErrPatientNotFound {
			slog.Error("SQLiteStore FindPatientByPhone failed", "error", err)
		}
		return nil, err
	}
	return p, nil
}

// SavePatient inserts or replaces a patient, creating its country and city rows as needed.
func (s *SQLiteStore) SavePatient(ctx context.Context, p models.Patient) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var countryID, cityID interface{}
	if c := models.Deref(p.Location.Country); c != "" {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO countries (name) VALUES (?)`, c); err != nil {
			return fmt.Errorf("insert country %s: %w", c, err)
		}
		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM countries WHERE name = ?`, c).Scan(&id); err != nil {
			return fmt.Errorf("select country %s: %w", c, err)
		}
		countryID = id
	}
	if c := models.Deref(p.Location.City); c != "" {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM cities WHERE name = ? AND country_id IS ?`, c, countryID).Scan(&id)
		if err == sql.ErrNoRows {
			res, insErr := tx.ExecContext(ctx, `INSERT INTO cities (name, country_id) VALUES (?, ?)`, c, countryID)
			if insErr != nil {
				return fmt.Errorf("insert city %s: %w", c, insErr)
			}
			id, err = res.LastInsertId()
		}
		if err != nil {
			return fmt.Errorf("resolve city %s: %w", c, err)
		}
		cityID = id
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO patients (id, name, phone, city_id, country_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone,
    city_id = excluded.city_id, country_id = excluded.country_id, updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Phone, cityID, countryID, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SavePatient failed", "error", err, "patientID", p.ID)
		return fmt.Errorf("failed to save patient %s: %w", p.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit patient %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore SavePatient succeeded", "patientID", p.ID)
	return nil
}

func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID, patientID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (message_id, patient_id, received_at) VALUES (?, ?, ?)`,
		messageID, patientID, time.Now(),
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

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune inbound failed: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the SQLite database connection
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
