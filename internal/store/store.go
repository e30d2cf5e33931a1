// Package store is the persistence layer for shortened URLs and their
// classification history. It owns the Url entity outright: every status
// mutation is a named operation backed by an atomic single-row UPDATE, so
// the safety state machine lives in exactly one place.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/shortguard/shortguard/internal/logging"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

var (
	// ErrURLNotFound is returned when no row exists for a short code.
	ErrURLNotFound = errors.New("url not found")

	// ErrCodeExists is returned by AddURL when the short code is taken.
	ErrCodeExists = errors.New("short code already exists")

	// ErrPendingTarget is returned when SetSafetyStatus is asked to move a
	// URL to pending. Pending is reachable only via creation or
	// ResetSafetyStatus.
	ErrPendingTarget = errors.New("cannot set safety status to pending; use ResetSafetyStatus")

	// ErrPendingQuery is returned when GetBySafetyStatus is asked for
	// pending rows. Pending rows are paged through GetPendingURLs, which
	// guarantees stable cursor semantics.
	ErrPendingQuery = errors.New("cannot query pending rows by status; use GetPendingURLs")
)

// Store provides the repository operations over SQLite.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (or creates) the SQLite database at path, applies the schema
// and returns a ready Store.
func Open(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	s, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already-open database, applying the schema. Useful for tests
// that hand in an in-memory database.
func New(db *sql.DB, logger logging.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("store")
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		logger.Warn("setting busy_timeout", logging.Field{Key: "error", Value: err.Error()})
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
