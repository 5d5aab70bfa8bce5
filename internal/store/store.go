// Package store persists agent fleets and their API keys in Postgres.
package store

import "database/sql"

// Store wraps the Postgres connection pool.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store around an open *sql.DB (pgx stdlib driver).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}
