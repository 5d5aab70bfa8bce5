package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Fleet represents a row in the fleets table: one group of agents sharing
// an API key and guard configuration overrides.
type Fleet struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	GuardConfig  json.RawMessage // engine.Overrides as JSONB
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GenerateAPIKey creates a new rgk_ API key with its bcrypt hash and
// prefix. Returns (fullKey, hash, prefix, error); the full key is shown to
// the operator once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "rgk_" + hex.EncodeToString(raw)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "rgk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateFleet inserts a new fleet. Returns the fleet and the plaintext API
// key (shown once).
func (s *Store) CreateFleet(ctx context.Context, name string, guardConfig json.RawMessage) (*Fleet, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateFleet: %w", err)
	}
	if len(guardConfig) == 0 {
		guardConfig = json.RawMessage("{}")
	}

	var f Fleet
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO fleets (name, api_key_hash, api_key_prefix, guard_config)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, api_key_hash, api_key_prefix, guard_config, created_at, updated_at`,
		name, keyHash, keyPrefix, guardConfig,
	).Scan(&f.ID, &f.Name, &f.APIKeyHash, &f.APIKeyPrefix, &f.GuardConfig,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateFleet: %w", err)
	}
	return &f, fullKey, nil
}

// ListFleets returns all fleets ordered by created_at DESC.
func (s *Store) ListFleets(ctx context.Context) ([]*Fleet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, guard_config, created_at, updated_at
		FROM fleets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListFleets: %w", err)
	}
	defer rows.Close()

	var fleets []*Fleet
	for rows.Next() {
		var f Fleet
		if err := rows.Scan(&f.ID, &f.Name, &f.APIKeyHash, &f.APIKeyPrefix,
			&f.GuardConfig, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListFleets: %w", err)
		}
		fleets = append(fleets, &f)
	}
	return fleets, rows.Err()
}

// UpdateGuardConfig replaces a fleet's guard overrides.
func (s *Store) UpdateGuardConfig(ctx context.Context, id string, guardConfig json.RawMessage) (*Fleet, error) {
	var f Fleet
	err := s.db.QueryRowContext(ctx, `
		UPDATE fleets SET guard_config = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix, guard_config, created_at, updated_at`,
		id, guardConfig,
	).Scan(&f.ID, &f.Name, &f.APIKeyHash, &f.APIKeyPrefix, &f.GuardConfig,
		&f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateGuardConfig: %w", err)
	}
	return &f, nil
}

// RotateAPIKey generates a new API key for a fleet. Returns the updated
// fleet and the plaintext key (shown once).
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Fleet, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	var f Fleet
	err = s.db.QueryRowContext(ctx, `
		UPDATE fleets SET api_key_hash = $2, api_key_prefix = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix, guard_config, created_at, updated_at`,
		id, keyHash, keyPrefix,
	).Scan(&f.ID, &f.Name, &f.APIKeyHash, &f.APIKeyPrefix, &f.GuardConfig,
		&f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("RotateAPIKey: fleet not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}
	return &f, fullKey, nil
}
