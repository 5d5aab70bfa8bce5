package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/runguard-ai/runguard/internal/engine"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// FleetStore abstracts the DB lookup for testability.
type FleetStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*fleetRow, error)
}

type fleetRow struct {
	FleetID     string
	Name        string
	APIKeyHash  string
	GuardConfig sql.NullString // JSONB overrides (NULL or "{}" means defaults)
}

// sqlFleetStore is the real implementation using *sql.DB.
type sqlFleetStore struct {
	db *sql.DB
}

func (s *sqlFleetStore) LookupByPrefix(ctx context.Context, prefix string) (*fleetRow, error) {
	row := &fleetRow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key_hash, guard_config
		 FROM fleets WHERE api_key_prefix = $1`,
		prefix,
	).Scan(&row.FleetID, &row.Name, &row.APIKeyHash, &row.GuardConfig)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidAPIKey // no fleet with this prefix
		}
		return nil, fmt.Errorf("sqlFleetStore.LookupByPrefix: %w", err)
	}
	return row, nil
}

// PostgresAuthenticator validates API keys against the fleets table.
// Uses AuthCache with stale-while-revalidate to keep DB + bcrypt off the
// hot path. Auth failures always return an error; no guard state is touched
// without valid auth.
type PostgresAuthenticator struct {
	store  FleetStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &PostgresAuthenticator{
		store:  &sqlFleetStore{db: cfg.DB},
		cache:  NewAuthCache(ttl),
		logger: cfg.Logger,
	}
}

// newPostgresAuthenticatorWithStore injects a store for testing.
func newPostgresAuthenticatorWithStore(store FleetStore, cache *AuthCache, logger *zap.Logger) *PostgresAuthenticator {
	return &PostgresAuthenticator{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Authenticate validates the API key against the database.
//
// Flow:
//  1. Cache lookup (stale-while-revalidate):
//     fresh hit returns immediately, stale hit returns the stale fleet and
//     spawns a background refresh, miss does the full lookup synchronously.
//  2. On lookup error: ErrInvalidAPIKey for unknown or mismatched keys,
//     ErrAuthUnavailable for DB failures.
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, apiKey string) (*FleetContext, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Fleet, nil
	}

	fleet, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return a.handleLookupError(err)
	}

	a.cache.Set(apiKey, fleet)
	return fleet, nil
}

// backgroundRefresh performs the DB + bcrypt lookup off the request path.
// Errors are logged but never affect the caller; they already got the stale
// value.
func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fleet, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background cache refresh failed",
			zap.Error(err),
		)
		// Drop the entry so the next read retries synchronously.
		a.cache.Delete(apiKey)
		return
	}

	a.cache.Set(apiKey, fleet)
}

// lookupAndVerify does the prefix lookup + bcrypt verification + overrides
// parsing.
func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*FleetContext, error) {
	// api_key_prefix is the first 8 chars (e.g. "rgk_abcd")
	if len(apiKey) < 8 {
		return nil, ErrInvalidAPIKey
	}
	prefix := apiKey[:8]

	row, err := a.store.LookupByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	var overrides *engine.Overrides
	if row.GuardConfig.Valid && row.GuardConfig.String != "" && row.GuardConfig.String != "{}" {
		parsed, err := parseGuardConfig(row.GuardConfig.String)
		if err != nil {
			a.logger.Warn("failed to parse guard_config, using defaults",
				zap.String("fleet_id", row.FleetID),
				zap.Error(err),
			)
			// Don't fail, just run on server defaults.
		} else {
			overrides = parsed
		}
	}

	return &FleetContext{
		FleetID:   row.FleetID,
		Name:      row.Name,
		Overrides: overrides,
	}, nil
}

// handleLookupError maps lookup failures to the two auth error classes.
func (a *PostgresAuthenticator) handleLookupError(lookupErr error) (*FleetContext, error) {
	if errors.Is(lookupErr, ErrInvalidAPIKey) {
		return nil, ErrInvalidAPIKey
	}

	a.logger.Warn("auth DB unreachable",
		zap.Error(lookupErr),
	)
	return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, lookupErr)
}

// parseGuardConfig parses the guard_config JSONB into engine overrides.
func parseGuardConfig(raw string) (*engine.Overrides, error) {
	var o engine.Overrides
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("parseGuardConfig: %w", err)
	}
	return &o, nil
}
