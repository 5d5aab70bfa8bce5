package auth

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// testAPIKey must start with "rgk_" and be >= 8 chars.
const testAPIKey = "rgk_test_valid_key_1234567890abcdef"

// testHash returns a bcrypt hash of testAPIKey using MinCost (fast for tests).
func testHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate bcrypt hash: %v", err)
	}
	return string(hash)
}

// mockStore implements FleetStore for testing.
type mockStore struct {
	row       *fleetRow
	err       error
	callCount atomic.Int32
}

func (m *mockStore) LookupByPrefix(_ context.Context, _ string) (*fleetRow, error) {
	m.callCount.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.row, nil
}

func TestPostgresAuth_CacheMiss_ValidKey(t *testing.T) {
	store := &mockStore{
		row: &fleetRow{
			FleetID:    "fleet_abc",
			Name:       "support",
			APIKeyHash: testHash(t),
		},
	}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	fleet, err := auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if fleet.FleetID != "fleet_abc" {
		t.Errorf("expected fleet_abc, got %s", fleet.FleetID)
	}
	if fleet.Overrides != nil {
		t.Error("expected nil overrides (no guard_config)")
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected 1 DB call, got %d", store.callCount.Load())
	}
}

func TestPostgresAuth_CacheHit_NoDBCall(t *testing.T) {
	store := &mockStore{
		row: &fleetRow{
			FleetID:    "fleet_abc",
			APIKeyHash: testHash(t),
		},
	}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	if _, err := auth.Authenticate(context.Background(), testAPIKey); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if store.callCount.Load() != 1 {
		t.Fatalf("expected 1 DB call after first auth, got %d", store.callCount.Load())
	}

	fleet, err := auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected still 1 DB call (cache hit), got %d", store.callCount.Load())
	}
	if fleet.FleetID != "fleet_abc" {
		t.Errorf("expected fleet_abc from cache, got %s", fleet.FleetID)
	}
}

func TestPostgresAuth_WrongKey_Rejected(t *testing.T) {
	store := &mockStore{
		row: &fleetRow{
			FleetID:    "fleet_abc",
			APIKeyHash: testHash(t), // hash of testAPIKey
		},
	}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	_, err := auth.Authenticate(context.Background(), "rgk_wrong_key_doesnt_match_hash_at_all")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestPostgresAuth_FleetNotFound(t *testing.T) {
	// The real sqlFleetStore converts sql.ErrNoRows to ErrInvalidAPIKey;
	// the mock simulates that.
	store := &mockStore{err: ErrInvalidAPIKey}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	_, err := auth.Authenticate(context.Background(), testAPIKey)
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestPostgresAuth_DBDown_ReturnsUnavailable(t *testing.T) {
	store := &mockStore{err: errors.New("connection refused")}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	_, err := auth.Authenticate(context.Background(), testAPIKey)
	if !errors.Is(err, ErrAuthUnavailable) {
		t.Errorf("expected ErrAuthUnavailable, got: %v", err)
	}
}

func TestPostgresAuth_MissingKey(t *testing.T) {
	store := &mockStore{}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	_, err := auth.Authenticate(context.Background(), "")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got: %v", err)
	}
	if store.callCount.Load() != 0 {
		t.Error("DB should not be called when API key is missing")
	}
}

func TestPostgresAuth_OverridesParsing(t *testing.T) {
	store := &mockStore{
		row: &fleetRow{
			FleetID:    "fleet_tuned",
			APIKeyHash: testHash(t),
			GuardConfig: sql.NullString{
				String: `{"max_cost_per_run": 1.25, "repeat_threshold": 3, "side_effect_tools": ["refund", "cancel"]}`,
				Valid:  true,
			},
		},
	}
	cache := NewAuthCache(1 * time.Minute)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	fleet, err := auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if fleet.Overrides == nil {
		t.Fatal("expected parsed overrides")
	}
	if fleet.Overrides.MaxCostPerRun == nil || *fleet.Overrides.MaxCostPerRun != 1.25 {
		t.Errorf("max_cost_per_run = %v", fleet.Overrides.MaxCostPerRun)
	}
	if fleet.Overrides.RepeatThreshold == nil || *fleet.Overrides.RepeatThreshold != 3 {
		t.Errorf("repeat_threshold = %v", fleet.Overrides.RepeatThreshold)
	}
	if len(fleet.Overrides.SideEffectTools) != 2 {
		t.Errorf("side_effect_tools = %v", fleet.Overrides.SideEffectTools)
	}
}

func TestPostgresAuth_EmptyGuardConfig(t *testing.T) {
	for _, gc := range []sql.NullString{
		{String: "{}", Valid: true},
		{Valid: false},
	} {
		store := &mockStore{
			row: &fleetRow{
				FleetID:     "fleet_plain",
				APIKeyHash:  testHash(t),
				GuardConfig: gc,
			},
		}
		auth := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

		fleet, err := auth.Authenticate(context.Background(), testAPIKey)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if fleet.Overrides != nil {
			t.Errorf("guard_config %+v: expected nil overrides", gc)
		}
	}
}

func TestPostgresAuth_InvalidJSON_FallsBackToDefaults(t *testing.T) {
	store := &mockStore{
		row: &fleetRow{
			FleetID:    "fleet_bad_json",
			APIKeyHash: testHash(t),
			GuardConfig: sql.NullString{
				String: `not valid json!!!`,
				Valid:  true,
			},
		},
	}
	auth := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	fleet, err := auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("expected graceful fallback, got: %v", err)
	}
	if fleet.Overrides != nil {
		t.Error("expected nil overrides for invalid JSON")
	}
}

func TestPostgresAuth_StaleHit_ServesStaleAndRefreshes(t *testing.T) {
	hash := testHash(t)
	store := &mockStore{
		row: &fleetRow{
			FleetID:    "fleet_stale",
			Name:       "before",
			APIKeyHash: hash,
		},
	}
	cache := NewAuthCache(1 * time.Millisecond)
	auth := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	if _, err := auth.Authenticate(context.Background(), testAPIKey); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	store.row = &fleetRow{
		FleetID:    "fleet_stale",
		Name:       "after",
		APIKeyHash: hash,
	}

	// Stale hit returns the old value immediately.
	fleet, err := auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if fleet.Name != "before" {
		t.Errorf("stale hit should return old name, got %q", fleet.Name)
	}

	// Wait for background refresh to land.
	time.Sleep(200 * time.Millisecond)

	fleet, err = auth.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("third call failed: %v", err)
	}
	if fleet.Name != "after" {
		t.Errorf("expected refreshed name, got %q", fleet.Name)
	}
}

// Interface satisfaction, checked at compile time.
var _ Authenticator = (*PostgresAuthenticator)(nil)
var _ Authenticator = (*StaticAuthenticator)(nil)
var _ FleetStore = (*sqlFleetStore)(nil)
