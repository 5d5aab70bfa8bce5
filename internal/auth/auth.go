// Package auth validates API keys and resolves them to fleet contexts.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/runguard-ai/runguard/internal/engine"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// FleetContext holds the authenticated fleet's identity and guard overrides.
type FleetContext struct {
	FleetID   string
	Name      string
	Overrides *engine.Overrides // nil means server defaults
}

// Authenticator validates an API key and returns the fleet it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*FleetContext, error)
}

// ExtractBearerToken pulls the token out of an Authorization header value.
// The "Bearer" scheme is case-insensitive per RFC 6750.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAPIKey
	}
	token := header
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, "rgk_") {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// StaticAuthenticator validates against a single key configured at startup.
// Used for single-tenant deployments without Postgres.
type StaticAuthenticator struct {
	key       string
	fleetName string
}

func NewStaticAuthenticator(key, fleetName string) *StaticAuthenticator {
	return &StaticAuthenticator{key: key, fleetName: fleetName}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*FleetContext, error) {
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.key)) != 1 {
		return nil, ErrInvalidAPIKey
	}
	return &FleetContext{FleetID: "fleet_static", Name: a.fleetName}, nil
}
