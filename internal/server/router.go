// Package server exposes the guard engine over HTTP for agents that cannot
// embed the SDK in-process.
package server

import (
	"net/http"
	"time"

	"github.com/runguard-ai/runguard/internal/auth"
	"github.com/runguard-ai/runguard/internal/engine"
	"github.com/runguard-ai/runguard/internal/store"
	"github.com/runguard-ai/runguard/internal/telemetry"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store   *store.Store      // nil without Postgres (fleet CRUD disabled)
	Auth    auth.Authenticator
	Sink    telemetry.Sink
	Reader  *telemetry.Reader // nil if ClickHouse unavailable
	Base    engine.Config     // server-wide defaults, fleets layer overrides on top
	Logger  *zap.Logger
	RunTTL  time.Duration // idle runs are dropped after this; default 30m

	runs *runRegistry
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.RunTTL <= 0 {
		deps.RunTTL = 30 * time.Minute
	}
	deps.runs = newRunRegistry(deps.RunTTL)

	mux := http.NewServeMux()

	// Run lifecycle (auth required via Bearer rgk_ token)
	mux.HandleFunc("POST /v1/runs", deps.authMiddleware(deps.handleCreateRun))
	mux.HandleFunc("POST /v1/runs/{run_id}/tool", deps.authMiddleware(deps.handleCheckTool))
	mux.HandleFunc("POST /v1/runs/{run_id}/result", deps.authMiddleware(deps.handleRecordResult))
	mux.HandleFunc("POST /v1/runs/{run_id}/output", deps.authMiddleware(deps.handleCheckOutput))
	mux.HandleFunc("DELETE /v1/runs/{run_id}", deps.authMiddleware(deps.handleDeleteRun))

	// Fleet CRUD (no auth — dashboard auth added later)
	mux.HandleFunc("POST /api/runguard/fleets", deps.handleCreateFleet)
	mux.HandleFunc("GET /api/runguard/fleets", deps.handleListFleets)
	mux.HandleFunc("PATCH /api/runguard/fleets/{fleet_id}/guard-config", deps.handleUpdateGuardConfig)
	mux.HandleFunc("POST /api/runguard/fleets/{fleet_id}/rotate-key", deps.handleRotateKey)

	// Events (no auth)
	mux.HandleFunc("GET /api/runguard/events", deps.handleListEvents)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
