package server

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/runguard-ai/runguard/internal/engine"
	"go.uber.org/zap"
)

// runEntry pairs a guard with the fleet that owns it.
type runEntry struct {
	guard    *engine.Guard
	fleetID  string
	lastSeen time.Time
}

// runRegistry tracks live runs. Idle entries are swept lazily on create so
// abandoned runs cannot grow the map without bound.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*runEntry
	ttl  time.Duration
}

func newRunRegistry(ttl time.Duration) *runRegistry {
	return &runRegistry{runs: make(map[string]*runEntry), ttl: ttl}
}

func (r *runRegistry) add(runID, fleetID string, g *engine.Guard) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, entry := range r.runs {
		if now.Sub(entry.lastSeen) > r.ttl {
			delete(r.runs, id)
		}
	}

	if _, exists := r.runs[runID]; exists {
		return false
	}
	r.runs[runID] = &runEntry{guard: g, fleetID: fleetID, lastSeen: now}
	return true
}

// get returns the guard for runID if it belongs to fleetID.
func (r *runRegistry) get(runID, fleetID string) *engine.Guard {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[runID]
	if !ok || entry.fleetID != fleetID {
		return nil
	}
	entry.lastSeen = time.Now()
	return entry.guard
}

func (r *runRegistry) remove(runID, fleetID string) *engine.Guard {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[runID]
	if !ok || entry.fleetID != fleetID {
		return nil
	}
	delete(r.runs, runID)
	return entry.guard
}

// --- Handlers ---

func (d *Dependencies) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	fleet := fleetFromContext(r.Context())

	// An empty body means "generate everything".
	var req CreateRunReq
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	cfg := fleet.Overrides.Apply(d.Base)
	g, err := engine.New(cfg, runID, d.Sink, d.Logger)
	if err != nil {
		d.Logger.Error("failed to build guard", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create run"})
		return
	}

	if !d.runs.add(runID, fleet.FleetID, g) {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Run already exists"})
		return
	}

	writeJSON(w, http.StatusCreated, CreateRunResp{
		RunID:         runID,
		FleetID:       fleet.FleetID,
		MaxCostPerRun: cfg.MaxCostPerRun,
	})
}

func (d *Dependencies) handleCheckTool(w http.ResponseWriter, r *http.Request) {
	fleet := fleetFromContext(r.Context())
	g := d.runs.get(r.PathValue("run_id"), fleet.FleetID)
	if g == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Run not found"})
		return
	}

	var req ToolCheckReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tool is required"})
		return
	}

	decision := g.CheckTool(engine.ToolCall{
		Name:       req.Tool,
		Args:       req.Args,
		TicketID:   req.TicketID,
		SideEffect: req.SideEffect,
	})
	writeJSON(w, http.StatusOK, decisionToResp(decision))
}

func (d *Dependencies) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	fleet := fleetFromContext(r.Context())
	g := d.runs.get(r.PathValue("run_id"), fleet.FleetID)
	if g == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Run not found"})
		return
	}

	var req RecordResultReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	g.RecordResult(req.OK, payload, req.ErrorCode)
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (d *Dependencies) handleCheckOutput(w http.ResponseWriter, r *http.Request) {
	fleet := fleetFromContext(r.Context())
	g := d.runs.get(r.PathValue("run_id"), fleet.FleetID)
	if g == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Run not found"})
		return
	}

	var req OutputCheckReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	decision := g.CheckOutput(req.Text)
	if decision == nil {
		writeJSON(w, http.StatusOK, DecisionResp{Action: engine.ActionAllow.String()})
		return
	}
	writeJSON(w, http.StatusOK, decisionToResp(*decision))
}

func (d *Dependencies) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	fleet := fleetFromContext(r.Context())
	runID := r.PathValue("run_id")
	g := d.runs.remove(runID, fleet.FleetID)
	if g == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Run not found"})
		return
	}

	st := g.State()
	writeJSON(w, http.StatusOK, RunStatsResp{
		RunID:               runID,
		Blocks:              st.Blocks(),
		CacheHits:           st.CacheHits(),
		Rewrites:            st.Rewrites(),
		CostSpent:           st.CostSpent(),
		SideEffectsExecuted: st.SideEffectsExecuted(),
		TerminalReason:      st.Terminated(),
	})
}
