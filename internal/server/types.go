package server

import (
	"encoding/json"
	"time"

	"github.com/runguard-ai/runguard/internal/engine"
)

// --- Run lifecycle ---

// CreateRunReq is the JSON body for POST /v1/runs.
type CreateRunReq struct {
	RunID string `json:"run_id,omitempty"` // generated when empty
}

// CreateRunResp returns the run handle.
type CreateRunResp struct {
	RunID         string  `json:"run_id"`
	FleetID       string  `json:"fleet_id"`
	MaxCostPerRun float64 `json:"max_cost_per_run"`
}

// ToolCheckReq is the JSON body for POST /v1/runs/{run_id}/tool.
type ToolCheckReq struct {
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args,omitempty"`
	TicketID string         `json:"ticket_id,omitempty"`
	// SideEffect overrides the configured side-effect tool set when present.
	SideEffect *bool `json:"side_effect,omitempty"`
}

// RecordResultReq is the JSON body for POST /v1/runs/{run_id}/result.
type RecordResultReq struct {
	OK        bool            `json:"ok"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// OutputCheckReq is the JSON body for POST /v1/runs/{run_id}/output.
type OutputCheckReq struct {
	Text string `json:"text"`
}

// DecisionResp is the JSON shape of a guard decision.
type DecisionResp struct {
	Action         string `json:"action"`
	Reason         string `json:"reason,omitempty"`
	InjectedSystem string `json:"injected_system,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	CachedPayload json.RawMessage `json:"cached_payload,omitempty"`

	FinalizedOutput  map[string]any `json:"finalized_output,omitempty"`
	EscalationPacket map[string]any `json:"escalation_packet,omitempty"`
}

// RunStatsResp summarizes a run's counters, returned on DELETE.
type RunStatsResp struct {
	RunID               string  `json:"run_id"`
	Blocks              int     `json:"blocks"`
	CacheHits           int     `json:"cache_hits"`
	Rewrites            int     `json:"rewrites"`
	CostSpent           float64 `json:"cost_spent"`
	SideEffectsExecuted int     `json:"side_effects_executed"`
	TerminalReason      string  `json:"terminal_reason,omitempty"`
}

// --- Fleet CRUD ---

// CreateFleetReq is the JSON body for POST /api/runguard/fleets.
type CreateFleetReq struct {
	Name        string          `json:"name"`
	GuardConfig json.RawMessage `json:"guard_config,omitempty"`
}

// CreateFleetResp includes the plaintext API key (shown once).
type CreateFleetResp struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	APIKey       string          `json:"api_key"`
	APIKeyPrefix string          `json:"api_key_prefix"`
	GuardConfig  json.RawMessage `json:"guard_config"`
	CreatedAt    time.Time       `json:"created_at"`
}

// FleetResp is a fleet without the plaintext key.
type FleetResp struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	APIKeyPrefix string          `json:"api_key_prefix"`
	GuardConfig  json.RawMessage `json:"guard_config"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// UpdateGuardConfigReq is the JSON body for PATCH .../guard-config.
type UpdateGuardConfigReq struct {
	GuardConfig json.RawMessage `json:"guard_config"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Events ---

// EventListResp wraps the events query result.
type EventListResp struct {
	Events []EventResp `json:"events"`
	Total  int         `json:"total"`
}

// EventResp is one guard event row.
type EventResp struct {
	Event       string    `json:"event"`
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"run_id"`
	Tool        string    `json:"tool,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CallSig     string    `json:"call_sig,omitempty"`
	Amount      float64   `json:"amount,omitempty"`
	Cumulative  float64   `json:"cumulative,omitempty"`
	Limit       float64   `json:"limit,omitempty"`
	Pct         float64   `json:"pct,omitempty"`
	CostAvoided float64   `json:"estimated_cost_avoided,omitempty"`
	Count       int       `json:"count,omitempty"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// decisionToResp converts an engine decision to the wire shape. Cached
// payloads are re-marshalled; the guard only ever stored what the caller
// posted through RecordResult.
func decisionToResp(d engine.Decision) DecisionResp {
	resp := DecisionResp{
		Action:           d.Action.String(),
		Reason:           d.Reason,
		InjectedSystem:   d.InjectedSystem,
		IdempotencyKey:   d.IdempotencyKey,
		FinalizedOutput:  d.FinalizedOutput,
		EscalationPacket: d.EscalationPacket,
	}
	if d.CachedResult != nil {
		if raw, ok := d.CachedResult.Payload.(json.RawMessage); ok {
			resp.CachedPayload = raw
		} else if b, err := json.Marshal(d.CachedResult.Payload); err == nil {
			resp.CachedPayload = b
		}
	}
	return resp
}
