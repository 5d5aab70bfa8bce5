// Package telemetry carries guard events to pluggable observability sinks.
//
// Events hold only tool names, keyed signatures, counts, and costs. Raw tool
// arguments, payloads, and ticket IDs never reach this package; the typed
// Event struct has no field that could hold them.
package telemetry

import (
	"time"

	"go.uber.org/zap"
)

// Event names emitted by the guard core. Exact spelling is part of the
// contract; consumers may match on them.
const (
	EventCacheHit           = "tool_call_cache_hit"
	EventIdenticalLoopBlock = "identical_toolcall_loop_block"
	EventJitterQuarantine   = "arg_jitter_loop_quarantine"
	EventIdempotentReplay   = "idempotent_replay_blocked"
	EventSideEffectLimit    = "side_effect_limit_block"
	EventQuarantinedBlock   = "tool_quarantined_block"
	EventQuarantineError    = "tool_quarantined_error_retry"
	EventBudgetWarning      = "budget_warning"
	EventBudgetExceeded     = "budget_exceeded_escalate"
	EventStallRewrite       = "stall_forced_rewrite"
	EventStallEscalate      = "stall_deterministic_escalate"
	EventCostIncurred       = "cost_incurred"
)

// Event is a single guard occurrence. Unused fields stay zero and sinks
// omit them.
type Event struct {
	Name      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`

	RunID   string `json:"run_id,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Reason  string `json:"reason,omitempty"`
	CallSig string `json:"call_sig,omitempty"` // keyed hash, never raw args

	Amount     float64 `json:"amount,omitempty"`
	Cumulative float64 `json:"cumulative,omitempty"`
	Limit      float64 `json:"limit,omitempty"`
	Pct        float64 `json:"pct,omitempty"`

	// CostAvoided estimates spend prevented by a block or cache hit.
	CostAvoided float64 `json:"estimated_cost_avoided,omitempty"`

	Count int `json:"count,omitempty"`
}

// Sink is the interface for telemetry backends. Emit must not block for
// long; slow backends should buffer internally.
type Sink interface {
	Emit(e Event)
}

// Facade is the thin layer the guard talks to. It stamps timestamps and
// absorbs sink panics so an observability outage can never change or delay
// a policy decision.
type Facade struct {
	sink   Sink
	logger *zap.Logger
}

// NewFacade wraps a sink. A nil sink yields a facade that drops everything.
func NewFacade(sink Sink, logger *zap.Logger) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{sink: sink, logger: logger}
}

// Emit delivers the event to the sink, best effort.
func (f *Facade) Emit(e Event) {
	if f == nil || f.sink == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	defer func() {
		if r := recover(); r != nil {
			f.logger.Warn("telemetry sink panicked", zap.Any("panic", r))
		}
	}()
	f.sink.Emit(e)
}
