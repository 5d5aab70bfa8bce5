// Package engine is the decision core of runguard: a runtime guard that sits
// between an autonomous AI agent and the tools it can invoke. For each tool
// call and each model output within one run it returns exactly one policy
// decision, combining loop detection, cost budgeting, idempotency
// enforcement, tool quarantine, and stall detection behind a fixed priority
// order.
//
// The engine never executes tools itself and performs no I/O on any decision
// path. Callers execute ALLOWed calls and report outcomes back through
// RecordResult.
package engine

import (
	"time"

	"github.com/runguard-ai/runguard/internal/telemetry"
	"go.uber.org/zap"
)

// Block and escalate reasons surfaced on decisions. They double as telemetry
// event names.
const (
	ReasonIdenticalLoop   = "identical_toolcall_loop_block"
	ReasonIdempotent      = "idempotent_replay_blocked"
	ReasonCacheHit        = "tool_call_cache_hit"
	ReasonSideEffectLimit = "side_effect_limit_block"
	ReasonQuarantined     = "tool_quarantined_block"
	ReasonBudgetExceeded  = "budget_exceeded_escalate"
	ReasonStallRewrite    = "stall_forced_rewrite"
	ReasonStallEscalate   = "stall_deterministic_escalate"
)

// stallRewriteInstruction is injected as a system message on the first stall.
const stallRewriteInstruction = "You are repeating yourself without making progress. " +
	"Either take a concrete action (call a tool) or produce your terminal packet now: " +
	`respond with JSON {"action":"finalize",...} or {"action":"escalate",...}.`

// Guard is the per-run decision engine. Calls must be offered sequentially;
// one agent issues one tool call or output at a time within a run. Multiple
// runs each get their own Guard and share nothing mutable.
type Guard struct {
	cfg    Config
	signer *Signer
	tel    *telemetry.Facade
	logger *zap.Logger
	state  *State

	runID string
	now   func() time.Time
}

// New builds a Guard for a single run. Configuration errors (missing secret
// key, malformed cost model) fail here, never at decision time.
func New(cfg Config, runID string, sink telemetry.Sink, logger *zap.Logger) (*Guard, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	signer, err := NewSigner(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		cfg:    cfg,
		signer: signer,
		tel:    telemetry.NewFacade(sink, logger),
		logger: logger,
		state:  newState(cfg),
		runID:  runID,
		now:    time.Now,
	}, nil
}

// State exposes the run-scoped counters.
func (g *Guard) State() *State { return g.state }

// Config returns the effective (normalized) configuration.
func (g *Guard) Config() Config { return g.cfg }

// CheckTool evaluates one tool call against all detectors in fixed priority
// order: quarantine, exact-repeat loop, argument-jitter loop, idempotent
// replay, cache hit, side-effect ceiling, cost budget. The first matching
// rule short-circuits; otherwise the estimated cost is pre-charged and the
// call is ALLOWed.
func (g *Guard) CheckTool(call ToolCall) Decision {
	now := g.now()

	if g.state.terminalReason != "" {
		return Decision{
			Action:           ActionEscalate,
			Reason:           g.state.terminalReason,
			EscalationPacket: g.escalationPacket(g.state.terminalReason, call.Name),
		}
	}

	sideEffect := g.cfg.SideEffectTools[call.Name]
	if call.SideEffect != nil {
		sideEffect = *call.SideEffect
	}
	sig := g.signer.SignCall(call, sideEffect)

	// Every checked call enters the history, blocked or not, so repeat
	// counts keep growing while the agent keeps retrying.
	defer g.state.loops.Observe(sig, now)

	estimate := g.state.ledger.Estimate(call.Name)

	// 1. Quarantine short-circuits everything else.
	if reason, ok := g.state.quarantine.Quarantined(call.Name, now); ok {
		g.state.blocks++
		g.tel.Emit(telemetry.Event{
			Name:        telemetry.EventQuarantinedBlock,
			RunID:       g.runID,
			Tool:        call.Name,
			Reason:      reason,
			CallSig:     sig.ArgsSig,
			CostAvoided: estimate,
		})
		return Decision{Action: ActionBlock, Reason: ReasonQuarantined}
	}

	// 2. Exact-repeat loop: same tool, same args, same ticket. Applies to
	// read-only calls too; caching would otherwise mask a read-path loop.
	if repeats := g.state.loops.ExactRepeats(sig); repeats >= g.cfg.RepeatThreshold {
		g.state.blocks++
		g.tel.Emit(telemetry.Event{
			Name:        telemetry.EventIdenticalLoopBlock,
			RunID:       g.runID,
			Tool:        call.Name,
			CallSig:     sig.ArgsSig,
			Count:       repeats,
			CostAvoided: estimate,
		})
		return Decision{Action: ActionBlock, Reason: ReasonIdenticalLoop}
	}

	// 3. Argument-jitter loop: too many distinct variants of this tool.
	// The triggering call is blocked and the tool is quarantined for the
	// rest of the run.
	if g.state.loops.JitterExceeded(sig) {
		g.state.quarantine.Quarantine(call.Name, ReasonJitterQuarantine, now)
		g.state.blocks++
		g.tel.Emit(telemetry.Event{
			Name:        telemetry.EventJitterQuarantine,
			RunID:       g.runID,
			Tool:        call.Name,
			Count:       g.state.loops.DistinctVariants(call.Name),
			CostAvoided: estimate,
		})
		return Decision{Action: ActionBlock, Reason: ReasonJitterQuarantine}
	}

	if sideEffect {
		// 4. Idempotent replay: this exact side effect already executed
		// successfully. Never runs twice for the same fingerprint, even
		// after cache expiry.
		if g.state.cache.Replayed(sig) {
			g.state.blocks++
			g.tel.Emit(telemetry.Event{
				Name:        telemetry.EventIdempotentReplay,
				RunID:       g.runID,
				Tool:        call.Name,
				CallSig:     sig.ArgsSig,
				CostAvoided: estimate,
			})
			return Decision{Action: ActionBlock, Reason: ReasonIdempotent}
		}
	} else {
		// 5. Cache hit for read-only calls.
		if res, ok := g.state.cache.Get(sig, now); ok {
			g.state.cacheHits++
			g.tel.Emit(telemetry.Event{
				Name:        telemetry.EventCacheHit,
				RunID:       g.runID,
				Tool:        call.Name,
				CallSig:     sig.ArgsSig,
				CostAvoided: estimate,
			})
			return Decision{Action: ActionCache, Reason: ReasonCacheHit, CachedResult: res}
		}
	}

	// 6. Global side-effect ceiling bounds worst-case damage from an agent
	// that varies arguments to evade idempotency checks.
	if sideEffect && g.state.sideEffectsExecuted >= g.cfg.SideEffectCeiling {
		g.state.blocks++
		g.tel.Emit(telemetry.Event{
			Name:        telemetry.EventSideEffectLimit,
			RunID:       g.runID,
			Tool:        call.Name,
			Count:       g.state.sideEffectsExecuted,
			CostAvoided: estimate,
		})
		return Decision{Action: ActionBlock, Reason: ReasonSideEffectLimit}
	}

	// 7. Cost budget, pre-charged before ALLOW is granted.
	for _, ev := range g.state.ledger.Charge(call.Name, estimate) {
		switch ev.Event {
		case "cost_incurred":
			g.tel.Emit(telemetry.Event{
				Name:       telemetry.EventCostIncurred,
				RunID:      g.runID,
				Tool:       ev.Tool,
				Amount:     ev.Amount,
				Cumulative: ev.Cumulative,
			})
		case "budget_warning":
			g.tel.Emit(telemetry.Event{
				Name:       telemetry.EventBudgetWarning,
				RunID:      g.runID,
				Tool:       ev.Tool,
				Amount:     ev.Amount,
				Cumulative: ev.Cumulative,
				Limit:      ev.Limit,
				Pct:        ev.Pct,
			})
		case "budget_exceeded":
			g.state.terminalReason = ReasonBudgetExceeded
			g.tel.Emit(telemetry.Event{
				Name:       telemetry.EventBudgetExceeded,
				RunID:      g.runID,
				Tool:       ev.Tool,
				Amount:     ev.Amount,
				Cumulative: ev.Cumulative,
				Limit:      ev.Limit,
				Pct:        ev.Pct,
			})
		}
	}
	if g.state.ledger.Exceeded() {
		return Decision{
			Action:           ActionEscalate,
			Reason:           ReasonBudgetExceeded,
			EscalationPacket: g.escalationPacket(ReasonBudgetExceeded, call.Name),
		}
	}

	g.state.pending = &pendingCall{
		sig:        sig,
		tool:       call.Name,
		sideEffect: sideEffect,
		amount:     estimate,
	}

	d := Decision{Action: ActionAllow, Reason: "allowed"}
	if sideEffect {
		// Deterministic key the executor may forward to its backend.
		d.IdempotencyKey = sig.ArgsSig
	}
	return d
}

// RecordResult reports the outcome of the last ALLOWed call. Successful
// read-only results enter the cache; successful side effects enter the
// idempotency ledger; failures feed the per-tool error streak, quarantining
// the tool once the streak reaches the configured threshold.
func (g *Guard) RecordResult(ok bool, payload any, errorCode string) {
	pending := g.state.pending
	if pending == nil {
		g.logger.Warn("record_result without a pending allowed call")
		return
	}
	g.state.pending = nil
	now := g.now()

	var payloadSig string
	if payload != nil {
		payloadSig = g.signer.Sign(payload)
	}

	if !ok {
		if g.state.quarantine.RecordFailure(pending.tool) {
			g.state.quarantine.Quarantine(pending.tool, ReasonErrorQuarantine, now)
			g.tel.Emit(telemetry.Event{
				Name:   telemetry.EventQuarantineError,
				RunID:  g.runID,
				Tool:   pending.tool,
				Reason: errorCode,
			})
		}
		return
	}

	g.state.quarantine.RecordSuccess(pending.tool)

	if pending.sideEffect {
		g.state.cache.MarkExecuted(pending.sig)
		g.state.sideEffectsExecuted++
		return
	}

	g.state.cache.Put(pending.sig, ToolResult{
		OK:         true,
		Payload:    payload,
		PayloadSig: payloadSig,
	}, now)
}

// CheckOutput feeds one model text output to the stall detector. Returns nil
// when the caller should proceed with the output as-is.
func (g *Guard) CheckOutput(text string) *Decision {
	switch g.state.stall.Observe(text) {
	case stallRewrite:
		g.state.rewrites++
		g.tel.Emit(telemetry.Event{
			Name:  telemetry.EventStallRewrite,
			RunID: g.runID,
		})
		return &Decision{
			Action:         ActionRewrite,
			Reason:         ReasonStallRewrite,
			InjectedSystem: stallRewriteInstruction,
		}
	case stallEscalate:
		g.state.terminalReason = ReasonStallEscalate
		g.tel.Emit(telemetry.Event{
			Name:  telemetry.EventStallEscalate,
			RunID: g.runID,
		})
		return &Decision{
			Action:           ActionEscalate,
			Reason:           ReasonStallEscalate,
			EscalationPacket: g.escalationPacket(ReasonStallEscalate, ""),
		}
	default:
		return nil
	}
}

// escalationPacket builds the terminal payload handed back on ESCALATE.
// Safe fields only.
func (g *Guard) escalationPacket(reason, tool string) map[string]any {
	packet := map[string]any{
		"reason":                reason,
		"run_id":                g.runID,
		"cost_spent":            g.state.ledger.Spent(),
		"blocks":                g.state.blocks,
		"cache_hits":            g.state.cacheHits,
		"rewrites":              g.state.rewrites,
		"side_effects_executed": g.state.sideEffectsExecuted,
	}
	if tool != "" {
		packet["tool"] = tool
	}
	return packet
}
