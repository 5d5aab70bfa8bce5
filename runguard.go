package runguard

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/runguard-ai/runguard/internal/engine"
	"github.com/runguard-ai/runguard/internal/telemetry"
)

// Decision and Action alias the engine types so integrations only need this
// package.
type (
	Decision   = engine.Decision
	Action     = engine.Action
	ToolResult = engine.ToolResult
)

// Re-exported actions.
const (
	Allow    = engine.ActionAllow
	Block    = engine.ActionBlock
	Cache    = engine.ActionCache
	Rewrite  = engine.ActionRewrite
	Escalate = engine.ActionEscalate
	Finalize = engine.ActionFinalize
)

// AgentGuard wraps the decision engine for one agent run with a convenient
// call surface. Not safe for concurrent use; a run offers one call or
// output at a time.
type AgentGuard struct {
	guard *engine.Guard
	runID string
}

// New creates a guard for a single run. A secret key is required; every
// other option has a sensible default.
func New(opts ...Option) (*AgentGuard, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	runID := o.runID
	if runID == "" {
		runID = uuid.New().String()
	}

	g, err := engine.New(o.cfg, runID, buildSink(&o), o.logger)
	if err != nil {
		return nil, err
	}
	return &AgentGuard{guard: g, runID: runID}, nil
}

// RunID returns the identifier of the guarded run.
func (a *AgentGuard) RunID() string { return a.runID }

// CheckTool evaluates a tool call. ticketID may be empty.
func (a *AgentGuard) CheckTool(name string, args map[string]any, ticketID string) Decision {
	return a.guard.CheckTool(engine.ToolCall{Name: name, Args: args, TicketID: ticketID})
}

// CheckToolCall evaluates a fully specified tool call, including an
// explicit side-effect flag.
func (a *AgentGuard) CheckToolCall(call engine.ToolCall) Decision {
	return a.guard.CheckTool(call)
}

// RecordResult reports the outcome of the last ALLOWed call.
func (a *AgentGuard) RecordResult(ok bool, payload any, errorCode string) {
	a.guard.RecordResult(ok, payload, errorCode)
}

// CheckOutput inspects one model text output. It first recognizes
// well-formed terminal packets (the finalize schema below), then falls
// through to stall detection. Returns nil when the caller should proceed
// with the output as-is.
//
// Terminal packet schema:
//
//	{"action":"finalize","reason":"...","reply_draft":"...","escalation":null}
//	{"action":"escalate","reason":"...", ...}
func (a *AgentGuard) CheckOutput(text string) *Decision {
	if d := parseTerminalPacket(text); d != nil {
		return d
	}
	return a.guard.CheckOutput(text)
}

// Counters, run-scoped.

// Blocks returns the number of blocked tool calls.
func (a *AgentGuard) Blocks() int { return a.guard.State().Blocks() }

// CacheHits returns the number of calls served from cache.
func (a *AgentGuard) CacheHits() int { return a.guard.State().CacheHits() }

// Rewrites returns the number of corrective rewrites issued.
func (a *AgentGuard) Rewrites() int { return a.guard.State().Rewrites() }

// CostSpent returns the cumulative pre-charged cost in USD.
func (a *AgentGuard) CostSpent() float64 { return a.guard.State().CostSpent() }

// SideEffectsExecuted returns the count of executed side-effecting calls.
func (a *AgentGuard) SideEffectsExecuted() int { return a.guard.State().SideEffectsExecuted() }

// parseTerminalPacket recognizes a structured completion packet in a model
// output. Recognition lives here, on the caller side of the engine
// boundary: the stall detector never interprets content.
func parseTerminalPacket(text string) *Decision {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	var packet map[string]any
	if err := json.Unmarshal([]byte(trimmed), &packet); err != nil {
		return nil
	}

	action, _ := packet["action"].(string)
	switch action {
	case "finalize":
		return &Decision{
			Action:          Finalize,
			Reason:          "terminal_packet",
			FinalizedOutput: packet,
		}
	case "escalate":
		return &Decision{
			Action:           Escalate,
			Reason:           "terminal_packet",
			EscalationPacket: packet,
		}
	default:
		return nil
	}
}

// buildSink assembles the telemetry sink from options. With no explicit
// sink, events go to the logger when one is configured, otherwise nowhere.
func buildSink(o *options) telemetry.Sink {
	if o.sink != nil {
		return o.sink
	}
	if o.logger != nil {
		return telemetry.NewLogSink(o.logger)
	}
	return nil
}
