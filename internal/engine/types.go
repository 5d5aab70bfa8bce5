package engine

// Action is the policy decision the guard hands back to the orchestrator.
type Action int

const (
	ActionAllow    Action = iota + 1 // proceed with the tool call / continue
	ActionBlock                      // block the tool call (safe fail)
	ActionCache                      // return the cached result, do not execute
	ActionRewrite                    // inject a system message and re-run the model
	ActionEscalate                   // terminate the run with an escalation packet
	ActionFinalize                   // terminate the run with a finalized output
)

// String returns the lowercase action name.
func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionBlock:
		return "block"
	case ActionCache:
		return "cache"
	case ActionRewrite:
		return "rewrite"
	case ActionEscalate:
		return "escalate"
	case ActionFinalize:
		return "finalize"
	default:
		return "unspecified"
	}
}

// Terminal reports whether the action ends the run.
func (a Action) Terminal() bool {
	return a == ActionEscalate || a == ActionFinalize
}

// ToolCall is a structured tool call request.
//
// Args and TicketID may contain PII. The guard never persists or emits them;
// it retains only keyed signatures (see CallSig).
type ToolCall struct {
	Name     string
	Args     map[string]any
	TicketID string

	// SideEffect overrides the configured side-effect tool set when non-nil.
	SideEffect *bool

	// IdempotencyKey is set deterministically by the guard on ALLOW. Tool
	// implementations may or may not honor it; the guard enforces
	// idempotency regardless.
	IdempotencyKey string
}

// ToolResult is a structured tool result.
//
// Payload may contain PII and stays caller-owned; PayloadSig is the safe
// keyed signature computed by the guard.
type ToolResult struct {
	OK        bool
	Payload   any
	ErrorCode string

	PayloadSig string

	// Cached is true when the result came from the guard's cache rather
	// than a tool execution.
	Cached bool

	// SideEffectExecuted is true when a side-effecting tool actually ran.
	SideEffectExecuted bool
}

// CallSig is the PII-safe signature representation of a tool call. It holds
// no raw args or ticket ID, only keyed HMAC hashes, and is the only form of
// a call the guard retains. Comparable by value.
type CallSig struct {
	Name       string
	ArgsSig    string
	TicketSig  string
	SideEffect bool
}

// Decision is the return value of guard decision methods.
type Decision struct {
	Action Action
	Reason string

	// InjectedSystem carries the corrective system message for REWRITE.
	InjectedSystem string

	// CachedResult carries the stored result for CACHE.
	CachedResult *ToolResult

	// IdempotencyKey is set on ALLOW for side-effecting calls. Executors
	// may forward it to their backend; the guard enforces idempotency
	// either way.
	IdempotencyKey string

	// FinalizedOutput / EscalationPacket carry terminal payloads.
	FinalizedOutput  map[string]any
	EscalationPacket map[string]any
}

// CostEvent is a single cost tracking record. Emitted, never retained.
type CostEvent struct {
	Event      string // "cost_incurred", "budget_warning", "budget_exceeded"
	Tool       string
	Amount     float64 // USD
	Cumulative float64 // USD running total
	Limit      float64
	Pct        float64
}
