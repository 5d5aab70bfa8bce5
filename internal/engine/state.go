package engine

// State is the single mutable object scoped to one agent run. It is created
// once per run, mutated only by the owning Guard, and discarded when the run
// ends. Never shared or reused across runs; counters live here rather than
// in process-wide globals so concurrent runs cannot interfere.
type State struct {
	loops      *loopDetector
	cache      *resultCache
	quarantine *quarantineManager
	stall      *stallDetector
	ledger     *costLedger

	// pending is the last ALLOWed call, awaiting RecordResult.
	pending *pendingCall

	sideEffectsExecuted int

	// terminalReason is set once a terminal decision has been made; every
	// later tool check short-circuits to ESCALATE with this reason.
	terminalReason string

	// Counters exposed to callers.
	blocks    int
	cacheHits int
	rewrites  int
}

type pendingCall struct {
	sig        CallSig
	tool       string
	sideEffect bool
	amount     float64
}

func newState(cfg Config) *State {
	return &State{
		loops:      newLoopDetector(cfg),
		cache:      newResultCache(cfg),
		quarantine: newQuarantineManager(cfg),
		stall:      newStallDetector(cfg),
		ledger:     newCostLedger(cfg),
	}
}

// Blocks returns how many tool calls were blocked this run.
func (s *State) Blocks() int { return s.blocks }

// CacheHits returns how many calls were served from cache this run.
func (s *State) CacheHits() int { return s.cacheHits }

// Rewrites returns how many corrective rewrites were issued this run.
func (s *State) Rewrites() int { return s.rewrites }

// CostSpent returns the cumulative charged cost in USD.
func (s *State) CostSpent() float64 { return s.ledger.Spent() }

// SideEffectsExecuted returns the count of successfully executed
// side-effecting calls.
func (s *State) SideEffectsExecuted() int { return s.sideEffectsExecuted }

// Terminated returns the terminal reason, or "" while the run is live.
func (s *State) Terminated() string { return s.terminalReason }
