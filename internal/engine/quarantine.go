package engine

import "time"

// Quarantine reasons.
const (
	ReasonJitterQuarantine = "arg_jitter_loop_quarantine"
	ReasonErrorQuarantine  = "tool_quarantined_error_retry"
)

// quarantineManager tracks tools placed into a blocked state, either by the
// jitter loop detector or by a streak of consecutive execution errors.
// Quarantine is per-tool, not global, and persists independent of cache and
// idempotency state.
type quarantineManager struct {
	ttl         time.Duration // 0 = run lifetime
	streakLimit int

	entries map[string]quarantineEntry
	streaks map[string]int
}

type quarantineEntry struct {
	reason    string
	expiresAt time.Time // zero = never
}

func newQuarantineManager(cfg Config) *quarantineManager {
	return &quarantineManager{
		ttl:         cfg.QuarantineTTL,
		streakLimit: cfg.ErrorStreakThreshold,
		entries:     make(map[string]quarantineEntry),
		streaks:     make(map[string]int),
	}
}

// Quarantined returns the quarantine reason when the tool is currently
// blocked. Expired entries are lifted lazily.
func (q *quarantineManager) Quarantined(tool string, now time.Time) (string, bool) {
	entry, ok := q.entries[tool]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		delete(q.entries, tool)
		return "", false
	}
	return entry.reason, true
}

// Quarantine places a tool into the blocked state.
func (q *quarantineManager) Quarantine(tool, reason string, now time.Time) {
	entry := quarantineEntry{reason: reason}
	if q.ttl > 0 {
		entry.expiresAt = now.Add(q.ttl)
	}
	q.entries[tool] = entry
}

// Lift removes a tool from quarantine and clears its error streak.
func (q *quarantineManager) Lift(tool string) {
	delete(q.entries, tool)
	delete(q.streaks, tool)
}

// RecordFailure bumps the tool's consecutive-error streak and reports
// whether the streak has reached the quarantine threshold. Isolated single
// failures never quarantine a tool.
func (q *quarantineManager) RecordFailure(tool string) bool {
	q.streaks[tool]++
	return q.streaks[tool] >= q.streakLimit
}

// RecordSuccess resets the tool's error streak.
func (q *quarantineManager) RecordSuccess(tool string) {
	delete(q.streaks, tool)
}
