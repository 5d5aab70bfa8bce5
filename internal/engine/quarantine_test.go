package engine

import (
	"testing"
	"time"
)

func quarantineConfig() Config {
	cfg := DefaultConfig()
	cfg.SecretKey = []byte("k")
	cfg.ErrorStreakThreshold = 3
	return cfg
}

func TestQuarantineManager_EnterAndCheck(t *testing.T) {
	q := newQuarantineManager(quarantineConfig())
	now := time.Now()

	if _, ok := q.Quarantined("search_kb", now); ok {
		t.Fatal("fresh manager reports quarantine")
	}

	q.Quarantine("search_kb", ReasonJitterQuarantine, now)

	reason, ok := q.Quarantined("search_kb", now.Add(time.Hour))
	if !ok || reason != ReasonJitterQuarantine {
		t.Errorf("Quarantined = (%q, %v), want jitter reason", reason, ok)
	}
	if _, ok := q.Quarantined("refund", now); ok {
		t.Error("quarantine leaked to another tool")
	}
}

func TestQuarantineManager_Expiry(t *testing.T) {
	cfg := quarantineConfig()
	cfg.QuarantineTTL = time.Minute
	q := newQuarantineManager(cfg)
	now := time.Now()

	q.Quarantine("search_kb", ReasonJitterQuarantine, now)

	if _, ok := q.Quarantined("search_kb", now.Add(30*time.Second)); !ok {
		t.Error("quarantine lifted before expiry")
	}
	if _, ok := q.Quarantined("search_kb", now.Add(2*time.Minute)); ok {
		t.Error("quarantine enforced past expiry")
	}
}

func TestQuarantineManager_ErrorStreak(t *testing.T) {
	q := newQuarantineManager(quarantineConfig())

	// Isolated failures never quarantine.
	if q.RecordFailure("flaky") {
		t.Fatal("single failure reached the streak threshold")
	}
	if q.RecordFailure("flaky") {
		t.Fatal("two failures reached the streak threshold")
	}
	if !q.RecordFailure("flaky") {
		t.Fatal("three consecutive failures should reach the threshold")
	}
}

func TestQuarantineManager_SuccessResetsStreak(t *testing.T) {
	q := newQuarantineManager(quarantineConfig())

	q.RecordFailure("flaky")
	q.RecordFailure("flaky")
	q.RecordSuccess("flaky")

	if q.RecordFailure("flaky") {
		t.Error("streak not reset by an intervening success")
	}
}

func TestQuarantineManager_Lift(t *testing.T) {
	q := newQuarantineManager(quarantineConfig())
	now := time.Now()

	q.Quarantine("search_kb", ReasonErrorQuarantine, now)
	q.Lift("search_kb")

	if _, ok := q.Quarantined("search_kb", now); ok {
		t.Error("lifted tool still quarantined")
	}
}
