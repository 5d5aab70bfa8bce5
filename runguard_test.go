package runguard

import (
	"context"
	"errors"
	"testing"

	"github.com/runguard-ai/runguard/internal/telemetry"
)

func newGuard(t *testing.T, opts ...Option) *AgentGuard {
	t.Helper()
	base := []Option{
		WithSecretKey([]byte("sdk-test-key")),
		WithSideEffectTools("refund", "send_reply", "cancel"),
	}
	g, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNew_RequiresSecretKey(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("expected construction to fail without a secret key")
	}
}

func TestAgentGuard_RunIDGenerated(t *testing.T) {
	a := newGuard(t)
	b := newGuard(t)
	if a.RunID() == "" || a.RunID() == b.RunID() {
		t.Error("run IDs should be generated and unique")
	}
	if g := newGuard(t, WithRunID("run-42")); g.RunID() != "run-42" {
		t.Errorf("pinned run ID = %q", g.RunID())
	}
}

func TestAgentGuard_TerminalPacketFinalize(t *testing.T) {
	g := newGuard(t)

	d := g.CheckOutput(`{"action":"finalize","reason":"ready","reply_draft":"Your refund has been processed.","escalation":null}`)
	if d == nil || d.Action != Finalize {
		t.Fatalf("got %+v, want finalize", d)
	}
	if d.FinalizedOutput["reply_draft"] != "Your refund has been processed." {
		t.Errorf("finalized output mangled: %+v", d.FinalizedOutput)
	}
}

func TestAgentGuard_TerminalPacketEscalate(t *testing.T) {
	g := newGuard(t)

	d := g.CheckOutput(`{"action":"escalate","reason":"needs human"}`)
	if d == nil || d.Action != Escalate {
		t.Fatalf("got %+v, want escalate", d)
	}
	if d.EscalationPacket["reason"] != "needs human" {
		t.Errorf("escalation packet mangled: %+v", d.EscalationPacket)
	}
}

func TestAgentGuard_PlainOutputPassesThrough(t *testing.T) {
	g := newGuard(t)

	for _, text := range []string{
		"Looking up the order now.",
		`{"action":"keep_going"}`,
		"{not json",
	} {
		if d := g.CheckOutput(text); d != nil {
			t.Errorf("output %q: unexpected decision %+v", text, d)
		}
	}
}

func TestAgentGuard_Counters(t *testing.T) {
	sink := telemetry.NewMemorySink()
	g := newGuard(t, WithTelemetry(sink))

	args := map[string]any{"order_id": "o1", "amount": 10}
	if d := g.CheckTool("refund", args, "t1"); d.Action != Allow {
		t.Fatalf("first refund: %v", d.Action)
	}
	g.RecordResult(true, map[string]any{"status": "refunded"}, "")

	g.CheckTool("refund", args, "t1") // idempotent replay block
	g.CheckTool("refund", args, "t1") // identical loop block

	if g.Blocks() != 2 {
		t.Errorf("Blocks = %d, want 2", g.Blocks())
	}
	if g.SideEffectsExecuted() != 1 {
		t.Errorf("SideEffectsExecuted = %d, want 1", g.SideEffectsExecuted())
	}
	if g.CostSpent() <= 0 {
		t.Error("CostSpent should reflect the pre-charged ALLOW")
	}
	if sink.CostSaved() <= 0 {
		t.Error("blocked calls should report estimated_cost_avoided")
	}
}

func TestWrap_ExecutesAllowedCalls(t *testing.T) {
	g := newGuard(t)

	var executions int
	tool := g.Wrap(func(ctx context.Context, name string, args map[string]any) (any, error) {
		executions++
		return map[string]any{"hits": args["query"]}, nil
	})

	res, err := tool(context.Background(), "search_kb", map[string]any{"query": "q1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || executions != 1 {
		t.Fatalf("tool not executed: res=%v execs=%d", res, executions)
	}

	// Second identical call: served from cache, no execution.
	res, err = tool(context.Background(), "search_kb", map[string]any{"query": "q1"})
	if err != nil {
		t.Fatalf("cached call errored: %v", err)
	}
	if executions != 1 {
		t.Errorf("cache hit executed the tool (execs=%d)", executions)
	}
	if res == nil {
		t.Error("cached payload missing")
	}
	if g.CacheHits() != 1 {
		t.Errorf("CacheHits = %d, want 1", g.CacheHits())
	}
}

func TestWrap_BlockedCallReturnsBlockedError(t *testing.T) {
	g := newGuard(t)

	tool := g.Wrap(func(ctx context.Context, name string, args map[string]any) (any, error) {
		return "refunded", nil
	})

	args := map[string]any{"order_id": "o1"}
	if _, err := tool(context.Background(), "refund", args); err != nil {
		t.Fatalf("first refund should execute: %v", err)
	}

	_, err := tool(context.Background(), "refund", args)
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *BlockedError, got %v", err)
	}
	if blocked.Tool != "refund" {
		t.Errorf("blocked tool = %q", blocked.Tool)
	}
}

func TestWrap_FailureStreakQuarantines(t *testing.T) {
	g := newGuard(t)

	boom := errors.New("upstream timeout")
	var attempt int
	tool := g.Wrap(func(ctx context.Context, name string, args map[string]any) (any, error) {
		attempt++
		return nil, boom
	})

	// Distinct args dodge the exact-repeat detector; three consecutive
	// failures still land the tool in quarantine.
	for i := 0; i < 3; i++ {
		if _, err := tool(context.Background(), "flaky", map[string]any{"attempt": i}); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: err = %v, want tool error", i, err)
		}
	}

	_, err := tool(context.Background(), "flaky", map[string]any{"attempt": 99})
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected quarantine block, got %v", err)
	}
	if attempt != 3 {
		t.Errorf("tool executed %d times, want 3", attempt)
	}
}
