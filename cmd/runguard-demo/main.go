// Command runguard-demo replays a scripted broken support agent three ways:
// unguarded, behind a naive call limit, and behind runguard. It prints a
// comparison table and optionally writes a JSON report.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runguard-ai/runguard"
)

const toolCallCost = 0.04

// step is one scripted agent action: a tool call or a model output.
type step struct {
	kind     string // "tool" or "llm"
	tool     string
	args     map[string]any
	ticketID string
	text     string
}

// badAgentSteps scripts a broken agent: triple refund, jitter search,
// apology loop, then a finalize packet it never reaches unguarded.
func badAgentSteps() []step {
	var steps []step

	for i := 0; i < 3; i++ {
		steps = append(steps, step{
			kind:     "tool",
			tool:     "refund",
			args:     map[string]any{"order_id": "o1", "amount": 10},
			ticketID: "t1",
		})
	}

	queries := []string{
		"refund policy", "refund policy EU", "refund policy Germany",
		"refund policy EU Germany", "refund policy EU Germany 2024",
		"refund policy EU Germany 2024", "refund policy EU Germany 2024",
		"refund policy EU Germany 2024",
	}
	for _, q := range queries {
		steps = append(steps, step{kind: "tool", tool: "search_kb", args: map[string]any{"query": q}})
	}

	for i := 0; i < 6; i++ {
		steps = append(steps, step{kind: "llm", text: "I apologize for the inconvenience. We're looking into it."})
	}

	steps = append(steps, step{
		kind: "llm",
		text: `{"action":"finalize","reason":"ready","reply_draft":"Your refund has been processed.","escalation":null}`,
	})
	return steps
}

func mockExecute(name string, args map[string]any) map[string]any {
	switch name {
	case "refund":
		out := map[string]any{"status": "refunded"}
		for k, v := range args {
			out[k] = v
		}
		return out
	case "search_kb":
		query, _ := args["query"].(string)
		return map[string]any{"hits": []string{"KB:" + query}}
	default:
		return map[string]any{"status": "ok"}
	}
}

type row struct {
	name       string
	calls      int
	sideFx     int
	blocks     int
	cache      int
	rewrites   int
	cost       float64
	terminated string
}

func runNoGuard() row {
	var executed, sideFx int
	for _, s := range badAgentSteps() {
		if s.kind != "tool" {
			continue
		}
		mockExecute(s.tool, s.args)
		executed++
		if s.tool == "refund" {
			sideFx++
		}
	}
	return row{name: "no_guard", calls: executed, sideFx: sideFx, cost: float64(executed) * toolCallCost}
}

func runCallLimit(limit int) row {
	var executed, sideFx int
	var terminated string
	for _, s := range badAgentSteps() {
		if s.kind != "tool" {
			continue
		}
		if executed >= limit {
			terminated = "call_limit"
			break
		}
		mockExecute(s.tool, s.args)
		executed++
		if s.tool == "refund" {
			sideFx++
		}
	}
	return row{
		name: fmt.Sprintf("call_limit(%d)", limit), calls: executed, sideFx: sideFx,
		cost: float64(executed) * toolCallCost, terminated: terminated,
	}
}

func runGuarded() row {
	guard, err := runguard.New(
		runguard.WithSecretKey([]byte("runguard_demo_key")),
		runguard.WithMaxCostPerRun(0.50),
		runguard.WithSideEffectTools("refund", "send_reply", "cancel"),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runguard-demo: %v\n", err)
		os.Exit(1)
	}

	var executed, sideFx int
	var terminated string

	for _, s := range badAgentSteps() {
		if terminated != "" {
			break
		}
		if s.kind == "tool" {
			d := guard.CheckTool(s.tool, s.args, s.ticketID)
			switch d.Action {
			case runguard.Allow:
				result := mockExecute(s.tool, s.args)
				guard.RecordResult(true, result, "")
				executed++
				if s.tool == "refund" {
					sideFx++
				}
			case runguard.Escalate, runguard.Finalize:
				terminated = d.Action.String()
			}
		} else {
			if d := guard.CheckOutput(s.text); d != nil && d.Action.Terminal() {
				terminated = d.Action.String()
			}
		}
	}

	return row{
		name: "runguard", calls: executed, sideFx: sideFx,
		blocks: guard.Blocks(), cache: guard.CacheHits(), rewrites: guard.Rewrites(),
		cost: guard.CostSpent(), terminated: terminated,
	}
}

func main() {
	jsonOut := flag.String("json", "", "write a JSON report to this path")
	flag.Parse()

	a := runNoGuard()
	b := runCallLimit(5)
	c := runGuarded()

	fmt.Println()
	fmt.Println(strings.Repeat("=", 64))
	fmt.Println("  runguard — Triage Simulation Demo")
	fmt.Println(strings.Repeat("=", 64))
	fmt.Printf("  Assumed tool-call cost: $%.2f per call\n\n", toolCallCost)

	const format = "  %-24s %6v %7v %7v %7v %8s  %s\n"
	fmt.Printf(format, "Variant", "Calls", "SideFX", "Blocks", "Cache", "Cost", "Terminated")
	fmt.Println("  " + strings.Repeat("-", 72))

	for _, r := range []row{a, b, c} {
		terminated := r.terminated
		if terminated == "" {
			terminated = "-"
		}
		fmt.Printf(format, r.name, r.calls, r.sideFx, r.blocks, r.cache,
			fmt.Sprintf("$%.2f", r.cost), terminated)
	}

	saved := a.cost - c.cost
	pct := 0.0
	if a.cost > 0 {
		pct = saved / a.cost * 100
	}
	fmt.Println()
	fmt.Printf("  Cost saved vs no_guard:     $%.2f (%.0f%%)\n", saved, pct)
	fmt.Printf("  Side-effects prevented:     %d\n", a.sideFx-c.sideFx)
	fmt.Printf("  Rewrites issued:            %d\n", c.rewrites)
	fmt.Println()

	if *jsonOut != "" {
		if err := writeReport(*jsonOut, a, b, c, saved, pct); err != nil {
			fmt.Fprintf(os.Stderr, "runguard-demo: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  JSON report saved to: %s\n\n", *jsonOut)
	}
}

func writeReport(path string, a, b, c row, saved, pct float64) error {
	rowDict := func(r row) map[string]any {
		var terminated any
		if r.terminated != "" {
			terminated = r.terminated
		}
		return map[string]any{
			"variant":      r.name,
			"tool_calls":   r.calls,
			"side_effects": r.sideFx,
			"blocks":       r.blocks,
			"cache_hits":   r.cache,
			"rewrites":     r.rewrites,
			"cost_usd":     round4(r.cost),
			"terminated":   terminated,
		}
	}

	report := map[string]any{
		"type":               "runguard_demo",
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"tool_call_cost_usd": toolCallCost,
		"variants": map[string]any{
			"no_guard":   rowDict(a),
			"call_limit": rowDict(b),
			"runguard":   rowDict(c),
		},
		"comparison": map[string]any{
			"cost_saved_usd":         round4(saved),
			"cost_saved_pct":         round4(pct),
			"side_effects_prevented": a.sideFx - c.sideFx,
			"rewrites_issued":        c.rewrites,
		},
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("writeReport: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func round4(f float64) float64 {
	return float64(int(f*10000+0.5)) / 10000
}
