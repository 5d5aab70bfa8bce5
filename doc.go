// Package runguard is a runtime guard for autonomous AI agents. It sits
// between an agent and its tools, watching every tool call and every model
// output within one run, and decides in real time whether to allow, block,
// serve from cache, rewrite, or terminate.
//
// The guard bounds financial cost, stops exact-repeat and argument-jitter
// loops, prevents duplicated side effects, and detects stalled output — all
// without ever persisting or emitting the sensitive arguments and payloads
// it inspects. Internally it retains only keyed HMAC signatures.
//
// Quick start:
//
//	guard, err := runguard.New(
//		runguard.WithSecretKey([]byte("...")),
//		runguard.WithMaxCostPerRun(0.50),
//		runguard.WithSideEffectTools("refund", "send_reply", "cancel"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	d := guard.CheckTool("search_kb", map[string]any{"query": "refund policy"}, "")
//	switch d.Action {
//	case engine.ActionAllow:
//		result, err := execute(...)
//		guard.RecordResult(err == nil, result, "")
//	case engine.ActionCache:
//		use(d.CachedResult.Payload)
//	}
//
// One AgentGuard guards exactly one run. Create a fresh one per run; runs
// never share mutable state.
package runguard
