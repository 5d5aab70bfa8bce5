package runguard

import (
	"context"
	"fmt"

	"github.com/runguard-ai/runguard/internal/engine"
)

// ToolFunc is the tool execution signature that Wrap guards.
type ToolFunc func(ctx context.Context, name string, args map[string]any) (any, error)

// BlockedError is returned by a wrapped tool when the guard refuses the
// call. The decision carries the reason and any terminal payload.
type BlockedError struct {
	Tool     string
	Decision Decision
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("runguard: %s blocked for tool %q: %s",
		e.Decision.Action, e.Tool, e.Decision.Reason)
}

// TerminatedError is returned once the run has reached a terminal decision.
type TerminatedError struct {
	Tool     string
	Decision Decision
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("runguard: run terminated (%s) at tool %q: %s",
		e.Decision.Action, e.Tool, e.Decision.Reason)
}

// Wrap returns a ToolFunc that consults the guard before calling fn and
// reports the outcome afterwards. Cached results are served without
// executing fn; blocked calls return *BlockedError; terminal decisions
// return *TerminatedError.
func (a *AgentGuard) Wrap(fn ToolFunc) ToolFunc {
	return func(ctx context.Context, name string, args map[string]any) (any, error) {
		d := a.CheckTool(name, args, "")

		switch d.Action {
		case engine.ActionAllow:
			result, err := fn(ctx, name, args)
			a.RecordResult(err == nil, result, errorCode(err))
			return result, err

		case engine.ActionCache:
			return d.CachedResult.Payload, nil

		case engine.ActionBlock:
			return nil, &BlockedError{Tool: name, Decision: d}

		default: // ESCALATE / FINALIZE
			return nil, &TerminatedError{Tool: name, Decision: d}
		}
	}
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
