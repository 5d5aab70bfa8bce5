package runguard

import (
	"time"

	"github.com/runguard-ai/runguard/internal/engine"
	"github.com/runguard-ai/runguard/internal/telemetry"
	"go.uber.org/zap"
)

type options struct {
	cfg    engine.Config
	runID  string
	sink   telemetry.Sink
	logger *zap.Logger
}

func defaultOptions() options {
	return options{cfg: engine.DefaultConfig()}
}

// Option configures an AgentGuard.
type Option func(*options)

// WithSecretKey sets the keyed-hash secret. Required.
func WithSecretKey(key []byte) Option {
	return func(o *options) { o.cfg.SecretKey = key }
}

// WithMaxCostPerRun sets the per-run budget in USD.
func WithMaxCostPerRun(usd float64) Option {
	return func(o *options) { o.cfg.MaxCostPerRun = usd }
}

// WithWarnFraction sets the budget fraction that triggers a warning.
func WithWarnFraction(frac float64) Option {
	return func(o *options) { o.cfg.WarnFraction = frac }
}

// WithToolCost sets the unit cost for one tool.
func WithToolCost(tool string, usd float64) Option {
	return func(o *options) {
		if o.cfg.ToolCosts == nil {
			o.cfg.ToolCosts = make(map[string]float64)
		}
		o.cfg.ToolCosts[tool] = usd
	}
}

// WithDefaultToolCost sets the fallback unit cost.
func WithDefaultToolCost(usd float64) Option {
	return func(o *options) { o.cfg.DefaultToolCost = usd }
}

// WithSideEffectTools classifies the named tools as side-effecting.
func WithSideEffectTools(tools ...string) Option {
	return func(o *options) {
		if o.cfg.SideEffectTools == nil {
			o.cfg.SideEffectTools = make(map[string]bool, len(tools))
		}
		for _, t := range tools {
			o.cfg.SideEffectTools[t] = true
		}
	}
}

// WithRepeatThreshold sets how many prior identical calls block the next.
func WithRepeatThreshold(n int) Option {
	return func(o *options) { o.cfg.RepeatThreshold = n }
}

// WithJitterThreshold sets the distinct-argument quarantine threshold.
func WithJitterThreshold(n int) Option {
	return func(o *options) { o.cfg.JitterThreshold = n }
}

// WithCacheTTL sets how long read-only results are served from cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.cfg.CacheTTL = ttl }
}

// WithSideEffectCeiling caps executed side-effecting calls per run.
func WithSideEffectCeiling(n int) Option {
	return func(o *options) { o.cfg.SideEffectCeiling = n }
}

// WithStallThreshold sets the repeated-output count that forces a rewrite.
func WithStallThreshold(n int) Option {
	return func(o *options) { o.cfg.StallThreshold = n }
}

// WithConfig replaces the whole engine configuration. Options applied after
// this one layer on top of it.
func WithConfig(cfg engine.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithRunID pins the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithTelemetry routes guard events to the given sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithLogger sets the zap logger. Without an explicit telemetry sink the
// logger also receives guard events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}
