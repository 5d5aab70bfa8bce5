package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults. All of these are tunable configuration, not hard requirements.
const (
	DefaultMaxCostPerRun     = 0.50
	DefaultWarnFraction      = 0.8
	DefaultToolCost          = 0.04
	DefaultRepeatThreshold   = 2
	DefaultJitterThreshold   = 4
	DefaultCacheTTL          = 10 * time.Minute
	DefaultSideEffectCeiling = 3
	DefaultStallThreshold    = 3
	DefaultStallWindow       = 12
	DefaultErrorStreak       = 3
	DefaultHistoryLimit      = 512
)

// Config is the full tuning surface of the guard. The zero value of every
// field except SecretKey falls back to the package default.
type Config struct {
	// SecretKey seeds the keyed hash. Required; see ErrNoSecretKey.
	SecretKey []byte

	// MaxCostPerRun is the per-run budget in USD. WarnFraction of the
	// budget triggers a single budget_warning event.
	MaxCostPerRun float64
	WarnFraction  float64

	// DefaultToolCost and ToolCosts form the unit cost model.
	DefaultToolCost float64
	ToolCosts       map[string]float64

	// SideEffectTools classifies tools whose execution has side effects
	// when the call does not carry an explicit flag.
	SideEffectTools map[string]bool

	// RepeatThreshold is the number of prior identical calls after which
	// the next identical call is blocked.
	RepeatThreshold int

	// JitterThreshold is the number of distinct argument variants per tool
	// after which the tool is quarantined.
	JitterThreshold int

	// CacheTTL bounds how long read-only results are served from cache.
	CacheTTL time.Duration

	// SideEffectCeiling caps executed side-effecting calls per run.
	SideEffectCeiling int

	// StallThreshold and StallWindow tune repetitive-output detection.
	StallThreshold int
	StallWindow    int

	// ErrorStreakThreshold is the number of consecutive execution errors
	// after which a tool is quarantined.
	ErrorStreakThreshold int

	// QuarantineTTL lifts quarantine after the given duration. Zero means
	// quarantine lasts for the rest of the run.
	QuarantineTTL time.Duration

	// HistoryLimit bounds the call-history sliding window.
	HistoryLimit int
}

// DefaultConfig returns a config with every default filled in. The secret
// key must still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		MaxCostPerRun:        DefaultMaxCostPerRun,
		WarnFraction:         DefaultWarnFraction,
		DefaultToolCost:      DefaultToolCost,
		RepeatThreshold:      DefaultRepeatThreshold,
		JitterThreshold:      DefaultJitterThreshold,
		CacheTTL:             DefaultCacheTTL,
		SideEffectCeiling:    DefaultSideEffectCeiling,
		StallThreshold:       DefaultStallThreshold,
		StallWindow:          DefaultStallWindow,
		ErrorStreakThreshold: DefaultErrorStreak,
		HistoryLimit:         DefaultHistoryLimit,
	}
}

// normalized fills zero-valued fields with defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxCostPerRun == 0 {
		c.MaxCostPerRun = d.MaxCostPerRun
	}
	if c.WarnFraction == 0 {
		c.WarnFraction = d.WarnFraction
	}
	if c.DefaultToolCost == 0 {
		c.DefaultToolCost = d.DefaultToolCost
	}
	if c.RepeatThreshold == 0 {
		c.RepeatThreshold = d.RepeatThreshold
	}
	if c.JitterThreshold == 0 {
		c.JitterThreshold = d.JitterThreshold
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.SideEffectCeiling == 0 {
		c.SideEffectCeiling = d.SideEffectCeiling
	}
	if c.StallThreshold == 0 {
		c.StallThreshold = d.StallThreshold
	}
	if c.StallWindow == 0 {
		c.StallWindow = d.StallWindow
	}
	if c.ErrorStreakThreshold == 0 {
		c.ErrorStreakThreshold = d.ErrorStreakThreshold
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

// Validate checks the config for construction-time errors. Configuration
// errors fail fast here, never at decision time.
func (c Config) Validate() error {
	if len(c.SecretKey) == 0 {
		return ErrNoSecretKey
	}
	if c.MaxCostPerRun < 0 {
		return errors.New("engine: MaxCostPerRun must be non-negative")
	}
	if c.WarnFraction < 0 || c.WarnFraction > 1 {
		return errors.New("engine: WarnFraction must be in [0, 1]")
	}
	if c.DefaultToolCost < 0 {
		return errors.New("engine: DefaultToolCost must be non-negative")
	}
	for tool, cost := range c.ToolCosts {
		if cost < 0 {
			return fmt.Errorf("engine: negative cost for tool %q", tool)
		}
	}
	return nil
}

// Overrides are per-fleet adjustments applied on top of a base config.
// Nil fields mean "use the base value". Stored as JSONB in the fleet store.
type Overrides struct {
	MaxCostPerRun     *float64 `json:"max_cost_per_run"`
	WarnFraction      *float64 `json:"warn_fraction"`
	RepeatThreshold   *int     `json:"repeat_threshold"`
	JitterThreshold   *int     `json:"jitter_threshold"`
	SideEffectCeiling *int     `json:"side_effect_ceiling"`
	StallThreshold    *int     `json:"stall_threshold"`
	SideEffectTools   []string `json:"side_effect_tools"`
}

// Apply returns a copy of base with the overrides layered on.
func (o *Overrides) Apply(base Config) Config {
	if o == nil {
		return base
	}
	if o.MaxCostPerRun != nil {
		base.MaxCostPerRun = *o.MaxCostPerRun
	}
	if o.WarnFraction != nil {
		base.WarnFraction = *o.WarnFraction
	}
	if o.RepeatThreshold != nil {
		base.RepeatThreshold = *o.RepeatThreshold
	}
	if o.JitterThreshold != nil {
		base.JitterThreshold = *o.JitterThreshold
	}
	if o.SideEffectCeiling != nil {
		base.SideEffectCeiling = *o.SideEffectCeiling
	}
	if o.StallThreshold != nil {
		base.StallThreshold = *o.StallThreshold
	}
	if len(o.SideEffectTools) > 0 {
		set := make(map[string]bool, len(o.SideEffectTools))
		for _, t := range o.SideEffectTools {
			set[t] = true
		}
		base.SideEffectTools = set
	}
	return base
}

// CostModelFile is the on-disk cost model format.
type CostModelFile struct {
	DefaultCost     float64            `yaml:"default_cost"`
	Tools           map[string]float64 `yaml:"tools"`
	SideEffectTools []string           `yaml:"side_effect_tools"`
}

// LoadCostModel reads a YAML cost model and applies it to the config.
func LoadCostModel(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("LoadCostModel: %w", err)
	}
	var file CostModelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("LoadCostModel: %w", err)
	}
	if file.DefaultCost > 0 {
		cfg.DefaultToolCost = file.DefaultCost
	}
	if len(file.Tools) > 0 {
		cfg.ToolCosts = file.Tools
	}
	if len(file.SideEffectTools) > 0 {
		if cfg.SideEffectTools == nil {
			cfg.SideEffectTools = make(map[string]bool, len(file.SideEffectTools))
		}
		for _, t := range file.SideEffectTools {
			cfg.SideEffectTools[t] = true
		}
	}
	return nil
}
