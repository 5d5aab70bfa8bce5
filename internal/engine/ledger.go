package engine

// costLedger tracks per-run spend against the configured budget. Charging
// happens at decision time (pre-charge on ALLOW), so a call can never slip
// past a budget boundary by racing result reporting.
type costLedger struct {
	limit       float64
	warnFrac    float64
	defaultCost float64
	toolCosts   map[string]float64

	spent    float64
	warned   bool
	exceeded bool
}

func newCostLedger(cfg Config) *costLedger {
	return &costLedger{
		limit:       cfg.MaxCostPerRun,
		warnFrac:    cfg.WarnFraction,
		defaultCost: cfg.DefaultToolCost,
		toolCosts:   cfg.ToolCosts,
	}
}

// Estimate returns the unit cost for a tool from the configured cost model.
func (l *costLedger) Estimate(tool string) float64 {
	if c, ok := l.toolCosts[tool]; ok {
		return c
	}
	return l.defaultCost
}

// Charge adds amount to the running total and classifies the event. The
// returned slice always starts with cost_incurred; crossing the warning
// fraction appends budget_warning exactly once per run, and meeting or
// exceeding the budget appends budget_exceeded.
func (l *costLedger) Charge(tool string, amount float64) []CostEvent {
	before := l.spent
	l.spent += amount

	events := []CostEvent{{
		Event:      "cost_incurred",
		Tool:       tool,
		Amount:     amount,
		Cumulative: l.spent,
		Limit:      l.limit,
	}}

	if l.limit <= 0 {
		return events
	}

	warnAt := l.limit * l.warnFrac
	if !l.warned && before < warnAt && l.spent >= warnAt && l.spent < l.limit {
		l.warned = true
		events = append(events, CostEvent{
			Event:      "budget_warning",
			Tool:       tool,
			Amount:     amount,
			Cumulative: l.spent,
			Limit:      l.limit,
			Pct:        l.spent / l.limit,
		})
	}

	if l.spent >= l.limit {
		l.exceeded = true
		events = append(events, CostEvent{
			Event:      "budget_exceeded",
			Tool:       tool,
			Amount:     amount,
			Cumulative: l.spent,
			Limit:      l.limit,
			Pct:        l.spent / l.limit,
		})
	}

	return events
}

// Exceeded reports whether the budget has been met or passed. Terminal for
// the run: the guard stops granting ALLOW for cost-incurring calls.
func (l *costLedger) Exceeded() bool { return l.exceeded }

// Spent returns the cumulative charged amount in USD.
func (l *costLedger) Spent() float64 { return l.spent }
