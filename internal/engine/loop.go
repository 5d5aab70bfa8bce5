package engine

import "time"

// loopDetector keeps per-run call history keyed by signature and by tool
// name. It covers two failure shapes:
//
//  1. exact-repeat loops: the same signature (tool + args + ticket) seen too
//     many times, regardless of side-effect status;
//  2. argument-jitter loops: the same tool called with too many distinct
//     argument variants, e.g. a search query paraphrased repeatedly without
//     progress.
//
// Exact-repeat detection alone misses loops where the agent perturbs
// arguments slightly each turn; jitter detection keys on tool identity and
// call cadence instead of content equality.
type loopDetector struct {
	repeatThreshold int
	jitterThreshold int
	historyLimit    int

	history      []histEntry
	sigCounts    map[CallSig]int
	distinctArgs map[string]map[string]struct{} // tool name -> set of args sigs
}

type histEntry struct {
	sig CallSig
	at  time.Time
}

func newLoopDetector(cfg Config) *loopDetector {
	return &loopDetector{
		repeatThreshold: cfg.RepeatThreshold,
		jitterThreshold: cfg.JitterThreshold,
		historyLimit:    cfg.HistoryLimit,
		sigCounts:       make(map[CallSig]int),
		distinctArgs:    make(map[string]map[string]struct{}),
	}
}

// ExactRepeats returns how many times sig has already been observed.
func (d *loopDetector) ExactRepeats(sig CallSig) int {
	return d.sigCounts[sig]
}

// JitterExceeded reports whether observing sig would push the tool past the
// distinct-argument threshold. Only a signature not seen before for this
// tool counts as a new variant.
func (d *loopDetector) JitterExceeded(sig CallSig) bool {
	variants := d.distinctArgs[sig.Name]
	if variants == nil {
		return false
	}
	if _, known := variants[sig.ArgsSig]; known {
		return false
	}
	return len(variants) >= d.jitterThreshold
}

// Observe records the call in the sliding window. Every checked call is
// recorded, including blocked ones, so repeat counts keep growing while the
// agent keeps retrying.
func (d *loopDetector) Observe(sig CallSig, now time.Time) {
	d.history = append(d.history, histEntry{sig: sig, at: now})
	d.sigCounts[sig]++

	variants := d.distinctArgs[sig.Name]
	if variants == nil {
		variants = make(map[string]struct{})
		d.distinctArgs[sig.Name] = variants
	}
	variants[sig.ArgsSig] = struct{}{}

	if d.historyLimit > 0 && len(d.history) > d.historyLimit {
		oldest := d.history[0]
		d.history = d.history[1:]
		if n := d.sigCounts[oldest.sig]; n <= 1 {
			delete(d.sigCounts, oldest.sig)
		} else {
			d.sigCounts[oldest.sig] = n - 1
		}
		// Distinct-argument sets are not decremented on eviction: a tool
		// that has churned through many variants stays suspicious for the
		// rest of the run.
	}
}

// DistinctVariants returns how many distinct argument signatures have been
// seen for a tool.
func (d *loopDetector) DistinctVariants(tool string) int {
	return len(d.distinctArgs[tool])
}
