package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// stallVerdict is the outcome of observing one model output.
type stallVerdict int

const (
	stallNone stallVerdict = iota
	stallRewrite
	stallEscalate
)

// stallDetector watches sequential model text outputs for repetitive,
// non-progressing content. Outputs are normalized and clustered by keyed
// content hash; only hashes are retained, never the text itself.
//
// The first time a cluster reaches the repeat threshold the detector asks
// for a corrective REWRITE and marks the cluster. A recurrence of the same
// cluster after the rewrite is deterministic: the agent cannot recover, so
// the detector escalates. A cluster never gets a second rewrite.
type stallDetector struct {
	threshold int
	window    int

	recent    []string       // rolling window of cluster keys
	counts    map[string]int // occurrences within the window
	rewritten map[string]bool
}

func newStallDetector(cfg Config) *stallDetector {
	return &stallDetector{
		threshold: cfg.StallThreshold,
		window:    cfg.StallWindow,
		counts:    make(map[string]int),
		rewritten: make(map[string]bool),
	}
}

// Observe records one model output and returns the stall verdict.
func (d *stallDetector) Observe(text string) stallVerdict {
	key := clusterKey(text)

	d.recent = append(d.recent, key)
	d.counts[key]++
	if d.window > 0 && len(d.recent) > d.window {
		oldest := d.recent[0]
		d.recent = d.recent[1:]
		if n := d.counts[oldest]; n <= 1 {
			delete(d.counts, oldest)
		} else {
			d.counts[oldest] = n - 1
		}
	}

	if d.counts[key] < d.threshold {
		return stallNone
	}
	if d.rewritten[key] {
		return stallEscalate
	}
	d.rewritten[key] = true
	return stallRewrite
}

// clusterKey normalizes a model output and hashes it. Case, whitespace runs,
// and punctuation are ignored so trivially reworded repeats land in the same
// cluster.
func clusterKey(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// skip
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(b.String())))
	return hex.EncodeToString(sum[:16])
}
