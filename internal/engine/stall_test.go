package engine

import (
	"fmt"
	"testing"
)

func stallConfig() Config {
	cfg := DefaultConfig()
	cfg.SecretKey = []byte("k")
	cfg.StallThreshold = 3
	cfg.StallWindow = 12
	return cfg
}

func TestStallDetector_RewriteThenEscalate(t *testing.T) {
	d := newStallDetector(stallConfig())
	msg := "I apologize for the inconvenience. We're looking into it."

	verdicts := make([]stallVerdict, 0, 6)
	for i := 0; i < 6; i++ {
		verdicts = append(verdicts, d.Observe(msg))
	}

	want := []stallVerdict{stallNone, stallNone, stallRewrite, stallEscalate, stallEscalate, stallEscalate}
	for i, v := range verdicts {
		if v != want[i] {
			t.Errorf("output %d: verdict = %d, want %d", i+1, v, want[i])
		}
	}
}

func TestStallDetector_NeverTwoRewritesPerCluster(t *testing.T) {
	d := newStallDetector(stallConfig())
	msg := "Still working on it."

	var rewrites int
	for i := 0; i < 10; i++ {
		if d.Observe(msg) == stallRewrite {
			rewrites++
		}
	}
	if rewrites != 1 {
		t.Errorf("cluster got %d rewrites, want exactly 1", rewrites)
	}
}

func TestStallDetector_NormalizationClusters(t *testing.T) {
	d := newStallDetector(stallConfig())

	// Case, punctuation, and whitespace variations land in one cluster.
	if v := d.Observe("I apologize for the delay."); v != stallNone {
		t.Fatalf("verdict = %d, want none", v)
	}
	if v := d.Observe("i apologize   for the delay"); v != stallNone {
		t.Fatalf("verdict = %d, want none", v)
	}
	if v := d.Observe("I APOLOGIZE, FOR THE DELAY!"); v != stallRewrite {
		t.Errorf("verdict = %d, want rewrite for the third near-duplicate", v)
	}
}

func TestStallDetector_ProgressIsNotAStall(t *testing.T) {
	d := newStallDetector(stallConfig())

	for i := 0; i < 20; i++ {
		if v := d.Observe(fmt.Sprintf("Step %d: fetched order details.", i)); v != stallNone {
			t.Fatalf("distinct output %d misclassified as stall", i)
		}
	}
}

func TestStallDetector_WindowForgetting(t *testing.T) {
	cfg := stallConfig()
	cfg.StallWindow = 3
	d := newStallDetector(cfg)

	d.Observe("same message")
	d.Observe("same message")
	// Push the window past the repeats.
	d.Observe("progress one")
	d.Observe("progress two")
	d.Observe("progress three")

	// Both earlier repeats fell out of the window.
	if v := d.Observe("same message"); v != stallNone {
		t.Errorf("verdict = %d, want none after window eviction", v)
	}
}
