package telemetry

import (
	"sync"

	"go.uber.org/zap"
)

// LogSink writes guard events as structured zap logs. The default sink for
// local development.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(e Event) {
	fields := []zap.Field{
		zap.String("run_id", e.RunID),
	}
	if e.Tool != "" {
		fields = append(fields, zap.String("tool", e.Tool))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.CallSig != "" {
		fields = append(fields, zap.String("call_sig", e.CallSig))
	}
	if e.Amount != 0 {
		fields = append(fields, zap.Float64("amount", e.Amount))
	}
	if e.Cumulative != 0 {
		fields = append(fields, zap.Float64("cumulative", e.Cumulative))
	}
	if e.CostAvoided != 0 {
		fields = append(fields, zap.Float64("estimated_cost_avoided", e.CostAvoided))
	}
	if e.Count != 0 {
		fields = append(fields, zap.Int("count", e.Count))
	}
	s.logger.Info(e.Name, fields...)
}

// MemorySink stores events in memory. Useful for tests, benchmarks, and
// harnesses.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Find returns all events matching the given name.
func (s *MemorySink) Find(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// CostSaved sums estimated_cost_avoided across all events.
func (s *MemorySink) CostSaved() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, e := range s.events {
		total += e.CostAvoided
	}
	return total
}

// Clear drops all stored events.
func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// CompositeSink fans out to multiple sinks. Failures are isolated per sink:
// one panicking backend never stops the others from receiving the event.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink creates a fan-out over the given sinks.
func NewCompositeSink(sinks ...Sink) *CompositeSink {
	return &CompositeSink{sinks: sinks}
}

// Add appends another sink and returns the composite for chaining.
func (s *CompositeSink) Add(sink Sink) *CompositeSink {
	s.sinks = append(s.sinks, sink)
	return s
}

func (s *CompositeSink) Emit(e Event) {
	for _, sink := range s.sinks {
		emitIsolated(sink, e)
	}
}

func emitIsolated(sink Sink, e Event) {
	defer func() { _ = recover() }()
	sink.Emit(e)
}
