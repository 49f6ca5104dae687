// Package testutil provides test doubles shared across package tests.
package testutil

import (
	"sync"

	"github.com/vandry/ruuvi-bridge/metric"
)

// SinkOp records one instruction received by a RecordingSink.
type SinkOp struct {
	// Kind is "set", "clear" or "clearall".
	Kind     string
	Quantity metric.Quantity
	Unit     string
	Value    float64
}

// RecordingSink is a metric.Sink that remembers every instruction and the
// resulting live values. Safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	ops    []SinkOp
	values map[metric.Quantity]map[string]float64
}

var _ metric.Sink = (*RecordingSink)(nil)

// NewRecordingSink returns an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{
		values: make(map[metric.Quantity]map[string]float64),
	}
}

// Set implements metric.Sink.
func (s *RecordingSink) Set(q metric.Quantity, unit string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, SinkOp{Kind: "set", Quantity: q, Unit: unit, Value: value})
	if s.values[q] == nil {
		s.values[q] = make(map[string]float64)
	}
	s.values[q][unit] = value
}

// Clear implements metric.Sink.
func (s *RecordingSink) Clear(q metric.Quantity, unit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, SinkOp{Kind: "clear", Quantity: q, Unit: unit})
	delete(s.values[q], unit)
}

// ClearAll implements metric.Sink.
func (s *RecordingSink) ClearAll(unit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, SinkOp{Kind: "clearall", Unit: unit})
	for _, byUnit := range s.values {
		delete(byUnit, unit)
	}
}

// Ops returns a copy of every recorded instruction, in order.
func (s *RecordingSink) Ops() []SinkOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SinkOp, len(s.ops))
	copy(out, s.ops)
	return out
}

// Value returns the live value for (quantity, unit), if any.
func (s *RecordingSink) Value(q metric.Quantity, unit string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[q][unit]
	return v, ok
}

// Live reports how many quantities currently have a value for unit.
func (s *RecordingSink) Live(unit string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, byUnit := range s.values {
		if _, ok := byUnit[unit]; ok {
			n++
		}
	}
	return n
}

// Reset forgets all recorded instructions and values.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
	s.values = make(map[metric.Quantity]map[string]float64)
}
