package obs

import (
	"sort"
	"strings"
	"sync"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// MemMeter keeps running totals in memory. Every measurement is recorded
// under its bare name and under name{k=v,...} when labels are present.
type MemMeter struct {
	mu     sync.Mutex
	totals map[string]float64
	counts map[string]int
}

func NewMemMeter() *MemMeter {
	return &MemMeter{totals: make(map[string]float64), counts: make(map[string]int)}
}

func (m *MemMeter) Counter(name string, value float64, labels ...Label) {
	m.record(name, value, labels)
}

func (m *MemMeter) Histogram(name string, value float64, labels ...Label) {
	m.record(name, value, labels)
}

func (m *MemMeter) record(name string, value float64, labels []Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[name] += value
	m.counts[name]++
	if len(labels) > 0 {
		k := seriesKey(name, labels)
		m.totals[k] += value
		m.counts[k]++
	}
}

// Total returns the summed value for a bare name or a labelled series key.
func (m *MemMeter) Total(series string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[series]
}

// Count returns how many measurements were recorded for series.
func (m *MemMeter) Count(series string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[series]
}

// Snapshot copies all totals.
func (m *MemMeter) Snapshot() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.totals))
	for k, v := range m.totals {
		out[k] = v
	}
	return out
}

func seriesKey(name string, labels []Label) string {
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.Key+"="+l.Value)
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}
