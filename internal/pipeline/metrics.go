package pipeline

import "sync"

// Metrics counts pipeline outcomes for the metrics endpoint.
type Metrics struct {
	mu sync.RWMutex

	submitted int64
	rejected  int64
	completed int64
	failed    int64
	inFlight  int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSubmitted() { m.add(func(m *Metrics) { m.submitted++ }) }
func (m *Metrics) IncRejected() { m.add(func(m *Metrics) { m.rejected++ }) }
func (m *Metrics) IncCompleted() { m.add(func(m *Metrics) { m.completed++ }) }
func (m *Metrics) IncFailed() { m.add(func(m *Metrics) { m.failed++ }) }

// Started and Finished bracket one orchestrator run.
func (m *Metrics) Started() { m.add(func(m *Metrics) { m.inFlight++ }) }
func (m *Metrics) Finished() { m.add(func(m *Metrics) { m.inFlight-- }) }

func (m *Metrics) add(fn func(*Metrics)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	fn(m)
	m.mu.Unlock()
}

// Snapshot returns the current counter values keyed by name.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"submitted": m.submitted,
		"rejected":  m.rejected,
		"completed": m.completed,
		"failed":    m.failed,
		"in_flight": m.inFlight,
	}
}
