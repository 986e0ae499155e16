package coordinator

import "sync/atomic"

// Metrics counts execution outcomes across concurrent requests. All fields
// are atomics: no lock is shared with the request path.
type Metrics struct {
	total          atomic.Int64
	completed      atomic.Int64
	runtimeFailed  atomic.Int64
	timedOut       atomic.Int64
	resourceKilled atomic.Int64
	rejected       atomic.Int64
	busy           atomic.Int64
	internal       atomic.Int64
	running        atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Total          int64 `json:"total"`
	Completed      int64 `json:"completed"`
	RuntimeFailed  int64 `json:"runtime_failed"`
	TimedOut       int64 `json:"timed_out"`
	ResourceKilled int64 `json:"resource_killed"`
	Rejected       int64 `json:"rejected"`
	Busy           int64 `json:"busy"`
	Internal       int64 `json:"internal"`
	Running        int64 `json:"running"`
}

func (m *Metrics) observe(state State) {
	switch state {
	case StateCompleted:
		m.completed.Add(1)
	case StateRuntimeFailed:
		m.runtimeFailed.Add(1)
	case StateTimedOut:
		m.timedOut.Add(1)
	case StateResourceKilled:
		m.resourceKilled.Add(1)
	case StateRejected:
		m.rejected.Add(1)
	case StateInternalError:
		m.internal.Add(1)
	}
}

// Snapshot returns a consistent-enough copy for reporting; counters are read
// individually, not under a global lock.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Total:          m.total.Load(),
		Completed:      m.completed.Load(),
		RuntimeFailed:  m.runtimeFailed.Load(),
		TimedOut:       m.timedOut.Load(),
		ResourceKilled: m.resourceKilled.Load(),
		Rejected:       m.rejected.Load(),
		Busy:           m.busy.Load(),
		Internal:       m.internal.Load(),
		Running:        m.running.Load(),
	}
}
