package mockauth

import "sync"

// Auth events counted by the mock service.
const (
	EventLoginSuccess   = "login.success"
	EventLoginFailure   = "login.failure"
	EventRefreshSuccess = "refresh.success"
	EventRefreshFailure = "refresh.failure"
	EventLogout         = "logout"
	EventSignupSuccess  = "signup.success"
	EventSignupFailure  = "signup.failure"
)

// MetricsRecorder increments counters for auth events.
type MetricsRecorder interface {
	Increment(event string)
}

// CounterMetrics counts events in memory.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an empty recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	recorder.counts[event]++
	recorder.mutex.Unlock()
}

func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot copies every counter.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	snapshot := make(map[string]int64, len(recorder.counts))
	for event, count := range recorder.counts {
		snapshot[event] = count
	}
	return snapshot
}

type discardMetrics struct{}

func (discardMetrics) Increment(string) {}
