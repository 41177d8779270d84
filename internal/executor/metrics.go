package executor

import (
	"sync"
	"time"
)

// ExecutorMetrics tracks statistics about one plan execution.
type ExecutorMetrics struct {
	StepsExecuted    int
	StepsSuccessful  int
	StepsFailed      int
	StepsSkipped     int
	Batches          int
	TotalRetries     int
	TotalDuration    time.Duration
	LongestStepTime  time.Duration
	ShortestStepTime time.Duration
	RunDuration      time.Duration

	mu sync.Mutex // Protects metrics updates
}

func (m *ExecutorMetrics) record(d time.Duration, ok bool, retries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepsExecuted++
	if ok {
		m.StepsSuccessful++
	} else {
		m.StepsFailed++
	}
	m.TotalRetries += retries
	m.TotalDuration += d
	if d > m.LongestStepTime {
		m.LongestStepTime = d
	}
	if m.ShortestStepTime == 0 || (d > 0 && d < m.ShortestStepTime) {
		m.ShortestStepTime = d
	}
}

func (m *ExecutorMetrics) skip(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepsSkipped += n
}

func (m *ExecutorMetrics) addBatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches++
}

func (m *ExecutorMetrics) finish(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunDuration = d
}

// Copy returns a snapshot without the mutex.
func (m *ExecutorMetrics) Copy() ExecutorMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ExecutorMetrics{
		StepsExecuted:    m.StepsExecuted,
		StepsSuccessful:  m.StepsSuccessful,
		StepsFailed:      m.StepsFailed,
		StepsSkipped:     m.StepsSkipped,
		Batches:          m.Batches,
		TotalRetries:     m.TotalRetries,
		TotalDuration:    m.TotalDuration,
		LongestStepTime:  m.LongestStepTime,
		ShortestStepTime: m.ShortestStepTime,
		RunDuration:      m.RunDuration,
	}
}
