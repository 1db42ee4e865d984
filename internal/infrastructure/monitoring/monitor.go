package monitoring

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// callKey identifies one (provider, model, status) label combination for
// the provider-call counter required by §4.4 step 9.
type callKey struct {
	provider string
	model    string
	status   string
}

// Metrics holds every counter/gauge the dialogue engine emits. All fields
// are accessed only through Monitor's methods.
type Metrics struct {
	activeConversations int64

	mu         sync.Mutex
	calls      map[callKey]uint64
	latencySum map[callKey]int64 // nanoseconds
	inputTokens  map[string]uint64 // keyed by provider
	outputTokens map[string]uint64

	startTime time.Time
}

// Monitor is the dialogue engine's metrics collector: counters and gauges
// kept in-process and hand-rolled rather than pulling in
// prometheus/client_golang.
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger

	histMu  sync.RWMutex
	history []Snapshot
	histLim int
}

// Snapshot is a point-in-time view of the monitor's counters, suitable
// for periodic logging or a dashboard poll.
type Snapshot struct {
	Timestamp           time.Time
	ActiveConversations int64
	TotalCalls          uint64
	Goroutines          int
}

// NewMonitor creates a Monitor. logger may be nil for tests.
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		metrics: &Metrics{
			calls:        map[callKey]uint64{},
			latencySum:   map[callKey]int64{},
			inputTokens:  map[string]uint64{},
			outputTokens: map[string]uint64{},
			startTime:    time.Now(),
		},
		logger:  logger,
		history: make([]Snapshot, 0, 100),
		histLim: 100,
	}
}

// RecordCall increments the provider-call counter for one (provider,
// model, status) label triple and adds a latency observation (§4.4 step 9).
func (m *Monitor) RecordCall(provider, model, status string, latency time.Duration) {
	key := callKey{provider: provider, model: model, status: status}
	m.metrics.mu.Lock()
	m.metrics.calls[key]++
	m.metrics.latencySum[key] += latency.Nanoseconds()
	m.metrics.mu.Unlock()
}

// RecordTokens adds the input/output token counts reported by a provider
// call, as-is, without cross-provider normalization (§9 Open Questions).
func (m *Monitor) RecordTokens(provider string, inputTokens, outputTokens int) {
	m.metrics.mu.Lock()
	m.metrics.inputTokens[provider] += uint64(inputTokens)
	m.metrics.outputTokens[provider] += uint64(outputTokens)
	m.metrics.mu.Unlock()
}

// IncrementActiveConversations and DecrementActiveConversations maintain
// the active-conversation gauge the runner updates around a run (§4.5).
func (m *Monitor) IncrementActiveConversations() {
	atomic.AddInt64(&m.metrics.activeConversations, 1)
}

func (m *Monitor) DecrementActiveConversations() {
	atomic.AddInt64(&m.metrics.activeConversations, -1)
}

func (m *Monitor) ActiveConversations() int64 {
	return atomic.LoadInt64(&m.metrics.activeConversations)
}

// CallCounts returns a snapshot of the call counter, keyed
// "provider|model|status" for easy exposition.
func (m *Monitor) CallCounts() map[string]uint64 {
	m.metrics.mu.Lock()
	defer m.metrics.mu.Unlock()
	out := make(map[string]uint64, len(m.metrics.calls))
	for k, v := range m.metrics.calls {
		out[strings.Join([]string{k.provider, k.model, k.status}, "|")] = v
	}
	return out
}

// Tokens returns cumulative input/output token totals per provider.
func (m *Monitor) Tokens() (input, output map[string]uint64) {
	m.metrics.mu.Lock()
	defer m.metrics.mu.Unlock()
	input = make(map[string]uint64, len(m.metrics.inputTokens))
	output = make(map[string]uint64, len(m.metrics.outputTokens))
	for k, v := range m.metrics.inputTokens {
		input[k] = v
	}
	for k, v := range m.metrics.outputTokens {
		output[k] = v
	}
	return input, output
}

// totalCalls sums every (provider, model, status) counter.
func (m *Monitor) totalCalls() uint64 {
	m.metrics.mu.Lock()
	defer m.metrics.mu.Unlock()
	var total uint64
	for _, v := range m.metrics.calls {
		total += v
	}
	return total
}

// Snapshot captures and retains a point-in-time view of the monitor's
// counters, trimming the oldest entry once histLim is exceeded.
func (m *Monitor) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:           time.Now(),
		ActiveConversations: m.ActiveConversations(),
		TotalCalls:          m.totalCalls(),
		Goroutines:          runtime.NumGoroutine(),
	}

	m.histMu.Lock()
	m.history = append(m.history, snap)
	if len(m.history) > m.histLim {
		m.history = m.history[1:]
	}
	m.histMu.Unlock()

	return snap
}

// History returns a copy of the retained snapshots.
func (m *Monitor) History() []Snapshot {
	m.histMu.RLock()
	defer m.histMu.RUnlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}
