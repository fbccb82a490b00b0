// Package connectivity tracks whether the sync backend is usable.
// Link state (the platform says we have a network) is pushed in via
// SetOnline; reachability (the backend answered a probe) is measured by
// periodic probes. Both must hold for the queue to dispatch.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/tillsync-io/tillsync/internal/logging"
)

// maxSamples bounds the rolling latency window.
const maxSamples = 100

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Prober performs one reachability check against the backend and reports
// the round-trip in milliseconds.
type Prober interface {
	Probe(ctx context.Context) (latencyMS int64, err error)
}

// State is a snapshot of the current connectivity verdict.
type State struct {
	Online              bool      `json:"online"`
	Reachable           bool      `json:"reachable"`
	LastProbeAt         time.Time `json:"last_probe_at"`
	LatencyMS           int64     `json:"latency_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Usable reports whether the backend can be used right now.
func (s State) Usable() bool {
	return s.Online && s.Reachable
}

// Stats summarizes the rolling latency window.
type Stats struct {
	SampleCount         int   `json:"sample_count"`
	AverageMS           int64 `json:"average_ms"`
	MinMS               int64 `json:"min_ms"`
	MaxMS               int64 `json:"max_ms"`
	ConsecutiveFailures int   `json:"consecutive_failures"`
}

// Change is one connectivity transition delivered to subscribers.
type Change struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Config holds monitor configuration.
type Config struct {
	Interval time.Duration // How often to probe (default: 30 seconds)
	Clock    Clock         // Time source (default: system clock)
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval: 30 * time.Second,
		Clock:    systemClock{},
	}
}

// Monitor owns the connectivity state machine.
type Monitor struct {
	prober   Prober
	interval time.Duration
	clock    Clock

	// probeMu serializes probes so concurrent CheckNow calls coalesce
	probeMu sync.Mutex

	mu                  sync.RWMutex
	online              bool
	reachable           bool
	lastProbeAt         time.Time
	latencyMS           int64
	consecutiveFailures int
	samples             []int64
	subs                map[int]chan Change
	nextSubID           int

	runMu     sync.Mutex
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor. It does not probe until Start, SetOnline,
// or CheckNow is called.
func NewMonitor(prober Prober, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = systemClock{}
	}

	return &Monitor{
		prober:   prober,
		interval: config.Interval,
		clock:    config.Clock,
		online:   true, // Assume the link is up until the platform says otherwise
		samples:  make([]int64, 0, maxSamples),
		subs:     make(map[int]chan Change),
	}
}

// Start begins the periodic probe loop. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	if m.isRunning {
		m.runMu.Unlock()
		return
	}
	m.isRunning = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.runMu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(ctx, stopCh)

	logging.Info("Connectivity monitor started",
		map[string]interface{}{"interval_seconds": m.interval.Seconds()})
}

// Stop ends the probe loop and waits for any in-flight probe to land.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.isRunning {
		m.runMu.Unlock()
		return
	}
	m.isRunning = false
	close(m.stopCh)
	m.runMu.Unlock()

	m.wg.Wait()

	logging.Info("Connectivity monitor stopped", nil)
}

// probeLoop probes immediately, then on every tick.
func (m *Monitor) probeLoop(ctx context.Context, stopCh chan struct{}) {
	defer m.wg.Done()

	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// SetOnline pushes a link-state transition in from the platform. Going
// offline forces Reachable to false immediately; going online triggers an
// immediate probe in the background.
func (m *Monitor) SetOnline(online bool) {
	now := m.clock.Now()

	m.mu.Lock()
	prev := m.stateLocked()
	m.online = online
	if !online {
		m.reachable = false
	}
	next := m.stateLocked()
	m.mu.Unlock()

	m.notify(prev, next, now)

	if online && !prev.Online {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.probe(context.Background())
		}()
	}
}

// CheckNow runs one probe on demand and returns the updated snapshot.
func (m *Monitor) CheckNow(ctx context.Context) State {
	m.probe(ctx)
	return m.State()
}

// probe performs one reachability check and folds the outcome into state.
// Probe errors never escape; they become ConsecutiveFailures.
func (m *Monitor) probe(ctx context.Context) {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	m.mu.RLock()
	online := m.online
	m.mu.RUnlock()

	// No link means no probe: don't burn a failure on a known-dead radio
	if !online {
		return
	}

	latency, err := m.prober.Probe(ctx)
	now := m.clock.Now()

	m.mu.Lock()
	prev := m.stateLocked()
	m.lastProbeAt = now
	if err != nil {
		m.reachable = false
		m.consecutiveFailures++
		logging.Debug("Backend probe failed",
			map[string]interface{}{
				"consecutive_failures": m.consecutiveFailures,
				"error":                err.Error(),
			})
	} else {
		m.reachable = true
		m.consecutiveFailures = 0
		m.latencyMS = latency
		m.samples = append(m.samples, latency)
		if len(m.samples) > maxSamples {
			m.samples = m.samples[1:]
		}
	}
	next := m.stateLocked()
	m.mu.Unlock()

	m.notify(prev, next, now)
}

// stateLocked builds a snapshot. Caller holds mu.
func (m *Monitor) stateLocked() State {
	return State{
		Online:              m.online,
		Reachable:           m.reachable,
		LastProbeAt:         m.lastProbeAt,
		LatencyMS:           m.latencyMS,
		ConsecutiveFailures: m.consecutiveFailures,
	}
}

// State returns the current connectivity snapshot.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

// Usable reports whether the backend can be used right now.
func (m *Monitor) Usable() bool {
	return m.State().Usable()
}

// Stats returns rolling latency statistics over the sample window.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		SampleCount:         len(m.samples),
		ConsecutiveFailures: m.consecutiveFailures,
	}
	if len(m.samples) == 0 {
		return stats
	}

	var sum int64
	stats.MinMS = m.samples[0]
	stats.MaxMS = m.samples[0]
	for _, s := range m.samples {
		sum += s
		if s < stats.MinMS {
			stats.MinMS = s
		}
		if s > stats.MaxMS {
			stats.MaxMS = s
		}
	}
	stats.AverageMS = sum / int64(len(m.samples))
	return stats
}

// Subscribe registers a transition listener. Deliveries are edge-triggered
// and non-blocking: a full buffer loses the transition rather than stalling
// the monitor. The returned func unsubscribes and closes the channel.
func (m *Monitor) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 4
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Change, buffer)
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// notify fans a transition out to subscribers when the Online/Reachable
// composition actually changed.
func (m *Monitor) notify(prev, next State, at time.Time) {
	if prev.Online == next.Online && prev.Reachable == next.Reachable {
		return
	}

	logging.Info("Connectivity changed",
		map[string]interface{}{
			"online":    next.Online,
			"reachable": next.Reachable,
		})

	change := Change{From: prev, To: next, At: at}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
