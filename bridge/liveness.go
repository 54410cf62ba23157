package bridge

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// Heartbeat timing. These are protocol constants shared with the panel and
// are not configurable.
const (
	ProbeInterval = 2 * time.Second
	CheckInterval = 5 * time.Second
	Window        = 5 * time.Second
	ProbeWait     = 500 * time.Millisecond
)

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Clock   clockwork.Clock
	Metrics *metrics.Collector
	Logger  *log.Logger
	// OnChange, if set, is called after every alive flag transition.
	OnChange func(alive bool)
}

// Monitor tracks whether the panel is reachable.
//
// The alive flag becomes true only when a heartbeat arrives and becomes
// false only when a periodic check finds the last heartbeat older than
// Window. PING probes go out every ProbeInterval whether or not the panel
// is alive; the panel answers with READY.
type Monitor struct {
	out      Broadcaster
	clock    clockwork.Clock
	metrics  *metrics.Collector
	logger   *log.Logger
	onChange func(bool)

	mu         sync.Mutex
	alive      bool
	lastSeen   time.Time
	running    bool
	probeTimer clockwork.Timer
	checkTimer clockwork.Timer
}

// NewMonitor creates a Monitor that probes through out.
func NewMonitor(out Broadcaster, opts MonitorOptions) *Monitor {
	m := &Monitor{
		out:      out,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		onChange: opts.OnChange,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = log.Nop()
	}
	return m
}

// Start sends an initial probe and begins the probe and check cycles.
// Calling Start on a running Monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.probeTimer = m.clock.AfterFunc(ProbeInterval, m.probeTick)
	m.checkTimer = m.clock.AfterFunc(CheckInterval, m.checkTick)
	m.mu.Unlock()

	m.probe()
}

// Stop halts both cycles. The alive flag keeps its last value.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.probeTimer.Stop()
	m.checkTimer.Stop()
}

// Heartbeat records a READY from the panel.
func (m *Monitor) Heartbeat() {
	m.mu.Lock()
	m.lastSeen = m.clock.Now()
	changed := !m.alive
	m.alive = true
	m.mu.Unlock()

	m.metrics.IncHeartbeats()
	if changed {
		m.logger.Info("panel alive", nil)
		m.notify(true)
	}
}

// Alive reports the current flag.
func (m *Monitor) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

// LastSeen returns the time of the last heartbeat (zero if none).
func (m *Monitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// EnsureAlive calls done(true) at once when alive. Otherwise it sends one
// probe, waits ProbeWait, and calls done with the flag at that moment.
func (m *Monitor) EnsureAlive(done func(alive bool)) {
	if m.Alive() {
		done(true)
		return
	}
	m.probe()
	m.clock.AfterFunc(ProbeWait, func() { done(m.Alive()) })
}

func (m *Monitor) probeTick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.probeTimer = m.clock.AfterFunc(ProbeInterval, m.probeTick)
	m.mu.Unlock()

	m.probe()
}

func (m *Monitor) checkTick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.checkTimer = m.clock.AfterFunc(CheckInterval, m.checkTick)
	lost := m.alive && m.clock.Now().Sub(m.lastSeen) > Window
	if lost {
		m.alive = false
	}
	lastSeen := m.lastSeen
	m.mu.Unlock()

	if lost {
		m.metrics.IncLivenessLost()
		m.logger.Warn("panel heartbeat lost", map[string]any{"last_seen": lastSeen})
		m.notify(false)
	}
}

func (m *Monitor) probe() {
	if err := m.out.Broadcast(types.Stamp(&types.Ping{})); err != nil {
		m.logger.Debug("probe not delivered", map[string]any{"error": err.Error()})
	}
}

func (m *Monitor) notify(alive bool) {
	if m.onChange != nil {
		m.onChange(alive)
	}
}

var _ Liveness = (*Monitor)(nil)
