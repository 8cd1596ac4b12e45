// Package lifecycle infers the game server phase from its log and drives the
// port gate and notifications on every phase change.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/gatewarden/internal/firewall"
	"github.com/loykin/gatewarden/internal/metrics"
	"github.com/loykin/gatewarden/internal/notify"
)

// ScanWindow is how many trailing lines of a batch are searched for the
// load/exit/network markers.
const ScanWindow = 100

// Notifier sends the message configured for a key.
type Notifier interface {
	Notify(ctx context.Context, key string) bool
}

// Transition describes one state change.
type Transition struct {
	From State
	To   State
	// Key is the notification key sent for the change, if any.
	Key string
	// Synthetic marks warning/network steps implied by a stop.
	Synthetic bool
	At        time.Time
}

// Options configures a Machine.
type Options struct {
	Markers      Markers
	Ports        []firewall.Port
	StartupDelay time.Duration
	Gate         firewall.Gate
	Notifier     Notifier
	// OnTransition is called after every state change, outside the lock.
	OnTransition func(ctx context.Context, t Transition)
	Logger       *slog.Logger
}

// Snapshot is a copy of the machine state.
type Snapshot struct {
	State        State     `json:"state"`
	StartingSeen bool      `json:"starting_seen"`
	// LoadSeen is set once the server reported ready and stays set through
	// the shutdown warning until Stopped or a new epoch.
	LoadSeen     bool      `json:"load_seen"`
	WarningSent  bool      `json:"warning_sent"`
	// NetworkSent is cleared together with WarningSent when the server
	// becomes ready, so a second shutdown in one epoch is announced again.
	NetworkSent  bool      `json:"network_sent"`
	ReadyPending bool      `json:"ready_pending"`
	Epoch        int       `json:"epoch"`
	Since        time.Time `json:"since"`
}

// Machine is the lifecycle state machine. Apply and NewEpoch must be called
// from a single goroutine; Snapshot is safe from any goroutine.
type Machine struct {
	markers      Markers
	ports        []firewall.Port
	startupDelay time.Duration
	gate         firewall.Gate
	notifier     Notifier
	onTransition func(ctx context.Context, t Transition)
	logger       *slog.Logger

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
	s  Snapshot
}

// New returns a Machine in the Idle state.
func New(opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := opts.Gate
	if gate == nil {
		gate = firewall.Disabled{}
	}
	n := opts.Notifier
	if n == nil {
		n = nopNotifier{}
	}
	m := &Machine{
		markers:      opts.Markers,
		ports:        opts.Ports,
		startupDelay: opts.StartupDelay,
		gate:         gate,
		notifier:     n,
		onTransition: opts.OnTransition,
		logger:       logger.With("component", "lifecycle"),
		now:          time.Now,
		wait:         sleepContext,
	}
	m.s.Since = m.now()
	metrics.SetCurrentState(Idle.String(), StateNames())
	return m
}

// Snapshot returns the current state and flags.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

// NewEpoch resets the machine for a new log file instance and blocks the
// ports until the new server reports it is loaded.
func (m *Machine) NewEpoch(ctx context.Context) {
	m.mu.Lock()
	from := m.s.State
	m.s.StartingSeen = false
	m.s.LoadSeen = false
	m.s.WarningSent = false
	m.s.NetworkSent = false
	m.s.ReadyPending = false
	m.s.Epoch++
	m.mu.Unlock()

	m.logger.Info("new server instance detected, blocking ports")
	m.gate.Block(ctx, m.ports)
	m.transition(ctx, from, Starting, "", false)
}

// Apply evaluates one batch of new log lines. Starting is checked first; a
// stop marker anywhere in the batch preempts everything else. Otherwise the
// last ScanWindow lines are searched newest first and the first line matching
// load complete, exit warning or network shutdown decides the batch.
func (m *Machine) Apply(ctx context.Context, lines []string) {
	if len(lines) == 0 {
		return
	}
	cur := m.Snapshot()

	if !cur.StartingSeen {
		for _, line := range lines {
			if match(line, m.markers.ServerStarting) {
				m.onStarting(ctx)
				break
			}
		}
	}

	if cur.State != Stopped {
		for _, line := range lines {
			if match(line, m.markers.ServerStopped) {
				m.onStopped(ctx)
				return
			}
		}
	}

	window := lines
	if len(window) > ScanWindow {
		window = window[len(window)-ScanWindow:]
	}
	for i := len(window) - 1; i >= 0; i-- {
		line := window[i]
		cur = m.Snapshot()
		switch {
		case match(line, m.markers.LoadComplete) && !cur.LoadSeen:
			m.onLoadComplete(ctx)
			return
		case match(line, m.markers.ExitWarning) && !cur.WarningSent:
			m.onExitWarning(ctx)
			return
		case match(line, m.markers.NetworkShutdown) && cur.WarningSent:
			// a repeated network line still ends the scan
			m.onNetworkShutdown(ctx)
			return
		}
	}
}

func (m *Machine) onStarting(ctx context.Context) {
	m.mu.Lock()
	from := m.s.State
	m.s.StartingSeen = true
	m.mu.Unlock()
	m.logger.Info("server is starting up")
	m.transition(ctx, from, Loading, notify.KeyLoading, false)
}

func (m *Machine) onLoadComplete(ctx context.Context) {
	if m.startupDelay > 0 {
		m.setReadyPending(true)
		m.logger.Info("server loaded, waiting before allowing connections", "delay", m.startupDelay.String())
		err := m.wait(ctx, m.startupDelay)
		m.setReadyPending(false)
		if err != nil {
			m.logger.Warn("startup delay interrupted, ports stay blocked", "error", err)
			return
		}
	}
	m.logger.Info("server fully loaded, allowing connections")
	m.gate.Allow(ctx, m.ports)

	m.mu.Lock()
	from := m.s.State
	m.s.LoadSeen = true
	m.s.WarningSent = false
	m.s.NetworkSent = false
	m.mu.Unlock()
	m.transition(ctx, from, Ready, notify.KeyReady, false)
}

func (m *Machine) onExitWarning(ctx context.Context) {
	m.mu.Lock()
	if m.s.WarningSent {
		m.mu.Unlock()
		return
	}
	from := m.s.State
	m.s.WarningSent = true
	m.mu.Unlock()
	m.logger.Info("server shutdown initiated")
	m.transition(ctx, from, ShutdownWarning, notify.KeyShutdownWarning, false)
}

func (m *Machine) onNetworkShutdown(ctx context.Context) {
	m.mu.Lock()
	if !m.s.WarningSent || m.s.NetworkSent || m.s.State == Stopped {
		m.mu.Unlock()
		return
	}
	from := m.s.State
	m.s.NetworkSent = true
	m.mu.Unlock()
	m.logger.Info("server network is shutting down")
	m.transition(ctx, from, NetworkDown, notify.KeyNetworkShutdown, false)
}

func (m *Machine) onStopped(ctx context.Context) {
	cur := m.Snapshot()
	if cur.State == Stopped {
		return
	}
	if !cur.WarningSent {
		m.logger.Info("server shutdown detected without warning")
		m.mu.Lock()
		m.s.WarningSent = true
		from := m.s.State
		m.mu.Unlock()
		m.transition(ctx, from, ShutdownWarning, notify.KeyShutdownWarning, true)
	}
	if !cur.NetworkSent {
		m.logger.Info("server network shutdown detected")
		m.mu.Lock()
		m.s.NetworkSent = true
		from := m.s.State
		m.mu.Unlock()
		m.transition(ctx, from, NetworkDown, notify.KeyNetworkShutdown, true)
	}
	m.logger.Info("server has stopped, blocking ports")
	m.gate.Block(ctx, m.ports)
	m.mu.Lock()
	m.s.LoadSeen = false
	m.mu.Unlock()
	m.transition(ctx, m.Snapshot().State, Stopped, notify.KeyShutdownFinal, false)
}

func (m *Machine) setReadyPending(v bool) {
	m.mu.Lock()
	m.s.ReadyPending = v
	m.mu.Unlock()
}

// transition records the new state, then notifies key (if set) and the hook.
func (m *Machine) transition(ctx context.Context, from, to State, key string, synthetic bool) {
	at := m.now()
	m.mu.Lock()
	m.s.State = to
	m.s.Since = at
	m.mu.Unlock()

	metrics.RecordStateTransition(from.String(), to.String())
	metrics.SetCurrentState(to.String(), StateNames())
	m.logger.Debug("state transition", "from", from.String(), "to", to.String(), "synthetic", synthetic)

	if key != "" {
		m.notifier.Notify(ctx, key)
	}
	if m.onTransition != nil {
		m.onTransition(ctx, Transition{From: from, To: to, Key: key, Synthetic: synthetic, At: at})
	}
}

func match(line, marker string) bool {
	return marker != "" && strings.Contains(line, marker)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) bool { return false }
