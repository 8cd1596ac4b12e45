// Package monitor wires the log cursor, lifecycle machine and watchdog to the
// filesystem watch and the poll ticker.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/gatewarden/internal/config"
	"github.com/loykin/gatewarden/internal/firewall"
	"github.com/loykin/gatewarden/internal/history"
	"github.com/loykin/gatewarden/internal/lifecycle"
	"github.com/loykin/gatewarden/internal/notify"
	"github.com/loykin/gatewarden/internal/tail"
	"github.com/loykin/gatewarden/internal/watchdog"
)

// ErrWatchdogDisabled is returned by KillZombie when zombie detection is off.
var ErrWatchdogDisabled = errors.New("zombie detection is disabled")

const (
	eventBuffer     = 64
	shutdownTimeout = 30 * time.Second
)

// Deps are the collaborators of a Monitor. Nil fields are built from the
// config.
type Deps struct {
	Gate    firewall.Gate
	Sender  notify.Sender
	Finder  watchdog.Finder
	History *history.Publisher
	Logger  *slog.Logger
}

// Status is the combined view served by the status API.
type Status struct {
	Server    string             `json:"server"`
	StartedAt time.Time          `json:"started_at"`
	Lifecycle lifecycle.Snapshot `json:"lifecycle"`
	Watchdog  *watchdog.Status   `json:"watchdog,omitempty"`
	Log       tail.Position      `json:"log"`
	Firewall  bool               `json:"firewall_enabled"`
	Ports     []string           `json:"ports"`
}

type fileEvent int

const (
	fileCreated fileEvent = iota
	fileWritten
)

type Monitor struct {
	cfg      *config.Config
	path     string
	ports    []firewall.Port
	gate     firewall.Gate
	notifier *notify.Notifier
	cursor   *tail.Cursor
	machine  *lifecycle.Machine
	watchdog *watchdog.Watchdog
	history  *history.Publisher
	logger   *slog.Logger

	mu        sync.Mutex
	startedAt time.Time
}

// New validates cfg and builds a Monitor.
func New(cfg *config.Config, deps Deps) (*Monitor, error) {
	if cfg == nil {
		return nil, errors.New("monitor: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ports, err := cfg.Ports()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gate := deps.Gate
	if gate == nil {
		gate, err = firewall.New(firewall.Options{
			Enabled:    cfg.Server.Firewall.Enabled,
			Backend:    cfg.Server.Firewall.Backend,
			RulePrefix: cfg.Server.Firewall.RulePrefix,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
	}

	sender := deps.Sender
	if sender == nil && cfg.Discord.Enabled {
		sender = notify.NewDiscord(notify.DiscordOptions{
			WebhookURL: cfg.Discord.WebhookURL,
			Username:   cfg.Discord.Username,
			Timeout:    cfg.Discord.Timeout,
			Logger:     logger,
		})
	}

	m := &Monitor{
		cfg:      cfg,
		path:     cfg.LogPath(),
		ports:    ports,
		gate:     gate,
		notifier: notify.New(sender, cfg.Server.Messages, cfg.Server.MessageControl, logger),
		cursor:   tail.New(logger),
		history:  deps.History,
		logger:   logger.With("component", "monitor", "server", cfg.Server.Name),
	}
	m.machine = lifecycle.New(lifecycle.Options{
		Markers:      cfg.Server.Markers,
		Ports:        ports,
		StartupDelay: cfg.Server.StartupDelay,
		Gate:         gate,
		Notifier:     m.notifier,
		OnTransition: m.recordTransition,
		Logger:       logger,
	})

	if z := cfg.Server.ZombieDetection; z.Enabled {
		m.watchdog = watchdog.New(watchdog.Options{
			ProcessName:     cfg.Server.ProcessName,
			Timeout:         z.Timeout,
			Finder:          deps.Finder,
			OnZombie:        m.onZombie,
			SampleResources: cfg.Metrics.Enabled,
			Logger:          logger,
		})
	}
	return m, nil
}

// Run monitors until ctx is cancelled. It returns an error only if the watch
// cannot be established.
func (m *Monitor) Run(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	if fi, err := os.Stat(dir); err != nil {
		return fmt.Errorf("logs directory: %w", err)
	} else if !fi.IsDir() {
		return fmt.Errorf("logs directory %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()

	if m.cfg.Server.Firewall.Enabled {
		m.logger.Info("blocking ports until the server reports ready", "ports", len(m.ports))
		m.gate.Block(ctx, m.ports)
	}
	m.cursor.Initialize(m.path)
	m.logger.Info("monitoring server log", "path", m.path)
	m.notifier.Notify(ctx, notify.KeyStartup)
	m.publish(ctx, history.Event{Type: history.EventMonitorStart, Record: m.record(lifecycle.Idle, lifecycle.Idle)})

	events := make(chan fileEvent, eventBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			m.handle(ctx, ev)
		}
	}()
	if m.watchdog != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.pollLoop(ctx)
		}()
	}

	m.watch(ctx, fsw, events)

	_ = fsw.Close()
	close(events)
	wg.Wait()
	m.shutdown(ctx)
	return nil
}

// watch forwards events for the log file until ctx is done.
func (m *Monitor) watch(ctx context.Context, fsw *fsnotify.Watcher, out chan<- fileEvent) {
	name := filepath.Base(m.path)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != name {
				continue
			}
			var fe fileEvent
			switch {
			case evt.Has(fsnotify.Create):
				fe = fileCreated
			case evt.Has(fsnotify.Write):
				fe = fileWritten
			default:
				continue
			}
			select {
			case out <- fe:
			case <-ctx.Done():
				return
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			m.logger.Warn("filesystem watch error", "error", err)
		}
	}
}

func (m *Monitor) handle(ctx context.Context, ev fileEvent) {
	if ev == fileCreated {
		m.cursor.OnFileAppeared(m.path)
		m.machine.NewEpoch(ctx)
	}
	batch, err := m.cursor.ReadNew()
	if err != nil {
		m.logger.Error("error processing log file", "error", err)
		return
	}
	if batch.Rotated {
		m.logger.Info("log file was truncated or rotated")
		m.machine.NewEpoch(ctx)
	}
	m.machine.Apply(ctx, batch.Lines)
}

func (m *Monitor) pollLoop(ctx context.Context) {
	interval := m.cfg.Server.ZombieDetection.CheckInterval
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.checkHealth(ctx)
		}
	}
}

func (m *Monitor) checkHealth(ctx context.Context) {
	if m.watchdog.Poll(ctx) {
		return
	}
	if m.cfg.Server.ZombieDetection.AutoKill && m.watchdog.ZombieDetected() {
		if err := m.KillZombie(ctx); err != nil {
			m.logger.Error("automatic zombie kill failed", "error", err)
		}
	}
}

// KillZombie terminates the flagged zombie process.
func (m *Monitor) KillZombie(ctx context.Context) error {
	if m.watchdog == nil {
		return ErrWatchdogDisabled
	}
	st := m.watchdog.Status()
	if err := m.watchdog.ForceKill(ctx); err != nil {
		return err
	}
	m.notifier.Notify(ctx, notify.KeyZombieKilled)
	state := m.machine.Snapshot().State
	rec := m.record(state, state)
	rec.PID = st.PID
	m.publish(ctx, history.Event{Type: history.EventZombieKilled, Record: rec})
	return nil
}

func (m *Monitor) onZombie(ctx context.Context, p watchdog.Process) {
	m.notifier.Notify(ctx, notify.KeyZombieDetected)
	state := m.machine.Snapshot().State
	rec := m.record(state, state)
	rec.PID = p.PID
	rec.Detail = fmt.Sprintf("os_zombie=%t running=%t", p.Zombie, p.Running)
	m.publish(ctx, history.Event{Type: history.EventZombieDetected, Record: rec})
}

func (m *Monitor) recordTransition(ctx context.Context, t lifecycle.Transition) {
	rec := m.record(t.From, t.To)
	if t.Key != "" {
		rec.Message, _ = m.notifier.Text(t.Key)
	}
	if t.Synthetic {
		rec.Detail = "synthetic"
	}
	m.publish(ctx, history.Event{Type: history.EventType(t.To.String()), OccurredAt: t.At.UTC(), Record: rec})
}

func (m *Monitor) record(from, to lifecycle.State) history.Record {
	return history.Record{Server: m.cfg.Server.Name, State: to.String(), PrevState: from.String()}
}

func (m *Monitor) publish(ctx context.Context, e history.Event) {
	if m.history == nil {
		return
	}
	m.history.Publish(ctx, e)
}

// shutdown opens the ports again and sends the final notification. It runs
// on a fresh context because ctx is already cancelled.
func (m *Monitor) shutdown(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if m.cfg.Server.Firewall.Enabled {
		m.logger.Info("monitor stopping, allowing connections")
		m.gate.Allow(sctx, m.ports)
	}
	m.notifier.Notify(sctx, notify.KeyMonitorStop)
	state := m.machine.Snapshot().State
	m.publish(sctx, history.Event{Type: history.EventMonitorStop, Record: m.record(state, state)})
	if err := m.history.Close(); err != nil {
		m.logger.Warn("closing history sinks", "error", err)
	}
	m.logger.Info("monitor stopped")
}

// Status returns the current combined state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	started := m.startedAt
	m.mu.Unlock()

	s := Status{
		Server:    m.cfg.Server.Name,
		StartedAt: started,
		Lifecycle: m.machine.Snapshot(),
		Log:       m.cursor.Position(),
		Firewall:  m.cfg.Server.Firewall.Enabled,
		Ports:     make([]string, 0, len(m.ports)),
	}
	if m.watchdog != nil {
		ws := m.watchdog.Status()
		s.Watchdog = &ws
	}
	for _, p := range m.ports {
		s.Ports = append(s.Ports, p.String())
	}
	return s
}
