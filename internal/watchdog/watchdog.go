// Package watchdog classifies the game server process as responsive or
// zombie and can terminate it.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/gatewarden/internal/metrics"
)

// ErrNotZombie is returned by ForceKill when no zombie is currently flagged.
var ErrNotZombie = errors.New("no zombie process detected")

// Health is the watchdog's classification of the process.
type Health string

const (
	NoProcess             Health = "no_process"
	Responsive            Health = "responsive"
	SuspectedUnresponsive Health = "suspected_unresponsive"
	ZombieConfirmed       Health = "zombie"
)

// Options configures a Watchdog.
type Options struct {
	ProcessName string
	Timeout     time.Duration
	// Finder defaults to SystemFinder.
	Finder Finder
	// OnZombie runs once per unhealthy episode, outside the lock.
	OnZombie func(ctx context.Context, p Process)
	// SampleResources publishes CPU and memory gauges for the found process.
	SampleResources bool
	Logger          *slog.Logger
}

// Status is a copy of the watchdog state.
type Status struct {
	ProcessName    string    `json:"process_name"`
	Health         Health    `json:"health"`
	PID            int32     `json:"pid,omitempty"`
	LastResponse   time.Time `json:"last_response,omitempty"`
	ZombieDetected bool      `json:"zombie_detected"`
	LastPoll       time.Time `json:"last_poll,omitempty"`
}

// Watchdog tracks the health of one named process across polls.
type Watchdog struct {
	name            string
	timeout         time.Duration
	finder          Finder
	onZombie        func(ctx context.Context, p Process)
	sampleResources bool
	logger          *slog.Logger
	now             func() time.Time

	mu             sync.Mutex
	lastResponse   time.Time
	zombieDetected bool
	health         Health
	flagged        Process
	pid            int32
	created        int64
	lastPoll       time.Time
}

// New returns a Watchdog that has not seen the process yet.
func New(opts Options) *Watchdog {
	f := opts.Finder
	if f == nil {
		f = SystemFinder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		name:            opts.ProcessName,
		timeout:         opts.Timeout,
		finder:          f,
		onZombie:        opts.OnZombie,
		sampleResources: opts.SampleResources,
		logger:          logger.With("component", "watchdog", "process", opts.ProcessName),
		now:             time.Now,
		health:          NoProcess,
	}
}

// Poll samples the process once and reports whether it is healthy. A missing
// process counts as healthy and clears all state.
func (w *Watchdog) Poll(ctx context.Context) bool {
	p, err := w.finder.Find(ctx, w.name)
	now := w.now()

	w.mu.Lock()
	w.lastPoll = now
	if err != nil {
		if !errors.Is(err, ErrProcessNotFound) {
			w.logger.Debug("process lookup failed", "error", err)
		}
		w.lastResponse = time.Time{}
		w.zombieDetected = false
		w.flagged = Process{}
		w.pid = 0
		w.created = 0
		w.health = NoProcess
		w.mu.Unlock()
		metrics.IncWatchdogPoll(string(NoProcess))
		if w.sampleResources {
			metrics.ClearServerProcess()
		}
		return true
	}

	if w.replaced(p) {
		w.logger.Info("server process replaced", "old_pid", w.pid, "pid", p.PID)
		w.lastResponse = time.Time{}
		w.zombieDetected = false
		w.flagged = Process{}
	}
	w.pid = p.PID
	w.created = p.CreateTime
	var fire bool
	healthy := true
	switch {
	case p.Zombie:
		fire = w.flag(p)
		healthy = false
	case !p.Running || w.lastResponse.IsZero():
		w.lastResponse = now
		w.health = Responsive
		if !p.Running {
			w.health = SuspectedUnresponsive
		}
	case now.Sub(w.lastResponse) > w.timeout:
		fire = w.flag(p)
		healthy = false
	default:
		w.lastResponse = now
		w.zombieDetected = false
		w.flagged = Process{}
		w.health = Responsive
	}
	health := w.health
	w.mu.Unlock()

	metrics.IncWatchdogPoll(string(health))
	if w.sampleResources && p.Running {
		if s, err := metrics.SampleProcess(p.PID); err == nil {
			metrics.ObserveServerProcess(s)
		}
	}
	if fire {
		w.logger.Warn("zombie process detected", "pid", p.PID)
		metrics.IncZombieDetected()
		if w.onZombie != nil {
			w.onZombie(ctx, p)
		}
	}
	return healthy
}

// replaced reports whether p is a different instance than the one seen on
// the previous poll. Caller holds w.mu.
func (w *Watchdog) replaced(p Process) bool {
	if w.pid == 0 {
		return false
	}
	if p.PID != w.pid {
		return true
	}
	return w.created != 0 && p.CreateTime != 0 && p.CreateTime != w.created
}

// flag marks p as zombie and reports whether this is a new episode.
// Caller holds w.mu.
func (w *Watchdog) flag(p Process) bool {
	w.health = ZombieConfirmed
	if w.zombieDetected {
		return false
	}
	w.zombieDetected = true
	w.flagged = p
	return true
}

// ForceKill terminates the flagged process. It requires a prior detection and
// a process that can still be found under the watched name. The zombie flag
// stays set; the next Poll clears it once the process is gone.
func (w *Watchdog) ForceKill(ctx context.Context) error {
	w.mu.Lock()
	detected, flagged := w.zombieDetected, w.flagged
	w.mu.Unlock()
	if !detected {
		return ErrNotZombie
	}

	p, err := w.finder.Find(ctx, w.name)
	if err != nil {
		metrics.IncKill(false)
		return err
	}
	if p.PID != flagged.PID {
		metrics.IncKill(false)
		return fmt.Errorf("%w: flagged pid %d, found pid %d", ErrProcessChanged, flagged.PID, p.PID)
	}
	if err := w.finder.Kill(ctx, flagged); err != nil {
		w.logger.Error("failed to kill zombie process", "pid", p.PID, "error", err)
		metrics.IncKill(false)
		return err
	}
	w.logger.Info("forcefully terminated zombie process", "pid", p.PID)
	metrics.IncKill(true)
	return nil
}

// ZombieDetected reports whether a zombie is currently flagged.
func (w *Watchdog) ZombieDetected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.zombieDetected
}

// Status returns a snapshot for reporting.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		ProcessName:    w.name,
		Health:         w.health,
		PID:            w.pid,
		LastResponse:   w.lastResponse,
		ZombieDetected: w.zombieDetected,
		LastPoll:       w.lastPoll,
	}
}
