package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of history event. Lifecycle transitions use the
// name of the state entered.
type EventType string

const (
	EventZombieDetected EventType = "zombie_detected"
	EventZombieKilled   EventType = "zombie_killed"
	EventMonitorStart   EventType = "monitor_start"
	EventMonitorStop    EventType = "monitor_stop"
)

// Record carries the server details of an event.
type Record struct {
	Server    string `json:"server"`
	State     string `json:"state"`
	PrevState string `json:"prev_state,omitempty"`
	Message   string `json:"message,omitempty"`
	PID       int32  `json:"pid,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Event represents a server event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Publisher fans events out to a set of sinks. Delivery is best-effort: send
// errors are logged and never returned to the caller.
type Publisher struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
}

func NewPublisher(logger *slog.Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		sinks:  append([]Sink(nil), sinks...),
		logger: logger.With("component", "history"),
	}
}

// Len returns the number of configured sinks.
func (p *Publisher) Len() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sinks)
}

// Publish sends e to every sink. A nil Publisher is a no-op.
func (p *Publisher) Publish(ctx context.Context, e Event) {
	if p == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	p.mu.RLock()
	sinks := append([]Sink(nil), p.sinks...)
	p.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			p.logger.Warn("history sink send failed", "type", string(e.Type), "error", err)
		}
	}
}

// Close closes every sink implementing io.Closer and drops them.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	sinks := p.sinks
	p.sinks = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
