package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

type plainSink struct{ n int }

func (p *plainSink) Send(context.Context, Event) error { p.n++; return nil }

func TestPublisher_FansOutAndIgnoresErrors(t *testing.T) {
	bad := &memSink{err: errors.New("connection refused")}
	good := &memSink{}
	plain := &plainSink{}
	p := NewPublisher(nil, bad, good, plain)

	p.Publish(context.Background(), Event{Type: "ready", Record: Record{Server: "conan", State: "ready"}})

	if len(good.events) != 1 || plain.n != 1 {
		t.Fatalf("event not delivered past failing sink: good=%d plain=%d", len(good.events), plain.n)
	}
	if good.events[0].OccurredAt.IsZero() {
		t.Fatalf("OccurredAt should be filled in")
	}
}

func TestPublisher_KeepsTimestamp(t *testing.T) {
	s := &memSink{}
	p := NewPublisher(nil, s)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p.Publish(context.Background(), Event{Type: EventZombieDetected, OccurredAt: at})
	if !s.events[0].OccurredAt.Equal(at) {
		t.Fatalf("timestamp rewritten: %v", s.events[0].OccurredAt)
	}
}

func TestPublisher_Close(t *testing.T) {
	s := &memSink{}
	p := NewPublisher(nil, s, &plainSink{})
	if p.Len() != 2 {
		t.Fatalf("len %d", p.Len())
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !s.closed || p.Len() != 0 {
		t.Fatalf("sinks not closed")
	}
	// publishing after close is a no-op
	p.Publish(context.Background(), Event{Type: EventMonitorStop})
	if len(s.events) != 0 {
		t.Fatalf("event delivered after close")
	}
}

func TestPublisher_Nil(t *testing.T) {
	var p *Publisher
	p.Publish(context.Background(), Event{Type: EventMonitorStart})
	if p.Len() != 0 || p.Close() != nil {
		t.Fatalf("nil publisher should be inert")
	}
}
