package event_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/dialrun/event"
)

// capturePublisher records every delivered event.
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	channel string
	name    string
	payload any
}

func (c *capturePublisher) Publish(_ context.Context, channel, name string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{channel, name, payload})
	return nil
}

func (c *capturePublisher) snapshot() []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedEvent(nil), c.events...)
}

func TestDebouncer_CollapsesBurst(t *testing.T) {
	inner := &capturePublisher{}
	d := event.NewDebouncer(inner, 50*time.Millisecond)

	for i := range 10 {
		if err := d.Publish(context.Background(), "run:abc", event.MetricsUpdated, i); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}

	time.Sleep(150 * time.Millisecond)

	got := inner.snapshot()
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if got[0].payload != 9 {
		t.Errorf("delivered payload = %v, want the latest (9)", got[0].payload)
	}
}

func TestDebouncer_DistinctKeysDeliverIndependently(t *testing.T) {
	inner := &capturePublisher{}
	d := event.NewDebouncer(inner, 20*time.Millisecond)

	_ = d.Publish(context.Background(), "run:a", event.MetricsUpdated, 1)
	_ = d.Publish(context.Background(), "run:b", event.MetricsUpdated, 2)
	_ = d.Publish(context.Background(), "run:a", event.CallStarted, 3)

	time.Sleep(100 * time.Millisecond)

	if got := len(inner.snapshot()); got != 3 {
		t.Errorf("delivered %d events, want 3 (one per key)", got)
	}
}

func TestDebouncer_CloseFlushesPending(t *testing.T) {
	inner := &capturePublisher{}
	d := event.NewDebouncer(inner, time.Hour)

	_ = d.Publish(context.Background(), "run:a", event.MetricsUpdated, "latest")
	d.Close()

	got := inner.snapshot()
	if len(got) != 1 {
		t.Fatalf("delivered %d events after Close, want 1", len(got))
	}
	if got[0].payload != "latest" {
		t.Errorf("flushed payload = %v, want %q", got[0].payload, "latest")
	}

	// Publishes after Close are dropped.
	_ = d.Publish(context.Background(), "run:a", event.MetricsUpdated, "late")
	time.Sleep(20 * time.Millisecond)
	if got := len(inner.snapshot()); got != 1 {
		t.Errorf("delivered %d events, want 1 (post-Close publish dropped)", got)
	}
}
