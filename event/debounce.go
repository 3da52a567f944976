package event

import (
	"context"
	"sync"
	"time"
)

// Debouncer wraps a Publisher and collapses rapid successive publishes of
// the same (channel, name) pair into one delayed delivery carrying the
// latest payload. Metric increments publish through one of these so a burst
// of updates becomes a single notification.
type Debouncer struct {
	pub      Publisher
	interval time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	closed  bool
}

type pendingEvent struct {
	timer   *time.Timer
	payload any
}

// NewDebouncer creates a Debouncer delivering at most one event per
// (channel, name) pair per interval.
func NewDebouncer(pub Publisher, interval time.Duration) *Debouncer {
	return &Debouncer{
		pub:      pub,
		interval: interval,
		pending:  make(map[string]*pendingEvent),
	}
}

// Publish schedules a debounced delivery. The first publish for a key arms
// a timer; later publishes within the interval only replace the payload.
func (d *Debouncer) Publish(_ context.Context, channel, name string, payload any) error {
	key := channel + "\x00" + name

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	if pe, ok := d.pending[key]; ok {
		pe.payload = payload
		return nil
	}

	pe := &pendingEvent{payload: payload}
	pe.timer = time.AfterFunc(d.interval, func() {
		d.flush(key, channel, name)
	})
	d.pending[key] = pe
	return nil
}

func (d *Debouncer) flush(key, channel, name string) {
	d.mu.Lock()
	pe, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	payload := pe.payload
	d.mu.Unlock()

	// Delivery happens outside the lock; errors are the inner
	// publisher's concern (best-effort contract).
	_ = d.pub.Publish(context.Background(), channel, name, payload)
}

// Close flushes all pending events immediately and stops accepting more.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[string]*pendingEvent)
	d.mu.Unlock()

	for key, pe := range pending {
		if pe.timer.Stop() {
			channel, name, ok := splitKey(key)
			if ok {
				_ = d.pub.Publish(context.Background(), channel, name, pe.payload)
			}
		}
	}
}

func splitKey(key string) (channel, name string, ok bool) {
	for i := range len(key) {
		if key[i] == '\x00' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
