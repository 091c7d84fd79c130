package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/teju/navtelemetry/internal/events"
)

const (
	DefaultRingCapacity = 20
	DefaultRingMaxAge   = 20 * time.Second
)

// RingBuffer holds the most recent location fixes, bounded by both a
// capacity and a retention window. Record never blocks the caller beyond
// a short mutex hold.
type RingBuffer struct {
	mu         sync.Mutex
	samples    []events.Location
	collectors map[*afterCollector]struct{}
	capacity   int
	maxAge     time.Duration
	now        func() time.Time
}

type afterCollector struct {
	samples []events.Location
	done    chan []events.Location
	stop    chan struct{}
	closed  bool
}

func NewRingBuffer(capacity int, maxAge time.Duration) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	if maxAge <= 0 {
		maxAge = DefaultRingMaxAge
	}
	return &RingBuffer{
		samples:    make([]events.Location, 0, capacity),
		collectors: map[*afterCollector]struct{}{},
		capacity:   capacity,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Record appends a fix, evicting anything stale or over capacity, and
// feeds any in-flight after-window collectors.
func (b *RingBuffer) Record(sample events.Location) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, sample)
	b.evictLocked()

	for c := range b.collectors {
		if len(c.samples) < b.capacity {
			c.samples = append(c.samples, sample)
		}
		if len(c.samples) >= b.capacity {
			b.finishLocked(c)
		}
	}
}

// SnapshotLastSeconds returns a copy of every retained sample no older
// than window. The buffer is not mutated.
func (b *RingBuffer) SnapshotLastSeconds(window time.Duration) []events.Location {
	cutoff := b.now().Add(-window)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()

	var out []events.Location
	for _, s := range b.samples {
		if !s.RecordedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// SnapshotBeforeAfter returns everything held right now as the "before"
// set, and a channel that resolves with the "after" set once one full
// retention window of new fixes has been collected (or sooner if the
// collector fills to capacity or ctx is cancelled). The channel always
// resolves exactly once.
func (b *RingBuffer) SnapshotBeforeAfter(ctx context.Context) ([]events.Location, <-chan []events.Location) {
	b.mu.Lock()
	b.evictLocked()
	before := make([]events.Location, len(b.samples))
	copy(before, b.samples)

	c := &afterCollector{
		done: make(chan []events.Location, 1),
		stop: make(chan struct{}),
	}
	b.collectors[c] = struct{}{}
	b.mu.Unlock()

	timer := time.AfterFunc(b.maxAge, func() {
		b.mu.Lock()
		b.finishLocked(c)
		b.mu.Unlock()
	})

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				timer.Stop()
				b.mu.Lock()
				b.finishLocked(c)
				b.mu.Unlock()
			case <-c.stop:
			}
		}()
	}
	return before, c.done
}

func (b *RingBuffer) finishLocked(c *afterCollector) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.stop)
	delete(b.collectors, c)
	c.done <- c.samples
}

func (b *RingBuffer) evictLocked() {
	cutoff := b.now().Add(-b.maxAge)
	i := 0
	for i < len(b.samples) && b.samples[i].RecordedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
	if n := len(b.samples) - b.capacity; n > 0 {
		b.samples = append(b.samples[:0], b.samples[n:]...)
	}
}
