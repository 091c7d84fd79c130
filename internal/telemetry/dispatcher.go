package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/teju/navtelemetry/internal/events"
	"github.com/teju/navtelemetry/internal/shared/geo"
)

// ProgressState is the route-progress lifecycle reported by the
// navigation engine.
type ProgressState string

const (
	ProgressTracking ProgressState = "tracking"
	ProgressOffRoute ProgressState = "off_route"
	ProgressArrived  ProgressState = "arrived"
)

// Progress is the inbound route-progress snapshot consumed from the
// navigation engine on every tick.
type Progress struct {
	State              ProgressState        `json:"state"`
	DistanceRemainingM float64              `json:"distance_remaining_m"`
	DistanceTraveledM  float64              `json:"distance_traveled_m"`
	DurationRemainingS float64              `json:"duration_remaining_s"`
	Route              events.RouteSnapshot `json:"route"`
	Step               events.StepContext   `json:"step"`
}

// Dispatcher is the single authority for the latest progress and location
// seen by the engine. Observer callbacks only do cheap state writes here;
// anything heavier happens on the engine's background scope.
type Dispatcher struct {
	ring *RingBuffer

	mu          sync.RWMutex
	progress    Progress
	hasProgress bool
	location    events.Location
	hasLocation bool

	firstLocationPending atomic.Bool

	// Single-slot, newest-overwrites-oldest. Intermediate ticks may be
	// dropped; the terminal arrived tick cannot be, because nothing
	// overwrites it before the monitor reads it or the session ends.
	arrivalSlot chan Progress
}

func NewDispatcher(ring *RingBuffer) *Dispatcher {
	return &Dispatcher{
		ring:        ring,
		arrivalSlot: make(chan Progress, 1),
	}
}

func (d *Dispatcher) Ring() *RingBuffer { return d.ring }

// OnProgress records the tick and refreshes the arrival slot. Never blocks.
func (d *Dispatcher) OnProgress(p Progress) {
	d.mu.Lock()
	d.progress = p
	d.hasProgress = true
	d.mu.Unlock()

	select {
	case <-d.arrivalSlot:
	default:
	}
	select {
	case d.arrivalSlot <- p:
	default:
	}
}

// OnLocation records the fix into the ring buffer and clears the
// first-location-pending flag. Never blocks. Fixes without a reported
// speed get one derived from the previous fix.
func (d *Dispatcher) OnLocation(loc events.Location) {
	d.mu.Lock()
	if loc.SpeedMps == 0 && d.hasLocation && loc.RecordedAt.After(d.location.RecordedAt) {
		deltaM := geo.HaversineKm(d.location.Lat, d.location.Lng, loc.Lat, loc.Lng) * 1000
		if dt := loc.RecordedAt.Sub(d.location.RecordedAt).Seconds(); dt > 0 {
			loc.SpeedMps = deltaM / dt
		}
	}
	d.location = loc
	d.hasLocation = true
	d.mu.Unlock()

	d.ring.Record(loc)
	d.firstLocationPending.Store(false)
}

// LatestProgress returns the last tick, or a zero Progress before any
// tick has been seen.
func (d *Dispatcher) LatestProgress() (Progress, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.progress, d.hasProgress
}

func (d *Dispatcher) LatestLocation() (events.Location, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.location, d.hasLocation
}

func (d *Dispatcher) MarkFirstLocationPending()  { d.firstLocationPending.Store(true) }
func (d *Dispatcher) ClearFirstLocationPending() { d.firstLocationPending.Store(false) }
func (d *Dispatcher) FirstLocationPending() bool { return d.firstLocationPending.Load() }

// ResetArrival discards any unread tick so a new session's monitor never
// observes a previous session's terminal state.
func (d *Dispatcher) ResetArrival() {
	select {
	case <-d.arrivalSlot:
	default:
	}
}

// AwaitArrival blocks until a progress tick carrying the terminal arrived
// state is observed, or ctx is cancelled. Non-terminal ticks are consumed
// and discarded.
func (d *Dispatcher) AwaitArrival(ctx context.Context) (Progress, error) {
	for {
		select {
		case <-ctx.Done():
			return Progress{}, ctx.Err()
		case p := <-d.arrivalSlot:
			if p.State == ProgressArrived {
				return p, nil
			}
		}
	}
}
