package freedrive

import (
	"log"
	"sync"
	"time"

	"github.com/teju/navtelemetry/internal/events"
)

const (
	defaultInitialDelay = 1500 * time.Millisecond
	defaultInterval     = time.Second
	defaultLag          = 1500 * time.Millisecond
)

// PositionEngine produces a map-matched ("enhanced") location from the
// most recent raw fix, looking back lag into its internal state.
type PositionEngine interface {
	EnhancedLocation(at time.Time, lag time.Duration, raw events.Location) (events.Location, error)
}

// LocationSink receives enhanced fixes; the telemetry engine satisfies it.
type LocationSink interface {
	OnLocation(loc events.Location)
}

// Updater polls the position engine between navigation sessions and feeds
// enhanced fixes to the sink at a fixed cadence.
type Updater struct {
	mu           sync.Mutex
	engine       PositionEngine
	sink         LocationSink
	initialDelay time.Duration
	interval     time.Duration
	lag          time.Duration
	raw          *events.Location
	stop         chan struct{}
	killed       bool
	now          func() time.Time
}

func NewUpdater(engine PositionEngine, sink LocationSink) *Updater {
	return &Updater{
		engine:       engine,
		sink:         sink,
		initialDelay: defaultInitialDelay,
		interval:     defaultInterval,
		lag:          defaultLag,
		now:          time.Now,
	}
}

// OnRawLocation records the latest raw fix for the next poll.
func (u *Updater) OnRawLocation(loc events.Location) {
	u.mu.Lock()
	u.raw = &loc
	u.mu.Unlock()
}

// Start begins polling. Calling Start while running is a no-op.
func (u *Updater) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stop != nil || u.killed {
		return
	}
	u.stop = make(chan struct{})
	go u.run(u.stop, u.initialDelay, u.interval)
}

// Stop halts polling. Calling Stop while stopped is a no-op.
func (u *Updater) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopLocked()
}

// Kill stops polling permanently; Start becomes a no-op afterwards.
func (u *Updater) Kill() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopLocked()
	u.killed = true
}

// UpdateEngine swaps the position engine, restarting the poll loop if it
// was running.
func (u *Updater) UpdateEngine(engine PositionEngine) {
	u.mu.Lock()
	defer u.mu.Unlock()
	running := u.stop != nil
	u.stopLocked()
	u.engine = engine
	if running && !u.killed {
		u.stop = make(chan struct{})
		go u.run(u.stop, u.initialDelay, u.interval)
	}
}

// UpdateInterval swaps the poll cadence, restarting the loop if running.
func (u *Updater) UpdateInterval(initialDelay, interval time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	running := u.stop != nil
	u.stopLocked()
	u.initialDelay = initialDelay
	u.interval = interval
	if running && !u.killed {
		u.stop = make(chan struct{})
		go u.run(u.stop, initialDelay, interval)
	}
}

func (u *Updater) stopLocked() {
	if u.stop != nil {
		close(u.stop)
		u.stop = nil
	}
}

func (u *Updater) run(stop chan struct{}, initialDelay, interval time.Duration) {
	delay := time.NewTimer(initialDelay)
	defer delay.Stop()
	select {
	case <-stop:
		return
	case <-delay.C:
	}

	u.poll()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			u.poll()
		}
	}
}

func (u *Updater) poll() {
	u.mu.Lock()
	engine := u.engine
	raw := u.raw
	lag := u.lag
	u.mu.Unlock()

	if raw == nil || engine == nil {
		return
	}
	enhanced, err := engine.EnhancedLocation(u.now(), lag, *raw)
	if err != nil {
		log.Printf("freedrive: enhanced location: %v", err)
		return
	}
	u.sink.OnLocation(enhanced)
}
