package telemetry

import (
	"context"
	"log"

	"github.com/teju/navtelemetry/internal/events"
)

// runArrivalMonitor waits for the terminal arrived tick and emits the
// arrival event exactly once for its session generation. It never
// re-arms: a new session spawns a new monitor. Ending the session
// cancels ctx, which is observed on every wait iteration.
func (e *Engine) runArrivalMonitor(ctx context.Context, sessionID string) {
	defer e.wg.Done()

	p, err := e.dispatcher.AwaitArrival(ctx)
	if err != nil {
		// session ended or engine disabled before arrival
		log.Printf("telemetry: arrival monitor for session %s stopped: %v", sessionID, err)
		return
	}

	loc, _ := e.dispatcher.LatestLocation()
	now := e.now()

	e.mu.Lock()
	if e.meta == nil || e.meta.SessionID != sessionID {
		e.mu.Unlock()
		return
	}
	e.meta.Arrived = true
	e.meta.ArrivedAt = now
	e.meta.Canceled = false
	e.meta.DistanceCompletedM = p.DistanceTraveledM
	e.meta.DistanceRemainingM = 0
	snap := *e.meta
	e.mu.Unlock()

	e.reporter.Submit(events.Arrival{Session: snap, Location: loc, ArrivedAt: now})
}
