package telemetry

import (
	"context"
	"sync/atomic"

	"github.com/teju/navtelemetry/internal/events"
)

// rerouteState is the debounce cell. At most one finalize cycle is in
// flight; off-route edges arriving mid-cycle only refresh the clock that
// the next cycle measures its elapsed time from.
type rerouteState struct {
	processing      atomic.Bool
	lastEventMillis atomic.Int64
}

func (e *Engine) triggerReroute() {
	nowMillis := e.now().UnixMilli()
	if !e.reroute.processing.CompareAndSwap(false, true) {
		e.reroute.lastEventMillis.Store(nowMillis)
		return
	}
	prev := e.reroute.lastEventMillis.Swap(nowMillis)
	e.wg.Add(1)
	go e.runRerouteCycle(e.ctx, nowMillis, prev)
}

// runRerouteCycle assembles and emits one reroute event, then clears the
// processing gate so the next off-route edge starts a fresh cycle.
func (e *Engine) runRerouteCycle(ctx context.Context, triggeredMillis, prevMillis int64) {
	defer e.wg.Done()
	defer e.reroute.processing.Store(false)

	before, afterCh := e.dispatcher.Ring().SnapshotBeforeAfter(ctx)
	after := <-afterCh

	// under a second since the previous event counts as the same
	// logical occurrence
	seconds := 0
	if prevMillis > 0 {
		if d := triggeredMillis - prevMillis; d >= 1000 {
			seconds = int(d / 1000)
		}
	}

	p, _ := e.dispatcher.LatestProgress()

	e.mu.Lock()
	if e.meta == nil {
		// session ended mid-cycle
		e.mu.Unlock()
		return
	}
	e.meta.RerouteCount++
	snap := *e.meta
	e.mu.Unlock()

	e.reporter.Submit(events.Reroute{
		Session:                 snap,
		LocationsBefore:         before,
		LocationsAfter:          after,
		SecondsSinceLastReroute: seconds,
		NewDistanceRemainingM:   p.DistanceRemainingM,
	})
}
