package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teju/navtelemetry/internal/events"
)

type captureReporter struct {
	mu  sync.Mutex
	all []events.Event
}

func (r *captureReporter) Submit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, ev)
}

func (r *captureReporter) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.all {
		if ev.EventName() == name {
			n++
		}
	}
	return n
}

func (r *captureReporter) byName(name string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.all {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func newTestEngine(t *testing.T, ringMaxAge time.Duration) (*Engine, *captureReporter) {
	t.Helper()
	rep := &captureReporter{}
	e := NewEngine(rep, NewRingBuffer(20, ringMaxAge))
	t.Cleanup(e.Disable)
	if err := e.Initialize(InitConfig{AccessToken: "pk.test", Device: "test-device", AppVersion: "1.0"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return e, rep
}

func testRoute() events.RouteSnapshot {
	return events.RouteSnapshot{Geometry: "abc123", DistanceM: 1000, DurationSec: 120, StepCount: 4}
}

func TestInitializeValidatesToken(t *testing.T) {
	for _, token := range []string{"", "token", "pk", "pk.", "xk.abc"} {
		e := NewEngine(&captureReporter{}, nil)
		if err := e.Initialize(InitConfig{AccessToken: token}); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("token %q: expected ErrConfiguration, got %v", token, err)
		}
		e.Disable()
	}
	for _, token := range []string{"pk.abc", "sk.abc"} {
		e := NewEngine(&captureReporter{}, nil)
		if err := e.Initialize(InitConfig{AccessToken: token}); err != nil {
			t.Fatalf("token %q: unexpected error %v", token, err)
		}
		e.Disable()
	}
}

func TestInitializeIdempotent(t *testing.T) {
	rep := &captureReporter{}
	e := NewEngine(rep, nil)
	defer e.Disable()

	for i := 0; i < 3; i++ {
		if err := e.Initialize(InitConfig{AccessToken: "pk.test"}); err != nil {
			t.Fatalf("initialize %d: %v", i, err)
		}
	}
	if got := rep.count(events.NameTurnstile); got != 1 {
		t.Fatalf("expected exactly one turnstile event, got %d", got)
	}
}

func TestFeedbackBeforeInitialize(t *testing.T) {
	rep := &captureReporter{}
	e := NewEngine(rep, nil)
	defer e.Disable()

	if err := e.PostUserFeedback("general", "broken", "ui", ""); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if len(rep.all) != 0 {
		t.Fatalf("expected no events before initialize")
	}
}

func TestCallbacksBeforeInitializeIgnored(t *testing.T) {
	rep := &captureReporter{}
	e := NewEngine(rep, nil)
	defer e.Disable()

	e.OnSessionStart(testRoute(), events.Location{})
	e.OnSessionStop()
	e.OnOffRoute(true)

	if e.State() != StateEnd {
		t.Fatalf("expected END state before initialize")
	}
	if len(rep.all) != 0 {
		t.Fatalf("expected no events before initialize")
	}
}

func TestSessionStartEmitsDeparture(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	e.OnSessionStart(testRoute(), events.Location{Lat: -6.2, Lng: 106.8})

	if e.State() != StateStart {
		t.Fatalf("expected START state")
	}
	deps := rep.byName(events.NameDeparture)
	if len(deps) != 1 {
		t.Fatalf("expected one departure, got %d", len(deps))
	}
	dep := deps[0].(events.Departure)
	if dep.Session.SessionID == "" {
		t.Fatalf("expected session id in departure")
	}
	if dep.Session.DistanceRemainingM != 1000 {
		t.Fatalf("expected distance remaining seeded from route")
	}
}

func TestSessionStartWithoutRouteSkipsDeparture(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	e.OnSessionStart(events.RouteSnapshot{}, events.Location{})

	if e.State() != StateStart {
		t.Fatalf("expected session to start anyway")
	}
	if got := rep.count(events.NameDeparture); got != 0 {
		t.Fatalf("expected no departure without a route, got %d", got)
	}
}

func TestDoubleStartSelfHeals(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	e.OnSessionStart(testRoute(), events.Location{})
	e.OnSessionStart(testRoute(), events.Location{})

	if e.State() != StateStart {
		t.Fatalf("expected START state after retry")
	}
	if got := rep.count(events.NameCancel); got != 1 {
		t.Fatalf("expected one cancel from the forced end, got %d", got)
	}
	deps := rep.byName(events.NameDeparture)
	if len(deps) != 2 {
		t.Fatalf("expected two departures, got %d", len(deps))
	}
	first := deps[0].(events.Departure).Session.SessionID
	second := deps[1].(events.Departure).Session.SessionID
	if first == second {
		t.Fatalf("expected a fresh session id on retry")
	}
}

func TestStopEmitsCancelOnce(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	e.OnSessionStart(testRoute(), events.Location{})
	e.OnSessionStop()
	e.OnSessionStop()

	if e.State() != StateEnd {
		t.Fatalf("expected END state")
	}
	cancels := rep.byName(events.NameCancel)
	if len(cancels) != 1 {
		t.Fatalf("expected exactly one cancel, got %d", len(cancels))
	}
	ev := cancels[0].(events.Cancel)
	if !ev.Session.Canceled {
		t.Fatalf("expected canceled flag on a non-arrived session")
	}
	if ev.ArrivalTimestamp != nil {
		t.Fatalf("expected no arrival timestamp without arrival")
	}
}

func TestStopWithoutStartNoop(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	e.OnSessionStop()

	if got := rep.count(events.NameCancel); got != 0 {
		t.Fatalf("expected no cancel without a session, got %d", got)
	}
}

func TestArrivalFlow(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	e.OnSessionStart(testRoute(), events.Location{Lat: -6.2, Lng: 106.8})
	e.OnLocation(events.Location{Lat: -6.9, Lng: 107.6, RecordedAt: time.Now()})
	e.OnRouteProgress(Progress{State: ProgressArrived, DistanceTraveledM: 1000})

	waitFor(t, func() bool { return rep.count(events.NameArrival) == 1 })

	arr := rep.byName(events.NameArrival)[0].(events.Arrival)
	if arr.Location.Lat != -6.9 {
		t.Fatalf("expected arrival to carry the latest location")
	}
	if !arr.Session.Arrived || arr.Session.Canceled {
		t.Fatalf("expected arrived metadata, got %+v", arr.Session)
	}
	if arr.Session.DistanceRemainingM != 0 {
		t.Fatalf("expected zero distance remaining on arrival")
	}

	// re-delivering the terminal tick must not re-arm the monitor
	e.OnRouteProgress(Progress{State: ProgressArrived})
	time.Sleep(20 * time.Millisecond)
	if got := rep.count(events.NameArrival); got != 1 {
		t.Fatalf("expected exactly one arrival, got %d", got)
	}

	e.OnSessionStop()
	cancels := rep.byName(events.NameCancel)
	if len(cancels) != 1 {
		t.Fatalf("expected one cancel on stop, got %d", len(cancels))
	}
	ev := cancels[0].(events.Cancel)
	if ev.ArrivalTimestamp == nil {
		t.Fatalf("expected arrival timestamp on post-arrival cancel")
	}
	if ev.Session.Canceled {
		t.Fatalf("arrival must supersede the canceled flag")
	}
}

func TestStopBeforeArrivalCancelsMonitor(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	e.OnSessionStart(testRoute(), events.Location{})
	e.OnSessionStop()

	e.OnRouteProgress(Progress{State: ProgressArrived})
	time.Sleep(20 * time.Millisecond)

	if got := rep.count(events.NameArrival); got != 0 {
		t.Fatalf("expected no arrival after stop, got %d", got)
	}
}

func TestStartStopPairing(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	for i := 0; i < 5; i++ {
		e.OnSessionStart(testRoute(), events.Location{})
		e.OnSessionStop()
	}

	if got := rep.count(events.NameDeparture); got != 5 {
		t.Fatalf("expected 5 departures, got %d", got)
	}
	if got := rep.count(events.NameCancel); got != 5 {
		t.Fatalf("expected 5 cancels, got %d", got)
	}
}

func TestFeedbackEvent(t *testing.T) {
	e, rep := newTestEngine(t, 200*time.Millisecond)

	e.OnLocation(events.Location{Lat: -6.2, Lng: 106.8, RecordedAt: time.Now()})
	e.OnRouteProgress(Progress{Step: events.StepContext{Maneuver: "turn left", DistanceRemainingM: 80}})

	if err := e.PostUserFeedback("general", "wrong turn announced", "ui", "shot-1"); err != nil {
		t.Fatalf("post feedback: %v", err)
	}

	waitFor(t, func() bool { return rep.count(events.NameUserFeedback) == 1 })

	fb := rep.byName(events.NameUserFeedback)[0].(events.UserFeedback)
	if fb.FeedbackType != "general" || fb.Source != "ui" || fb.ScreenshotRef != "shot-1" {
		t.Fatalf("unexpected feedback payload: %+v", fb)
	}
	if fb.Step.Maneuver != "turn left" {
		t.Fatalf("expected step context captured")
	}
	if len(fb.LocationsBefore) != 1 {
		t.Fatalf("expected one before sample, got %d", len(fb.LocationsBefore))
	}
}

func TestFasterRouteRequiresSession(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	e.OnFasterRoute(testRoute())
	if got := rep.count(events.NameFasterRoute); got != 0 {
		t.Fatalf("expected faster-route skipped without session, got %d", got)
	}

	e.OnSessionStart(testRoute(), events.Location{})
	e.OnFasterRoute(events.RouteSnapshot{Geometry: "xyz", DistanceM: 900})

	evs := rep.byName(events.NameFasterRoute)
	if len(evs) != 1 {
		t.Fatalf("expected one faster-route event, got %d", len(evs))
	}
	if evs[0].(events.FasterRoute).NewRoute.Geometry != "xyz" {
		t.Fatalf("expected the new route in the payload")
	}
}

func TestProgressUpdatesMetadata(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)

	e.OnSessionStart(testRoute(), events.Location{})
	e.OnRouteProgress(Progress{State: ProgressTracking, DistanceRemainingM: 600, DistanceTraveledM: 400})
	e.OnFasterRoute(events.RouteSnapshot{Geometry: "xyz"})

	ev := rep.byName(events.NameFasterRoute)[0].(events.FasterRoute)
	if ev.Session.DistanceRemainingM != 600 || ev.Session.DistanceCompletedM != 400 {
		t.Fatalf("expected progress reflected in metadata, got %+v", ev.Session)
	}
}
