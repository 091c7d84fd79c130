package telemetry

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teju/navtelemetry/internal/events"
)

var (
	// ErrConfiguration means the access token is missing or malformed.
	ErrConfiguration = errors.New("telemetry: access token missing or malformed")
	// ErrNotInitialized means a caller-facing operation ran before Initialize.
	ErrNotInitialized = errors.New("telemetry: engine not initialized")
)

// SessionState is the two-state session lifecycle. Transitions are
// compare-and-swap based so concurrent observer callbacks cannot race a
// transition.
type SessionState int32

const (
	StateEnd SessionState = iota
	StateStart
)

// Reporter accepts fully assembled events. Submit must be fire-and-forget:
// it never blocks the caller and never fails synchronously.
type Reporter interface {
	Submit(ev events.Event)
}

// InitConfig carries the one-time setup arguments for Initialize.
type InitConfig struct {
	AccessToken  string
	Device       string
	AppVersion   string
	Connectivity string
}

const defaultFeedbackWait = 40 * time.Second

// Engine is the telemetry session engine. One instance per process; all
// background work runs on its internal scope and is torn down by Disable.
type Engine struct {
	reporter   Reporter
	dispatcher *Dispatcher

	initialized atomic.Bool
	state       atomic.Int32
	offRoute    atomic.Bool
	reroute     rerouteState

	mu            sync.Mutex
	meta          *events.SessionMetadata
	monitorCancel context.CancelFunc

	device       string
	appVersion   string
	connectivity string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now          func() time.Time
	feedbackWait time.Duration
}

// NewEngine wires an engine to its reporter. Pass a nil ring to get the
// default capacity and retention window.
func NewEngine(rep Reporter, ring *RingBuffer) *Engine {
	if ring == nil {
		ring = NewRingBuffer(DefaultRingCapacity, DefaultRingMaxAge)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		reporter:     rep,
		dispatcher:   NewDispatcher(ring),
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
		feedbackWait: defaultFeedbackWait,
	}
}

func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// State reports the current session state.
func (e *Engine) State() SessionState { return SessionState(e.state.Load()) }

// Initialize performs one-time setup: token validation and the turnstile
// ping. The first successful call wins; every later call is a no-op
// returning nil. A failed call leaves the engine uninitialized so the
// caller can retry with a valid token.
func (e *Engine) Initialize(cfg InitConfig) error {
	if e.initialized.Load() {
		return nil
	}
	if !validAccessToken(cfg.AccessToken) {
		return ErrConfiguration
	}
	if !e.initialized.CompareAndSwap(false, true) {
		return nil
	}

	e.device = cfg.Device
	e.appVersion = cfg.AppVersion
	e.connectivity = cfg.Connectivity

	e.reporter.Submit(events.Turnstile{
		Device:     cfg.Device,
		AppVersion: cfg.AppVersion,
		CreatedAt:  e.now(),
	})
	return nil
}

func validAccessToken(token string) bool {
	return strings.HasPrefix(token, "pk.") && len(token) > 3 ||
		strings.HasPrefix(token, "sk.") && len(token) > 3
}

// OnLocation is the raw location callback. Cheap and non-blocking.
func (e *Engine) OnLocation(loc events.Location) {
	if !e.initialized.Load() {
		return
	}
	e.dispatcher.OnLocation(loc)
}

// OnRouteProgress is the route-progress callback. It refreshes the
// dispatcher and the live session counters.
func (e *Engine) OnRouteProgress(p Progress) {
	if !e.initialized.Load() {
		return
	}
	e.dispatcher.OnProgress(p)

	e.mu.Lock()
	if e.meta != nil {
		e.meta.DistanceRemainingM = p.DistanceRemainingM
		e.meta.DistanceCompletedM = p.DistanceTraveledM
		if p.Route.Geometry != "" {
			e.meta.CurrentRoute = p.Route
		}
	}
	e.mu.Unlock()
}

// OnOffRoute is the off-route flag callback. Only the entered-off-route
// edge matters; the debouncer collapses bursts.
func (e *Engine) OnOffRoute(offRoute bool) {
	if !e.initialized.Load() {
		return
	}
	if !offRoute {
		e.offRoute.Store(false)
		return
	}
	if !e.offRoute.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	if e.meta != nil {
		e.meta.OffRouteCount++
	}
	e.mu.Unlock()
	e.triggerReroute()
}

// OnFasterRoute reports that a faster route became available. Without an
// active session there is no metadata to attach, so the signal is skipped.
func (e *Engine) OnFasterRoute(route events.RouteSnapshot) {
	if !e.initialized.Load() {
		return
	}
	e.mu.Lock()
	if e.meta == nil {
		e.mu.Unlock()
		return
	}
	snap := *e.meta
	e.mu.Unlock()
	e.reporter.Submit(events.FasterRoute{Session: snap, NewRoute: route})
}

// OnSessionStart transitions END to START. A start while already started
// means stop was never called: the outgoing session is force-ended (with
// its cancel event) and the start is retried once, so every START pairs
// with exactly one END.
func (e *Engine) OnSessionStart(route events.RouteSnapshot, loc events.Location) {
	if !e.initialized.Load() {
		return
	}
	if !e.casState(StateEnd, StateStart) {
		log.Printf("telemetry: session start without a prior stop, forcing end")
		if e.casState(StateStart, StateEnd) {
			e.finalizeSession()
		}
		if !e.casState(StateEnd, StateStart) {
			return
		}
	}
	e.startSession(route, loc)
}

// OnSessionStop transitions START to END and finalizes the session.
// A repeated stop is a silent no-op.
func (e *Engine) OnSessionStop() {
	if !e.initialized.Load() {
		return
	}
	if !e.casState(StateStart, StateEnd) {
		return
	}
	e.finalizeSession()
}

func (e *Engine) casState(from, to SessionState) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

func (e *Engine) startSession(route events.RouteSnapshot, loc events.Location) {
	mctx, cancel := context.WithCancel(e.ctx)

	e.mu.Lock()
	meta := &events.SessionMetadata{
		SessionID:          uuid.NewString(),
		StartedAt:          e.now(),
		OriginalRoute:      route,
		CurrentRoute:       route,
		DistanceRemainingM: route.DistanceM,
		Device:             e.device,
		AppVersion:         e.appVersion,
		Connectivity:       e.connectivity,
	}
	e.meta = meta
	e.monitorCancel = cancel
	snap := *meta
	e.mu.Unlock()

	e.dispatcher.MarkFirstLocationPending()
	e.dispatcher.ResetArrival()

	if route.Geometry != "" {
		e.reporter.Submit(events.Departure{Session: snap, Location: loc})
	} else {
		// no route, no departure: a missing event beats a malformed one
		log.Printf("telemetry: session %s started without a route, skipping departure", snap.SessionID)
	}

	e.wg.Add(1)
	go e.runArrivalMonitor(mctx, meta.SessionID)
}

// finalizeSession emits the cancel event for the outgoing session and
// resets all session-scoped state. Arrival supersedes a stale cancel
// flag: an arrived session reports canceled=false with its arrival
// timestamp populated.
func (e *Engine) finalizeSession() {
	e.mu.Lock()
	meta := e.meta
	cancel := e.monitorCancel
	e.meta = nil
	e.monitorCancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.dispatcher.ClearFirstLocationPending()
	e.offRoute.Store(false)
	e.reroute.lastEventMillis.Store(0)

	if meta == nil {
		return
	}
	var arrivalTs *time.Time
	if meta.Arrived {
		t := meta.ArrivedAt
		arrivalTs = &t
	} else {
		meta.Canceled = true
	}
	e.reporter.Submit(events.Cancel{Session: *meta, ArrivalTimestamp: arrivalTs})
}

// PostUserFeedback submits a user-feedback event. The location context
// ("before" and "after" windows) and step context are captured
// asynchronously; the caller only observes submission.
func (e *Engine) PostUserFeedback(feedbackType, description, source, screenshotRef string) error {
	if !e.initialized.Load() {
		return ErrNotInitialized
	}
	e.wg.Add(1)
	go e.assembleFeedback(feedbackType, description, source, screenshotRef)
	return nil
}

func (e *Engine) assembleFeedback(feedbackType, description, source, screenshotRef string) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.ctx, e.feedbackWait)
	defer cancel()

	before, afterCh := e.dispatcher.Ring().SnapshotBeforeAfter(ctx)
	after := <-afterCh

	p, _ := e.dispatcher.LatestProgress()

	e.mu.Lock()
	var snap events.SessionMetadata
	if e.meta != nil {
		snap = *e.meta
	}
	e.mu.Unlock()

	e.reporter.Submit(events.UserFeedback{
		Session:         snap,
		FeedbackType:    feedbackType,
		Description:     description,
		Source:          source,
		ScreenshotRef:   screenshotRef,
		Step:            p.Step,
		LocationsBefore: before,
		LocationsAfter:  after,
	})
}

// Disable tears the engine down: cancels every outstanding background
// task and waits for them to exit.
func (e *Engine) Disable() {
	e.cancel()
	e.wg.Wait()
}
