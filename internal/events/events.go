package events

import "time"

// Event names are stable wire constants; the backend keys payload schemas
// off them.
const (
	NameTurnstile    = "navigation.appUserTurnstile"
	NameDeparture    = "navigation.depart"
	NameArrival      = "navigation.arrive"
	NameCancel       = "navigation.cancel"
	NameReroute      = "navigation.reroute"
	NameFasterRoute  = "navigation.fasterRoute"
	NameUserFeedback = "navigation.feedback"
)

// Event is any fully assembled telemetry payload. Payloads are immutable
// once constructed; ownership transfers to the reporter on submission.
type Event interface {
	EventName() string
}

type Location struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedMps   float64   `json:"speed_mps"`
	AccuracyM  float64   `json:"accuracy_m"`
	RecordedAt time.Time `json:"recorded_at"`
}

type RouteSnapshot struct {
	Geometry    string  `json:"geometry"`
	DistanceM   float64 `json:"distance_m"`
	DurationSec float64 `json:"duration_sec"`
	StepCount   int     `json:"step_count"`
}

// StepContext describes the upcoming maneuver at the moment an event was
// assembled.
type StepContext struct {
	Maneuver           string  `json:"maneuver"`
	DistanceRemainingM float64 `json:"distance_remaining_m"`
	DurationRemainingS float64 `json:"duration_remaining_s"`
}

// SessionMetadata is the per-session snapshot embedded in every
// session-scoped event. The engine owns the live copy; events carry a
// value snapshot taken at assembly time.
type SessionMetadata struct {
	SessionID          string        `json:"session_id"`
	StartedAt          time.Time     `json:"started_at"`
	OriginalRoute      RouteSnapshot `json:"original_route"`
	CurrentRoute       RouteSnapshot `json:"current_route"`
	DistanceRemainingM float64       `json:"distance_remaining_m"`
	DistanceCompletedM float64       `json:"distance_completed_m"`
	RerouteCount       int           `json:"reroute_count"`
	OffRouteCount      int           `json:"off_route_count"`
	Arrived            bool          `json:"arrived"`
	ArrivedAt          time.Time     `json:"arrived_at"`
	Canceled           bool          `json:"canceled"`
	Device             string        `json:"device"`
	AppVersion         string        `json:"app_version"`
	Connectivity       string        `json:"connectivity"`
}

// Turnstile is the one-time app-usage ping, independent of any session.
type Turnstile struct {
	Device     string    `json:"device"`
	AppVersion string    `json:"app_version"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Turnstile) EventName() string { return NameTurnstile }

type Departure struct {
	Session  SessionMetadata `json:"session"`
	Location Location        `json:"location"`
}

func (Departure) EventName() string { return NameDeparture }

type Arrival struct {
	Session   SessionMetadata `json:"session"`
	Location  Location        `json:"location"`
	ArrivedAt time.Time       `json:"arrived_at"`
}

func (Arrival) EventName() string { return NameArrival }

// Cancel has two variants: ArrivalTimestamp is populated only when the
// session had already arrived before it was stopped.
type Cancel struct {
	Session          SessionMetadata `json:"session"`
	ArrivalTimestamp *time.Time      `json:"arrival_timestamp,omitempty"`
}

func (Cancel) EventName() string { return NameCancel }

type Reroute struct {
	Session                 SessionMetadata `json:"session"`
	LocationsBefore         []Location      `json:"locations_before"`
	LocationsAfter          []Location      `json:"locations_after"`
	SecondsSinceLastReroute int             `json:"seconds_since_last_reroute"`
	NewDistanceRemainingM   float64         `json:"new_distance_remaining_m"`
}

func (Reroute) EventName() string { return NameReroute }

type FasterRoute struct {
	Session  SessionMetadata `json:"session"`
	NewRoute RouteSnapshot   `json:"new_route"`
}

func (FasterRoute) EventName() string { return NameFasterRoute }

type UserFeedback struct {
	Session         SessionMetadata `json:"session"`
	FeedbackType    string          `json:"feedback_type"`
	Description     string          `json:"description"`
	Source          string          `json:"source"`
	ScreenshotRef   string          `json:"screenshot_ref,omitempty"`
	Step            StepContext     `json:"step"`
	LocationsBefore []Location      `json:"locations_before"`
	LocationsAfter  []Location      `json:"locations_after"`
}

func (UserFeedback) EventName() string { return NameUserFeedback }
