package reporter

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teju/navtelemetry/internal/events"
)

// Channel is the redis channel every accepted event is published to.
const Channel = "telemetry:events"

// Envelope is the wire form of a submitted event: the stable name, the
// acceptance timestamp and the marshalled payload.
type Envelope struct {
	Name       string          `json:"name"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Hub accepts assembled telemetry events and fans them out: to every
// registered local observer and, when a redis client is wired, to the
// transport channel. Submit is fire-and-forget; acceptance is success
// regardless of downstream outcome.
type Hub struct {
	redis     *redis.Client
	observers map[*Observer]struct{}
	mu        sync.RWMutex
	now       func() time.Time
}

// Observer receives envelopes on a buffered channel. Slow observers drop
// messages rather than block submission.
type Observer struct {
	Events chan Envelope
}

func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		redis:     redisClient,
		observers: map[*Observer]struct{}{},
		now:       time.Now,
	}
}

func (h *Hub) Register() *Observer {
	obs := &Observer{Events: make(chan Envelope, 64)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers[obs] = struct{}{}
	return obs
}

func (h *Hub) Unregister(obs *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.observers[obs]; ok {
		delete(h.observers, obs)
		close(obs.Events)
	}
}

// Submit accepts an event, fans it out to local observers and publishes
// it to redis. Never blocks and never fails synchronously.
func (h *Hub) Submit(ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("reporter: marshal %s event: %v", ev.EventName(), err)
		return
	}
	env := Envelope{Name: ev.EventName(), OccurredAt: h.now(), Payload: payload}

	h.mu.RLock()
	for obs := range h.observers {
		select {
		case obs.Events <- env:
		default:
		}
	}
	h.mu.RUnlock()

	if h.redis != nil {
		go h.publish(env)
	}
}

func (h *Hub) publish(env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		log.Printf("reporter: marshal envelope: %v", err)
		return
	}
	if err := h.redis.Publish(context.Background(), Channel, body).Err(); err != nil {
		log.Printf("reporter: redis publish error: %v", err)
	}
}
