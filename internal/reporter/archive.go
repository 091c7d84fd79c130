package reporter

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/teju/navtelemetry/internal/db"
)

// Archive drains a hub observer into the telemetry_events table so the
// stream can be analysed offline. It sits entirely on the reporter side
// of the boundary; the engine never reads archived events back.
type Archive struct {
	db db.Querier
}

func NewArchive(querier db.Querier) *Archive {
	return &Archive{db: querier}
}

// Run consumes obs until its channel closes or ctx is cancelled. Insert
// failures are logged and skipped; the stream keeps flowing.
func (a *Archive) Run(ctx context.Context, obs *Observer) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-obs.Events:
			if !ok {
				return
			}
			if err := a.store(ctx, env); err != nil {
				log.Printf("archive: store %s event: %v", env.Name, err)
			}
		}
	}
}

func (a *Archive) store(ctx context.Context, env Envelope) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO telemetry_events (id, name, payload, occurred_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), env.Name, []byte(env.Payload), env.OccurredAt)
	return err
}
