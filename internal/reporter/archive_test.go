package reporter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/teju/navtelemetry/internal/events"
)

func TestArchiveStoresEnvelopes(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO telemetry_events`).
		WithArgs(pgxmock.AnyArg(), events.NameArrival, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	archive := NewArchive(mock)
	obs := &Observer{Events: make(chan Envelope, 1)}
	obs.Events <- Envelope{Name: events.NameArrival, OccurredAt: time.Now(), Payload: []byte(`{}`)}
	close(obs.Events)

	archive.Run(context.Background(), obs)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchiveSkipsFailedInserts(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO telemetry_events`).
		WithArgs(pgxmock.AnyArg(), events.NameCancel, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errArchive)
	mock.ExpectExec(`INSERT INTO telemetry_events`).
		WithArgs(pgxmock.AnyArg(), events.NameReroute, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	archive := NewArchive(mock)
	obs := &Observer{Events: make(chan Envelope, 2)}
	obs.Events <- Envelope{Name: events.NameCancel, OccurredAt: time.Now(), Payload: []byte(`{}`)}
	obs.Events <- Envelope{Name: events.NameReroute, OccurredAt: time.Now(), Payload: []byte(`{}`)}
	close(obs.Events)

	archive.Run(context.Background(), obs)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchiveStopsOnContext(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	archive := NewArchive(mock)
	obs := &Observer{Events: make(chan Envelope)}

	done := make(chan struct{})
	go func() {
		archive.Run(ctx, obs)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("archive did not stop on cancelled context")
	}
}

var errArchive = errors.New("archive error")
