// Package history persists one row per journey: when it started and how it finished.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"notiapp/internal/db"
	"notiapp/internal/sim"
)

const writeTimeout = 5 * time.Second

type Store interface {
	Insert(ctx context.Context, r db.JourneyRun) error
	Finish(ctx context.Context, journeyID, status string, ticks int, at time.Time) error
}

// SQLStore writes journey_runs through database/sql.
type SQLStore struct{ DB *sql.DB }

func (s SQLStore) Insert(ctx context.Context, r db.JourneyRun) error {
	return db.InsertJourneyRun(ctx, s.DB, r)
}

func (s SQLStore) Finish(ctx context.Context, journeyID, status string, ticks int, at time.Time) error {
	return db.FinishJourneyRun(ctx, s.DB, journeyID, status, ticks, at)
}

// Recorder is a sim.Listener that mirrors lifecycle transitions into a Store.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder { return &Recorder{store: store} }

func (r *Recorder) PositionChanged(sim.PositionUpdate) {}

func (r *Recorder) StatusChanged(e sim.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch e.To {
	case sim.Running:
		err = r.store.Insert(ctx, db.JourneyRun{
			JourneyID:   e.JourneyID,
			SessionID:   e.Session,
			Destination: e.Destination,
			Status:      e.To.String(),
			StartedAt:   e.StartedAt,
		})
	case sim.Stopped, sim.Ended, sim.Completed:
		err = r.store.Finish(ctx, e.JourneyID, e.To.String(), e.Ticks, e.Timestamp)
	}
	if err != nil {
		log.Error().Err(err).Str("journey", e.JourneyID).Msg("record journey history")
	}
}

// Recent lists a session's latest journeys, newest first.
func (s SQLStore) Recent(ctx context.Context, session string, limit int) ([]db.JourneyRun, error) {
	return db.RecentJourneyRuns(ctx, s.DB, session, limit)
}
