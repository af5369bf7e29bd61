package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const journeysSchema = `
CREATE TABLE IF NOT EXISTS journey_runs (
  journey_id   TEXT PRIMARY KEY,
  session_id   TEXT NOT NULL,
  destination  TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL,
  ticks        INTEGER NOT NULL DEFAULT 0,
  started_at   TIMESTAMPTZ NOT NULL,
  finished_at  TIMESTAMPTZ
)`

// JourneyRun is one row of journey_runs.
type JourneyRun struct {
	JourneyID   string
	SessionID   string
	Destination string
	Status      string
	Ticks       int
	StartedAt   time.Time
	FinishedAt  sql.NullTime
}

// EnsureJourneySchema creates journey_runs if missing.
func EnsureJourneySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, journeysSchema); err != nil {
		return fmt.Errorf("create journey_runs: %w", err)
	}
	return nil
}

func InsertJourneyRun(ctx context.Context, db *sql.DB, r JourneyRun) error {
	q := `INSERT INTO journey_runs (journey_id, session_id, destination, status, ticks, started_at)
          VALUES ($1, $2, $3, $4, $5, $6)
          ON CONFLICT (journey_id) DO NOTHING`
	if _, err := db.ExecContext(ctx, q, r.JourneyID, r.SessionID, r.Destination, r.Status, r.Ticks, r.StartedAt); err != nil {
		return fmt.Errorf("insert journey %s: %w", r.JourneyID, err)
	}
	return nil
}

func FinishJourneyRun(ctx context.Context, db *sql.DB, journeyID, status string, ticks int, at time.Time) error {
	q := `UPDATE journey_runs SET status = $2, ticks = $3, finished_at = $4 WHERE journey_id = $1`
	if _, err := db.ExecContext(ctx, q, journeyID, status, ticks, at); err != nil {
		return fmt.Errorf("finish journey %s: %w", journeyID, err)
	}
	return nil
}

// RecentJourneyRuns returns the latest runs for a session, newest first.
func RecentJourneyRuns(ctx context.Context, db *sql.DB, sessionID string, limit int) ([]JourneyRun, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT journey_id, session_id, destination, status, ticks, started_at, finished_at
          FROM journey_runs WHERE session_id = $1
          ORDER BY started_at DESC LIMIT $2`
	rows, err := db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journey_runs: %w", err)
	}
	defer rows.Close()
	var out []JourneyRun
	for rows.Next() {
		var r JourneyRun
		if err := rows.Scan(&r.JourneyID, &r.SessionID, &r.Destination, &r.Status, &r.Ticks, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
