// Package store persists launch records and the message outbox to
// Postgres.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fuzzcorp/starter/podevents"
)

//	CREATE TABLE IF NOT EXISTS launch_records (
//	    id SERIAL PRIMARY KEY,
//	    user_id TEXT NOT NULL,
//	    project_id TEXT NOT NULL,
//	    pool_id TEXT NOT NULL,
//	    fuzzer_id TEXT NOT NULL,
//	    fuzzer_rev TEXT NOT NULL,
//	    session_id TEXT NOT NULL,
//	    agent_mode TEXT NOT NULL,
//	    fuzzer_lang TEXT NOT NULL,
//	    fuzzer_engine TEXT NOT NULL,
//	    start_time TIMESTAMPTZ NOT NULL,
//	    finish_time TIMESTAMPTZ NOT NULL,
//	    exit_reason TEXT NOT NULL,
//	    agent_logs TEXT,
//	    sandbox_logs TEXT,
//	    exp_date TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX IF NOT EXISTS launch_records_exp_date_idx ON launch_records (exp_date);
//
// LaunchStore writes completed fuzzer run records and sweeps expired ones.
type LaunchStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLaunchStore builds a launch record store over an existing pool.
func NewLaunchStore(pool *pgxpool.Pool, logger *slog.Logger) *LaunchStore {
	return &LaunchStore{pool: pool, logger: logger.With(slog.String("component", "store.launches"))}
}

// SaveLaunch persists one completed run. Satisfies podevents.LaunchStore.
func (s *LaunchStore) SaveLaunch(ctx context.Context, r podevents.LaunchRecord) error {
	const q = `
INSERT INTO launch_records (
	user_id, project_id, pool_id, fuzzer_id, fuzzer_rev, session_id,
	agent_mode, fuzzer_lang, fuzzer_engine,
	start_time, finish_time, exit_reason, agent_logs, sandbox_logs, exp_date
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err := s.pool.Exec(ctx, q,
		r.UserID, r.ProjectID, r.PoolID, r.FuzzerID, r.FuzzerRev, r.SessionID,
		string(r.AgentMode), r.FuzzerLang, r.FuzzerEngine,
		r.StartTime, r.FinishTime, r.ExitReason, r.AgentLogs, r.SandboxLogs, r.ExpDate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert launch record: %w", err)
	}
	return nil
}

// SweepExpired deletes launch records past their retention window and
// returns the number of rows removed. Intended to run on a periodic timer
// mirroring LAUNCH_INFO_CLEANUP_INTERVAL.
func (s *LaunchStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM launch_records WHERE exp_date < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired launch records: %w", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		s.logger.Info("swept expired launch records", slog.Int64("count", n))
	}
	return n, nil
}
