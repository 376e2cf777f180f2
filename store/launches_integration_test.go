package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fuzzcorp/starter/pod"
	"github.com/fuzzcorp/starter/podevents"
)

const schemaDDL = `
CREATE TABLE launch_records (
    id SERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    pool_id TEXT NOT NULL,
    fuzzer_id TEXT NOT NULL,
    fuzzer_rev TEXT NOT NULL,
    session_id TEXT NOT NULL,
    agent_mode TEXT NOT NULL,
    fuzzer_lang TEXT NOT NULL,
    fuzzer_engine TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    finish_time TIMESTAMPTZ NOT NULL,
    exit_reason TEXT NOT NULL,
    agent_logs TEXT,
    sandbox_logs TEXT,
    exp_date TIMESTAMPTZ NOT NULL
);
CREATE TABLE unsent_messages (
    id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    payload JSONB NOT NULL
);
`

// TestLaunchStoreIntegration_SaveAndSweep exercises SaveLaunch/SweepExpired
// against a real Postgres instance started via testcontainers. Skipped
// unless Docker is available, matching how utils/postgres's integration
// test expects a reachable database.
func TestLaunchStoreIntegration_SaveAndSweep(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15.1",
		tcpostgres.WithDatabase("starter_db"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second),
	)
	if err != nil {
		t.Skipf("skipping, could not start postgres container: %v", err)
	}
	defer container.Terminate(ctx)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	launches := NewLaunchStore(pool, logger)

	now := time.Now()
	expired := podevents.LaunchRecord{
		Suitcase:   pod.Suitcase{UserID: "u1", ProjectID: "p1", PoolID: "pool-1", FuzzerID: "fz1", FuzzerRev: "rev1", SessionID: "s1", AgentMode: pod.AgentModeFuzzing, FuzzerLang: "c", FuzzerEngine: "libfuzzer"},
		StartTime:  now.Add(-48 * time.Hour),
		FinishTime: now.Add(-47 * time.Hour),
		ExitReason: "Completed",
		ExpDate:    now.Add(-24 * time.Hour),
	}
	fresh := expired
	fresh.ExpDate = now.Add(24 * time.Hour)

	if err := launches.SaveLaunch(ctx, expired); err != nil {
		t.Fatalf("SaveLaunch(expired): %v", err)
	}
	if err := launches.SaveLaunch(ctx, fresh); err != nil {
		t.Fatalf("SaveLaunch(fresh): %v", err)
	}

	n, err := launches.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("SweepExpired removed %d rows, want 1", n)
	}

	var remaining int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM launch_records").Scan(&remaining); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining rows = %d, want 1", remaining)
	}
}

// TestOutboxStoreIntegration_SaveAndLoad exercises the outbox upsert
// round trip against a real Postgres instance.
func TestOutboxStoreIntegration_SaveAndLoad(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15.1",
		tcpostgres.WithDatabase("starter_db"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second),
	)
	if err != nil {
		t.Skipf("skipping, could not start postgres container: %v", err)
	}
	defer container.Terminate(ctx)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	outbox := NewOutboxStore(pool, logger)

	if err := outbox.Save(ctx, []byte(`[{"id":"m1"}]`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := outbox.Save(ctx, []byte(`[{"id":"m2"}]`)); err != nil {
		t.Fatalf("Save (overwrite): %v", err)
	}

	payload, err := outbox.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(payload) != `[{"id":"m2"}]` {
		t.Fatalf("Load = %s, want the latest saved payload", payload)
	}
}
