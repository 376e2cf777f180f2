package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//	CREATE TABLE IF NOT EXISTS unsent_messages (
//	    id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
//	    payload JSONB NOT NULL
//	);
//
// OutboxStore persists the MQ publisher's unsent-message buffer as a
// single JSONB row, written on shutdown and read back on startup.
type OutboxStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOutboxStore builds an outbox store over an existing pool.
func NewOutboxStore(pool *pgxpool.Pool, logger *slog.Logger) *OutboxStore {
	return &OutboxStore{pool: pool, logger: logger.With(slog.String("component", "store.outbox"))}
}

// Save upserts the current outbox payload, replacing whatever was there.
func (s *OutboxStore) Save(ctx context.Context, payload []byte) error {
	const q = `
INSERT INTO unsent_messages (id, payload) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`

	if _, err := s.pool.Exec(ctx, q, payload); err != nil {
		return fmt.Errorf("failed to save unsent message outbox: %w", err)
	}
	return nil
}

// Load returns the persisted outbox payload, or nil if none was ever
// saved.
func (s *OutboxStore) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM unsent_messages WHERE id = 1`).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load unsent message outbox: %w", err)
	}
	return payload, nil
}
