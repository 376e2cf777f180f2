// Package mq publishes pod-finished notifications to Redis Streams and
// keeps an outbox of messages that could not be delivered immediately, so
// they survive a restart instead of being dropped.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fuzzcorp/starter/podevents"
)

// StreamName is the Redis Stream every completion notification is
// appended to.
const StreamName = "starter.pods.finished"

// outboxMessage is the JSON shape stored both in the Redis stream field
// and in the on-disk outbox.
type outboxMessage struct {
	ID   string                          `json:"id"`
	Body podevents.FinishedNotification `json:"body"`
}

// Publisher appends pod-finished notifications to a Redis stream, and
// buffers anything that fails to send so it can be retried or persisted.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	unsent []outboxMessage
}

// NewPublisher builds a stream publisher over an existing Redis client.
func NewPublisher(client *redis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger.With(slog.String("component", "mq.publisher"))}
}

// NotifyPodFinished appends a completion event to the stream. Satisfies
// podevents.Notifier. On failure the message is buffered in the outbox
// instead of being dropped.
func (p *Publisher) NotifyPodFinished(ctx context.Context, n podevents.FinishedNotification) error {
	msg := outboxMessage{ID: uuid.NewString(), Body: n}
	if err := p.send(ctx, msg); err != nil {
		p.logger.Warn("failed to publish pod-finished notification, buffering",
			slog.String("fuzzer_id", n.FuzzerID), slog.Any("err", err))
		p.mu.Lock()
		p.unsent = append(p.unsent, msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, msg outboxMessage) error {
	payload, err := json.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]any{"id": msg.ID, "body": payload},
	}).Err()
}

// FlushOutbox retries every buffered message, dropping each one that
// sends successfully. The startup sweeper calls it on every tick, and
// shutdown calls it once more before exporting the outbox.
func (p *Publisher) FlushOutbox(ctx context.Context) {
	p.mu.Lock()
	pending := p.unsent
	p.unsent = nil
	p.mu.Unlock()

	var stillUnsent []outboxMessage
	for _, msg := range pending {
		if err := p.send(ctx, msg); err != nil {
			stillUnsent = append(stillUnsent, msg)
		}
	}

	if len(stillUnsent) > 0 {
		p.mu.Lock()
		p.unsent = append(stillUnsent, p.unsent...)
		p.mu.Unlock()
	}
}

// ExportUnsent returns every currently-buffered message for persistence
// before shutdown.
func (p *Publisher) ExportUnsent() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(p.unsent)
	if err != nil {
		p.logger.Error("failed to marshal unsent message outbox", slog.Any("err", err))
		return nil
	}
	return data
}

// ImportUnsent loads a previously exported outbox, typically read from
// Postgres at startup before the listener begins accepting new events.
func (p *Publisher) ImportUnsent(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var restored []outboxMessage
	if err := json.Unmarshal(data, &restored); err != nil {
		return fmt.Errorf("failed to unmarshal unsent message outbox: %w", err)
	}
	p.mu.Lock()
	p.unsent = append(p.unsent, restored...)
	p.mu.Unlock()
	return nil
}
