package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Publisher emits approval lifecycle events. Publishing is best effort for
// callers: the approval state lives in the in-process queue, not the stream.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type redisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisPublisher appends events to stream, trimming it to roughly maxLen
// entries when maxLen > 0.
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

func (p *redisPublisher) Publish(ctx context.Context, e Event) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: e.values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}

	p.logger.DebugContext(ctx, "published approval event", "event_type", e.Type, "approval_id", e.ApprovalID, "stream", p.stream)
	return nil
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}

// NoopPublisher drops events; used when no Redis is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

func (NoopPublisher) Close() error { return nil }

// MemoryPublisher records events in order, for tests and single-process runs.
type MemoryPublisher struct {
	events chan Event
}

func NewMemoryPublisher(capacity int) *MemoryPublisher {
	return &MemoryPublisher{events: make(chan Event, capacity)}
}

// Publish never blocks; events beyond capacity are dropped.
func (m *MemoryPublisher) Publish(_ context.Context, e Event) error {
	select {
	case m.events <- e:
	default:
	}
	return nil
}

func (m *MemoryPublisher) Events() <-chan Event { return m.events }

func (m *MemoryPublisher) Close() error { return nil }
