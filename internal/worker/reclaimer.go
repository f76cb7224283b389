package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/queue"
)

type RedisReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
	// MaxDeliveries dead-letters an event claimed more often than this.
	// Zero disables the check.
	MaxDeliveries int64
}

// RedisReclaimer periodically claims events left pending by a relay that
// died between XREADGROUP and XACK.
type RedisReclaimer struct {
	client    *redis.Client
	cfg       RedisReclaimerConfig
	consumer  EventConsumer
	processor queue.MessageProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRedisReclaimer(client *redis.Client, cfg RedisReclaimerConfig, consumer EventConsumer, processor queue.MessageProcessor) *RedisReclaimer {
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called.
func (r *RedisReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "warden.worker.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"stream", r.cfg.Stream,
		"group", r.cfg.Group)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if err := r.reclaimOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
			}
		}
	}
}

func (r *RedisReclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *RedisReclaimer) reclaimOnce(ctx context.Context) error {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("xpending: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "found stale pending events", "count", len(pending))

	var failed int
	for _, p := range pending {
		if err := r.reclaimMessage(ctx, p); err != nil {
			failed++
			slog.ErrorContext(ctx, "failed to reclaim event",
				"error", err,
				"message_id", p.ID,
				"original_consumer", p.Consumer)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d stale events not reclaimed", failed, len(pending))
	}
	return nil
}

func (r *RedisReclaimer) reclaimMessage(ctx context.Context, pending redis.XPendingExt) error {
	messages, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: []string{pending.ID},
	}).Result()
	if err != nil {
		return fmt.Errorf("xclaim: %w", err)
	}
	if len(messages) == 0 {
		slog.DebugContext(ctx, "event already claimed by another relay", "message_id", pending.ID)
		return nil
	}

	msg, err := queue.ParseMessage(messages[0])
	if err != nil {
		slog.ErrorContext(ctx, "unparseable reclaimed event, acknowledging to prevent loop",
			"error", err, "message_id", pending.ID)
		return r.consumer.Ack(ctx, queue.Message{ID: messages[0].ID, Raw: messages[0]})
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{ApprovalID: &msg.Event.ApprovalID})

	// XCLAIM bumps the delivery counter, so RetryCount+1 is this delivery.
	if deliveries := pending.RetryCount + 1; r.cfg.MaxDeliveries > 0 && deliveries > r.cfg.MaxDeliveries {
		slog.WarnContext(ctx, "event exceeded max deliveries, dead-lettering",
			"message_id", msg.ID,
			"deliveries", deliveries,
			"original_consumer", pending.Consumer)
		return r.consumer.SendDLQ(ctx, msg, fmt.Sprintf("stuck after %d deliveries", deliveries))
	}

	slog.InfoContext(ctx, "reclaiming stale event",
		"message_id", msg.ID,
		"event_type", msg.Event.Type,
		"original_consumer", pending.Consumer,
		"idle_time", pending.Idle)

	start := time.Now()
	if err := r.processor(ctx, msg); err != nil {
		return fmt.Errorf("processing reclaimed event: %w", err)
	}
	slog.InfoContext(ctx, "reclaimed event processed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}
