package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/model"
	"basegraph.app/warden/internal/notify"
	"basegraph.app/warden/internal/queue"
)

// EventConsumer is the subset of queue.RedisConsumer the relay drives.
type EventConsumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

type RelayConfig struct {
	MaxAttempts int
	// ErrorBackoff is the pause after a failed stream read.
	ErrorBackoff time.Duration
}

// EventRelay turns approval lifecycle events from the stream into human
// notifications: high priority submissions and failed executions.
type EventRelay struct {
	consumer EventConsumer
	notifier notify.Notifier
	cfg      RelayConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewEventRelay(consumer EventConsumer, notifier notify.Notifier, cfg RelayConfig) *EventRelay {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &EventRelay{
		consumer:  consumer,
		notifier:  notifier,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (r *EventRelay) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "warden.worker.relay",
	})
	defer close(r.stoppedCh)

	slog.InfoContext(ctx, "event relay started", "channel", r.notifier.Channel())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			slog.InfoContext(ctx, "event relay stopping")
			return nil
		default:
			if err := r.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-ctx.Done():
				case <-r.stopCh:
				case <-time.After(r.cfg.ErrorBackoff):
				}
			}
		}
	}
}

func (r *EventRelay) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *EventRelay) processOneBatch(ctx context.Context) error {
	messages, err := r.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := r.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"approval_id", msg.Event.ApprovalID)
			r.handleFailedMessage(ctx, msg, err)
		}
	}
	return nil
}

func (r *EventRelay) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", rec,
				"message_id", msg.ID)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.ProcessMessage(ctx, msg)
}

// ProcessMessage notifies for msg when it warrants it and acks it.
// Exported so the reclaimer can reuse it.
func (r *EventRelay) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ApprovalID: &msg.Event.ApprovalID,
		Action:     &msg.Event.Action,
	})

	slog.DebugContext(ctx, "processing event",
		"message_id", msg.ID,
		"event_type", msg.Event.Type,
		"attempt", msg.Attempt)

	if note, ok := notificationFor(msg.Event); ok {
		if err := r.notifier.Notify(ctx, note); err != nil {
			return fmt.Errorf("notifying %s: %w", r.notifier.Channel(), err)
		}
		slog.InfoContext(ctx, "notification sent", "channel", r.notifier.Channel())
	}

	if err := r.consumer.Ack(ctx, msg); err != nil {
		// The reclaimer redelivers it; a duplicate notification is acceptable.
		slog.WarnContext(ctx, "failed to ACK message", "error", err, "message_id", msg.ID)
	}
	return nil
}

func (r *EventRelay) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= r.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"approval_id", msg.Event.ApprovalID,
			"attempts", msg.Attempt)
		if dlqErr := r.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"approval_id", msg.Event.ApprovalID,
		"attempt", msg.Attempt)
	if requeueErr := r.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}

func notificationFor(e queue.Event) (notify.Message, bool) {
	fields := map[string]string{
		"approval_id": e.ApprovalID,
		"action":      e.Action,
	}
	switch e.Type {
	case queue.EventApprovalSubmitted:
		if e.Priority != string(model.PriorityHigh) {
			return notify.Message{}, false
		}
		fields["priority"] = e.Priority
		return notify.Message{
			Subject: fmt.Sprintf("Approval needed: %s", e.Action),
			Text:    fmt.Sprintf("High priority %s is waiting for a decision (id %s).", e.Action, e.ApprovalID),
			Fields:  fields,
		}, true
	case queue.EventApprovalResolved:
		if e.Success == nil || *e.Success || e.Status != string(model.ApprovalApproved) {
			return notify.Message{}, false
		}
		fields["actor"] = e.Actor
		if e.Error != "" {
			fields["error"] = e.Error
		}
		return notify.Message{
			Subject: fmt.Sprintf("Approved action failed: %s", e.Action),
			Text:    fmt.Sprintf("%s approved by %s failed: %s", e.Action, e.Actor, logger.Truncate(e.Error, 300)),
			Fields:  fields,
		}, true
	default:
		return notify.Message{}, false
	}
}
