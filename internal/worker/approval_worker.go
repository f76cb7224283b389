package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/approval"
	"basegraph.app/warden/internal/metrics"
	"basegraph.app/warden/internal/model"
)

// Expirer rejects an item on behalf of the TTL policy.
type Expirer interface {
	Expire(ctx context.Context, id string) (model.ApprovalItem, error)
}

type Config struct {
	Interval time.Duration
	WarnAge  time.Duration
	// TTL > 0 auto-rejects pending items older than TTL. Off by default.
	TTL time.Duration
}

// ScanResult reports what one backlog scan did.
type ScanResult struct {
	Pending int
	Warned  int
	Expired int
}

// ApprovalWorker watches the approval backlog: it consumes submit
// notifications, keeps the backlog gauges current, warns once about items
// waiting longer than WarnAge and optionally expires items past TTL.
type ApprovalWorker struct {
	queue   *approval.Queue
	expirer Expirer
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time

	warned map[string]bool

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewApprovalWorker(q *approval.Queue, expirer Expirer, m *metrics.Metrics, cfg Config) *ApprovalWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.WarnAge <= 0 {
		cfg.WarnAge = 30 * time.Minute
	}
	return &ApprovalWorker{
		queue:     q,
		expirer:   expirer,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
		warned:    make(map[string]bool),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// SetClock replaces time.Now, for tests.
func (w *ApprovalWorker) SetClock(now func() time.Time) {
	w.now = now
}

// Run blocks until ctx is cancelled or Stop is called.
func (w *ApprovalWorker) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "warden.worker.approvals",
	})
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "approval worker started",
		"interval", w.cfg.Interval,
		"warn_age", w.cfg.WarnAge,
		"ttl", w.cfg.TTL)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "approval worker stopping")
			return nil
		case item := <-w.queue.Notifications():
			w.handleSubmitted(ctx, item)
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Stop signals Run to return and waits for it. Run must have been started.
func (w *ApprovalWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stoppedCh
}

func (w *ApprovalWorker) handleSubmitted(ctx context.Context, item model.ApprovalItem) {
	action := item.Action.String()
	slog.InfoContext(logger.WithLogFields(ctx, logger.LogFields{
		ApprovalID: &item.ID,
		Action:     &action,
	}), "approval awaiting decision", "priority", item.Priority)

	st := w.queue.Stats()
	w.metrics.SetPending(st.Pending, st.OldestAge)
}

// Scan walks the pending backlog once.
func (w *ApprovalWorker) Scan(ctx context.Context) ScanResult {
	now := w.now()
	pending := w.queue.List()
	res := ScanResult{}

	stillPending := make(map[string]bool, len(pending))
	var oldest time.Duration
	for _, item := range pending {
		age := item.Age(now)
		action := item.Action.String()
		itemCtx := logger.WithLogFields(ctx, logger.LogFields{
			ApprovalID: &item.ID,
			Action:     &action,
		})

		if w.cfg.TTL > 0 && age > w.cfg.TTL && w.expirer != nil {
			if _, err := w.expirer.Expire(itemCtx, item.ID); err != nil {
				// Losing the race to a human decision is fine.
				slog.DebugContext(itemCtx, "approval not expired", "error", err)
			} else {
				slog.WarnContext(itemCtx, "approval expired", "age", age.Round(time.Second), "ttl", w.cfg.TTL)
				res.Expired++
			}
			continue
		}

		stillPending[item.ID] = true
		res.Pending++
		if age > oldest {
			oldest = age
		}
		if age > w.cfg.WarnAge && !w.warned[item.ID] {
			w.warned[item.ID] = true
			res.Warned++
			slog.WarnContext(itemCtx, "approval waiting for a decision",
				"age", age.Round(time.Second),
				"priority", item.Priority)
		}
	}
	for id := range w.warned {
		if !stillPending[id] {
			delete(w.warned, id)
		}
	}

	w.metrics.SetPending(res.Pending, oldest)
	return res
}
