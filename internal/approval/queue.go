// Package approval holds proposed mutating actions until a human (or an
// explicit policy) decides on them, then routes approved ones to execution.
package approval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"basegraph.app/warden/common/id"
	"basegraph.app/warden/internal/metrics"
	"basegraph.app/warden/internal/model"
)

const DefaultNotifyCapacity = 200

type entry struct {
	item model.ApprovalItem
	seq  uint64
}

// Queue is the in-memory store of approval items. Every method is safe for
// concurrent use and every returned item is a deep copy.
type Queue struct {
	mu      sync.Mutex
	items   map[string]*entry
	seq     uint64
	notify  chan model.ApprovalItem
	metrics *metrics.Metrics
	now     func() time.Time
}

// Stats summarises the pending backlog.
type Stats struct {
	Pending   int           `json:"pending"`
	Resolved  int           `json:"resolved"`
	OldestAge time.Duration `json:"oldestAge"`
}

func NewQueue(notifyCapacity int, m *metrics.Metrics) *Queue {
	if notifyCapacity <= 0 {
		notifyCapacity = DefaultNotifyCapacity
	}
	return &Queue{
		items:   make(map[string]*entry),
		notify:  make(chan model.ApprovalItem, notifyCapacity),
		metrics: m,
		now:     time.Now,
	}
}

// SetClock replaces time.Now, for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Submit stores a new pending item. It always succeeds; when the notification
// channel is full only the notification is dropped.
func (q *Queue) Submit(ctx context.Context, req model.SubmitRequest) model.ApprovalItem {
	q.mu.Lock()
	q.seq++
	item := model.ApprovalItem{
		ID:        id.NewApprovalID(req.Action.String()),
		Action:    req.Action,
		Payload:   model.CloneMap(req.Payload),
		CreatedAt: q.now().UTC(),
		Status:    model.ApprovalPending,
		Priority:  req.Priority,
	}
	if item.Payload == nil {
		item.Payload = map[string]any{}
	}
	q.items[item.ID] = &entry{item: item, seq: q.seq}
	out := item.Clone()
	q.mu.Unlock()

	select {
	case q.notify <- out.Clone():
	default:
		slog.WarnContext(ctx, "approval notification dropped, channel full",
			"approval_id", out.ID,
			"capacity", cap(q.notify))
		q.metrics.NotificationDropped()
	}
	return out
}

// List returns pending items, oldest first.
func (q *Queue) List() []model.ApprovalItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make([]*entry, 0, len(q.items))
	for _, e := range q.items {
		if e.item.IsPending() {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.Before(b.item.CreatedAt)
		}
		return a.seq < b.seq
	})

	out := make([]model.ApprovalItem, len(pending))
	for i, e := range pending {
		out[i] = e.item.Clone()
	}
	return out
}

func (q *Queue) Get(id string) (model.ApprovalItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[id]
	if !ok {
		return model.ApprovalItem{}, model.ErrNotFound
	}
	return e.item.Clone(), nil
}

// Resolve moves a pending item to the decision's terminal status. Only one
// caller can win for a given id; the rest get ErrAlreadyResolved.
func (q *Queue) Resolve(id string, decision model.Decision, actor string) (model.ApprovalItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[id]
	if !ok {
		return model.ApprovalItem{}, model.ErrNotFound
	}
	if !e.item.IsPending() {
		return model.ApprovalItem{}, model.ErrAlreadyResolved
	}
	now := q.now().UTC()
	e.item.Status = decision.Status()
	e.item.ResolvedAt = &now
	e.item.ResolvedBy = actor
	return e.item.Clone(), nil
}

// RecordResult stores the outcome of executing a resolved item.
func (q *Queue) RecordResult(id string, result map[string]any, exec model.ExecutionResult) (model.ApprovalItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[id]
	if !ok {
		return model.ApprovalItem{}, model.ErrNotFound
	}
	e.item.Result = model.CloneMap(result)
	execCopy := exec
	execCopy.Result = model.CloneMap(exec.Result)
	e.item.ExecResult = &execCopy
	return e.item.Clone(), nil
}

// Notifications delivers a copy of every submitted item, best effort.
func (q *Queue) Notifications() <-chan model.ApprovalItem {
	return q.notify
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var st Stats
	now := q.now()
	for _, e := range q.items {
		if !e.item.IsPending() {
			st.Resolved++
			continue
		}
		st.Pending++
		if age := e.item.Age(now); age > st.OldestAge {
			st.OldestAge = age
		}
	}
	return st
}
