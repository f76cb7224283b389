package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/audit"
	"basegraph.app/warden/internal/metrics"
	"basegraph.app/warden/internal/model"
	"basegraph.app/warden/internal/queue"
)

const (
	AutoApproveActor = "policy:auto_approve"
	TTLActor         = "policy:ttl"
)

// Executor runs an approved item against external systems. Implementations
// report failures in the result and never panic.
type Executor interface {
	Execute(ctx context.Context, item model.ApprovalItem) model.ExecutionResult
}

type Auditor interface {
	RecordBestEffort(ctx context.Context, event string, data map[string]any)
}

// Service is the approval gate: every mutating action passes through Submit
// and only runs after Resolve approves it.
type Service struct {
	queue    *Queue
	executor Executor
	audit    Auditor
	events   queue.Publisher
	metrics  *metrics.Metrics
}

func NewService(q *Queue, executor Executor, auditor Auditor, events queue.Publisher, m *metrics.Metrics) *Service {
	if events == nil {
		events = queue.NoopPublisher{}
	}
	return &Service{
		queue:    q,
		executor: executor,
		audit:    auditor,
		events:   events,
		metrics:  m,
	}
}

func (s *Service) Queue() *Queue {
	return s.queue
}

// Submit validates the action kind and stores the item as pending.
func (s *Service) Submit(ctx context.Context, req model.SubmitRequest) (model.ApprovalItem, error) {
	if !req.Action.Valid() {
		return model.ApprovalItem{}, &model.ValidationError{Message: fmt.Sprintf("unknown action %q", req.Action)}
	}

	item := s.queue.Submit(ctx, req)
	action := item.Action.String()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ApprovalID: &item.ID,
		Action:     &action,
		Component:  "warden.approval",
	})

	s.audit.RecordBestEffort(ctx, "approval.submitted", map[string]any{
		"id":       item.ID,
		"action":   action,
		"priority": item.Priority,
	})
	s.publish(ctx, queue.Event{
		Type:       queue.EventApprovalSubmitted,
		ApprovalID: item.ID,
		Action:     action,
		Priority:   item.Priority,
		Status:     string(item.Status),
		Actor:      audit.ActorFromContext(ctx),
		At:         item.CreatedAt,
	})
	s.metrics.ApprovalSubmitted(action)

	slog.InfoContext(ctx, "approval submitted", "priority", item.Priority)
	return item, nil
}

func (s *Service) List() []model.ApprovalItem {
	return s.queue.List()
}

func (s *Service) Get(id string) (model.ApprovalItem, error) {
	return s.queue.Get(id)
}

// Resolve records the decision and, on approval, executes the action. The
// returned item carries both the merged Result and the raw ExecResult.
//
// Execution is detached from ctx cancellation: once a decision wins the
// compare-and-set the action runs to completion or to the executor timeout.
func (s *Service) Resolve(ctx context.Context, id, decision string, callerResult map[string]any) (model.ApprovalItem, error) {
	d, err := model.ParseDecision(decision)
	if err != nil {
		return model.ApprovalItem{}, err
	}

	actor := audit.ActorFromContext(ctx)
	item, err := s.queue.Resolve(id, d, actor)
	if err != nil {
		return model.ApprovalItem{}, err
	}

	action := item.Action.String()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ApprovalID: &item.ID,
		Action:     &action,
		Component:  "warden.approval",
	})
	s.audit.RecordBestEffort(ctx, "approval.resolved", map[string]any{
		"id":       item.ID,
		"action":   action,
		"decision": string(d),
	})
	s.metrics.ApprovalResolved(action, string(d))
	slog.InfoContext(ctx, "approval resolved", "decision", d, "actor", actor)

	var exec model.ExecutionResult
	if d == model.DecisionReject {
		exec = model.Skipped("rejected")
		s.metrics.ActionExecuted(action, "skipped", 0)
	} else {
		exec = s.execute(context.WithoutCancel(ctx), item)
	}

	stored, err := s.queue.RecordResult(item.ID, mergeResult(callerResult, exec), exec)
	if err != nil {
		return model.ApprovalItem{}, fmt.Errorf("recording result for %s: %w", item.ID, err)
	}

	success := exec.Success
	s.publish(ctx, queue.Event{
		Type:       queue.EventApprovalResolved,
		ApprovalID: stored.ID,
		Action:     action,
		Priority:   stored.Priority,
		Status:     string(stored.Status),
		Actor:      actor,
		Success:    &success,
		Error:      exec.Error,
		TraceID:    traceID(ctx),
		At:         *stored.ResolvedAt,
	})
	return stored, nil
}

// AutoApprove approves id on behalf of the auto-approve policy.
func (s *Service) AutoApprove(ctx context.Context, id string) (model.ApprovalItem, error) {
	return s.Resolve(audit.WithActor(ctx, AutoApproveActor), id, string(model.DecisionApprove), nil)
}

// Expire rejects id on behalf of the TTL policy.
func (s *Service) Expire(ctx context.Context, id string) (model.ApprovalItem, error) {
	return s.Resolve(audit.WithActor(ctx, TTLActor), id, string(model.DecisionReject), map[string]any{"reason": "expired"})
}

func (s *Service) execute(ctx context.Context, item model.ApprovalItem) model.ExecutionResult {
	start := time.Now()
	exec := s.executor.Execute(ctx, item)
	elapsed := time.Since(start)

	outcome := "success"
	if !exec.Success {
		outcome = "failure"
	}
	s.metrics.ActionExecuted(item.Action.String(), outcome, elapsed)

	s.audit.RecordBestEffort(ctx, "action.executed", map[string]any{
		"id":          item.ID,
		"action":      item.Action.String(),
		"success":     exec.Success,
		"error":       exec.Error,
		"duration_ms": elapsed.Milliseconds(),
	})
	if exec.Success {
		slog.InfoContext(ctx, "action executed", "duration_ms", elapsed.Milliseconds())
	} else {
		slog.WarnContext(ctx, "action failed", "error", exec.Error, "duration_ms", elapsed.Milliseconds())
	}
	return exec
}

func (s *Service) publish(ctx context.Context, e queue.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "approval event not published", "error", err, "event_type", e.Type)
	}
}

// mergeResult lays the execution outcome over the caller-supplied result:
// handler keys win on conflict.
func mergeResult(caller map[string]any, exec model.ExecutionResult) map[string]any {
	out := model.CloneMap(caller)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range model.CloneMap(exec.Result) {
		out[k] = v
	}
	out["success"] = exec.Success
	if exec.Error != "" {
		out["error"] = exec.Error
	}
	if exec.Skipped != "" {
		out["skipped"] = exec.Skipped
	}
	return out
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

