// Package audit writes the append-only record of every submit, resolve,
// execution, rate-limit and cost event.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/warden/internal/model"
)

// Sink persists audit records. Implementations must serialize their own writes.
type Sink interface {
	Write(ctx context.Context, rec model.AuditRecord) error
	Close() error
}

type contextKey string

const requestKey contextKey = "audit_request"

type requestInfo struct {
	actor string
	path  string
}

const SystemActor = "system"

// WithRequest attaches the acting principal and request path to ctx so records
// written further down the call chain attribute the event correctly.
func WithRequest(ctx context.Context, actor, path string) context.Context {
	return context.WithValue(ctx, requestKey, requestInfo{actor: actor, path: path})
}

// WithActor overrides only the actor, keeping any path already on ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	info, _ := ctx.Value(requestKey).(requestInfo)
	info.actor = actor
	return context.WithValue(ctx, requestKey, info)
}

// ActorFromContext returns the actor set by WithRequest, or SystemActor.
func ActorFromContext(ctx context.Context) string {
	if info, ok := ctx.Value(requestKey).(requestInfo); ok && info.actor != "" {
		return info.actor
	}
	return SystemActor
}

func pathFromContext(ctx context.Context) string {
	if info, ok := ctx.Value(requestKey).(requestInfo); ok {
		return info.path
	}
	return ""
}

// Logger fans a record out to every configured sink.
type Logger struct {
	sinks []Sink
	now   func() time.Time
}

func NewLogger(sinks ...Sink) *Logger {
	return &Logger{sinks: sinks, now: time.Now}
}

// Record appends one event. An error from any sink is returned; the caller
// decides whether that fails its own operation (usually it does not).
func (l *Logger) Record(ctx context.Context, event string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	rec := model.AuditRecord{
		TS:    l.now().UTC(),
		Event: event,
		Actor: ActorFromContext(ctx),
		Path:  pathFromContext(ctx),
		Data:  model.CloneMap(data),
	}

	var errs []error
	for _, s := range l.sinks {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("writing audit record %s: %w", event, errors.Join(errs...))
	}
	return nil
}

// RecordBestEffort records the event and logs, rather than returns, a failure.
func (l *Logger) RecordBestEffort(ctx context.Context, event string, data map[string]any) {
	if err := l.Record(ctx, event, data); err != nil {
		slog.ErrorContext(ctx, "audit write failed", "event", event, "error", err)
	}
}

func (l *Logger) Close() error {
	var errs []error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
