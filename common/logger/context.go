package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so an approval id set by the HTTP handler
// shows up on every log line the router and adapters emit for that request.
type LogFields struct {
	ApprovalID *string // Approval item ID
	Action     *string // Action kind, e.g. "github.pr"
	Repository *string // owner/repo the event or action targets
	BuildID    *string // CI build/run identifier
	RequestID  *string // X-Request-Id of the inbound HTTP request
	Component  string  // Component name (OTel semantic convention style, e.g. "warden.action.router")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.ApprovalID != nil {
		result.ApprovalID = new.ApprovalID
	}
	if new.Action != nil {
		result.Action = new.Action
	}
	if new.Repository != nil {
		result.Repository = new.Repository
	}
	if new.BuildID != nil {
		result.BuildID = new.BuildID
	}
	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ApprovalID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
