package queue

import (
	"fmt"
	"strconv"
	"time"
)

type EventType string

const (
	EventApprovalSubmitted EventType = "approval.submitted"
	EventApprovalResolved  EventType = "approval.resolved"
)

// Event is one approval lifecycle transition published to the stream.
type Event struct {
	Type       EventType
	ApprovalID string
	Action     string
	Priority   string
	Status     string
	Actor      string
	Success    *bool
	Error      string
	TraceID    string
	At         time.Time
}

// values flattens the event into stream fields.
func (e Event) values() map[string]any {
	v := map[string]any{
		"event_type":  string(e.Type),
		"approval_id": e.ApprovalID,
		"action":      e.Action,
	}
	if e.Priority != "" {
		v["priority"] = e.Priority
	}
	if e.Status != "" {
		v["status"] = e.Status
	}
	if e.Actor != "" {
		v["actor"] = e.Actor
	}
	if e.Success != nil {
		v["success"] = strconv.FormatBool(*e.Success)
	}
	if e.Error != "" {
		v["error"] = e.Error
	}
	if e.TraceID != "" {
		v["trace_id"] = e.TraceID
	}
	if !e.At.IsZero() {
		v["at"] = e.At.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func parseEvent(values map[string]any) (Event, error) {
	eventType, err := parseString(values, "event_type")
	if err != nil {
		return Event{}, err
	}
	switch EventType(eventType) {
	case EventApprovalSubmitted, EventApprovalResolved:
	default:
		return Event{}, fmt.Errorf("unknown event_type %q", eventType)
	}
	approvalID, err := parseString(values, "approval_id")
	if err != nil {
		return Event{}, err
	}

	e := Event{
		Type:       EventType(eventType),
		ApprovalID: approvalID,
		Action:     parseOptionalString(values, "action"),
		Priority:   parseOptionalString(values, "priority"),
		Status:     parseOptionalString(values, "status"),
		Actor:      parseOptionalString(values, "actor"),
		Error:      parseOptionalString(values, "error"),
		TraceID:    parseOptionalString(values, "trace_id"),
	}
	if raw := parseOptionalString(values, "success"); raw != "" {
		ok, err := strconv.ParseBool(raw)
		if err != nil {
			return Event{}, fmt.Errorf("parsing success: %w", err)
		}
		e.Success = &ok
	}
	if raw := parseOptionalString(values, "at"); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Event{}, fmt.Errorf("parsing at: %w", err)
		}
		e.At = at
	}
	return e, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s := fmt.Sprint(raw)
	if s == "" {
		return "", fmt.Errorf("empty %s", key)
	}
	return s, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}
