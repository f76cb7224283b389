package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts "approve"/"reject" case-insensitively.
func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionReject:
		return DecisionReject, nil
	}
	return "", &ValidationError{Message: fmt.Sprintf("decision must be %q or %q, got %q", DecisionApprove, DecisionReject, s)}
}

// Status is the terminal status a decision moves an item to.
func (d Decision) Status() ApprovalStatus {
	if d == DecisionApprove {
		return ApprovalApproved
	}
	return ApprovalRejected
}

const PriorityHigh = "high"

// SubmitRequest proposes one action for approval.
type SubmitRequest struct {
	Action   ActionKind
	Payload  map[string]any
	Priority string
}

// ApprovalItem is a pending or decided mutating-action record. Items are
// never deleted; they stay in memory for audit after resolution.
type ApprovalItem struct {
	ID         string           `json:"id"`
	Action     ActionKind       `json:"action"`
	Payload    map[string]any   `json:"payload"`
	CreatedAt  time.Time        `json:"createdAt"`
	Status     ApprovalStatus   `json:"status"`
	Priority   string           `json:"priority,omitempty"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
	ResolvedBy string           `json:"resolvedBy,omitempty"`
	Result     map[string]any   `json:"result,omitempty"`
	ExecResult *ExecutionResult `json:"execResult,omitempty"`
}

func (a ApprovalItem) IsPending() bool {
	return a.Status == ApprovalPending
}

// Age reports how long the item has existed as of now.
func (a ApprovalItem) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}

// Clone returns a deep copy so callers cannot mutate queue-owned maps.
func (a ApprovalItem) Clone() ApprovalItem {
	out := a
	out.Payload = CloneMap(a.Payload)
	out.Result = CloneMap(a.Result)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	if a.ExecResult != nil {
		er := *a.ExecResult
		er.Result = CloneMap(a.ExecResult.Result)
		out.ExecResult = &er
	}
	return out
}

// CloneMap deep-copies JSON-shaped maps. Values that are not plain JSON
// containers are copied by a marshal round trip.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case string, bool, float64, float32, int, int64, int32, uint, uint64, json.Number, nil:
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return t
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return t
		}
		return decoded
	}
}
