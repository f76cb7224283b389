package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned for an unknown approval id.
	ErrNotFound = errors.New("approval not found")

	// ErrAlreadyResolved is returned when a resolve loses the compare-and-set.
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrSignatureMismatch is returned when a webhook signature does not verify.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

// ValidationError reports a request the caller must fix. Surfaces as 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// MissingFieldsError is the validation error raised when a payload lacks
// required fields; the action is not attempted.
type MissingFieldsError struct {
	Action ActionKind
	Fields []string
}

func NewMissingFieldsError(action ActionKind, fields []string) *MissingFieldsError {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return &MissingFieldsError{Action: action, Fields: sorted}
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s: missing required fields: %s", e.Action, strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.As(err, *ValidationError) match missing fields too.
func (e *MissingFieldsError) Unwrap() error {
	return &ValidationError{Message: e.Error()}
}

// AdapterError wraps a failure from an external system call.
type AdapterError struct {
	System     string // github, jira, gitlab
	Op         string // create_pull_request, add_comment, ...
	StatusCode int
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.System, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.System, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
