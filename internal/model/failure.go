package model

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Max returns the more severe of s and other.
func (s Severity) Max(other Severity) Severity {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

func (s Severity) Valid() bool {
	return s.rank() > 0
}

func (s *Severity) UnmarshalText(b []byte) error {
	v := Severity(strings.ToLower(strings.TrimSpace(string(b))))
	if !v.Valid() {
		return fmt.Errorf("invalid severity %q", string(b))
	}
	*s = v
	return nil
}

// BuildInfo is the metadata that accompanies a CI log.
type BuildInfo struct {
	BuildID    string `json:"build_id"`
	Repository string `json:"repository"` // owner/repo
	Branch     string `json:"branch"`
	Commit     string `json:"commit,omitempty"`
	Provider   string `json:"provider,omitempty"` // github, gitlab, circleci
	URL        string `json:"url,omitempty"`
	PRNumber   int    `json:"pr_number,omitempty"`
}

type FailureMatch struct {
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	Severity     Severity `json:"severity"`
	MatchedText  string   `json:"matched_text"`
	Context      []string `json:"context"`
	SuggestedFix string   `json:"suggested_fix"`
	Line         int      `json:"line"`
}

// AutoFix is a mechanical remediation a human can run or approve.
type AutoFix struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Command     string `json:"command,omitempty"`
}

type FailureAnalysis struct {
	Timestamp     time.Time      `json:"timestamp"`
	BuildID       string         `json:"build_id"`
	Repository    string         `json:"repository"`
	Branch        string         `json:"branch"`
	Failures      []FailureMatch `json:"failures"`
	Suggestions   []string       `json:"suggestions"`
	AutoFixes     []AutoFix      `json:"auto_fixes"`
	Severity      Severity       `json:"severity"`
	ProposedPatch string         `json:"proposed_patch,omitempty"`

	// Set by the remediation step.
	Notified     string `json:"notified,omitempty"`
	ApprovalID   string `json:"approval_id,omitempty"`
	AutoApproved bool   `json:"auto_approved,omitempty"`
}

func (a *FailureAnalysis) HasFailures() bool {
	return a != nil && len(a.Failures) > 0
}

// FailureTypes returns the distinct failure types in first-seen order.
func (a *FailureAnalysis) FailureTypes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range a.Failures {
		if _, ok := seen[f.Type]; ok {
			continue
		}
		seen[f.Type] = struct{}{}
		out = append(out, f.Type)
	}
	return out
}

// Summary renders a short human-readable description used by notifications
// and issue bodies.
func (a *FailureAnalysis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Build %s on %s@%s failed (severity: %s)\n", a.BuildID, a.Repository, a.Branch, a.Severity)
	for _, t := range a.FailureTypes() {
		n := 0
		for _, f := range a.Failures {
			if f.Type == t {
				n++
			}
		}
		fmt.Fprintf(&b, "- %s: %d match(es)\n", t, n)
	}
	if len(a.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range a.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}
