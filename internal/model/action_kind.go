package model

import "fmt"

// ActionKind is the closed set of mutating actions Warden can gate.
// Every kind maps to exactly one handler in the action router; the
// enumswitch linter fails the build when a switch over ActionKind misses one.
type ActionKind string

const (
	ActionGitHubPR             ActionKind = "github.pr"
	ActionGitHubComment        ActionKind = "github.comment"
	ActionGitHubMerge          ActionKind = "github.merge"
	ActionGitHubBranch         ActionKind = "github.branch"
	ActionGitHubIssue          ActionKind = "github.issue"
	ActionGitHubPRAutoReply    ActionKind = "github.pr_auto_reply"
	ActionGitHubApplyPatch     ActionKind = "github.apply_patch"
	ActionJiraCreate           ActionKind = "jira.create"
	ActionJiraUpdate           ActionKind = "jira.update"
	ActionJiraComment          ActionKind = "jira.comment"
	ActionJiraTransition       ActionKind = "jira.transition"
	ActionCIFixSuggestions     ActionKind = "ci.fix_suggestions"
	ActionCIWorkflowFailure    ActionKind = "ci.workflow_failure"
	ActionPRReviewSuggestions  ActionKind = "pr.review_suggestions"
	ActionPRReviewRequested    ActionKind = "pr.review_requested"
	ActionDeploymentSuggest    ActionKind = "deployment.suggest"
	ActionIssueTriageSuggested ActionKind = "issue.triage_suggestions"
)

var allActionKinds = []ActionKind{
	ActionGitHubPR,
	ActionGitHubComment,
	ActionGitHubMerge,
	ActionGitHubBranch,
	ActionGitHubIssue,
	ActionGitHubPRAutoReply,
	ActionGitHubApplyPatch,
	ActionJiraCreate,
	ActionJiraUpdate,
	ActionJiraComment,
	ActionJiraTransition,
	ActionCIFixSuggestions,
	ActionCIWorkflowFailure,
	ActionPRReviewSuggestions,
	ActionPRReviewRequested,
	ActionDeploymentSuggest,
	ActionIssueTriageSuggested,
}

// AllActionKinds returns every known action kind in declaration order.
func AllActionKinds() []ActionKind {
	out := make([]ActionKind, len(allActionKinds))
	copy(out, allActionKinds)
	return out
}

func (k ActionKind) Valid() bool {
	for _, known := range allActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k ActionKind) String() string {
	return string(k)
}

// ParseActionKind validates a wire tag.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(s)
	if !k.Valid() {
		return "", &ValidationError{Message: fmt.Sprintf("unknown action %q", s)}
	}
	return k, nil
}
