// Package action executes approved items against external systems.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/integration"
	"basegraph.app/warden/internal/model"
)

const defaultHandlerTimeout = 30 * time.Second

// GitHubClient is the subset of the VCS adapter the router calls.
type GitHubClient interface {
	CreatePullRequest(ctx context.Context, in integration.PullRequestInput) (map[string]any, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (map[string]any, error)
	MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (map[string]any, error)
	CreateBranch(ctx context.Context, owner, repo, branch, sha string) (map[string]any, error)
	CreateIssue(ctx context.Context, in integration.IssueInput) (map[string]any, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) (map[string]any, error)
	CreateDeployment(ctx context.Context, in integration.DeploymentInput) (map[string]any, error)
	CommitFile(ctx context.Context, in integration.CommitFileInput) (map[string]any, error)
}

// JiraClient is the subset of the issue tracker adapter the router calls.
type JiraClient interface {
	CreateIssue(ctx context.Context, in integration.JiraIssueInput) (map[string]any, error)
	UpdateIssue(ctx context.Context, key string, fields map[string]any) (map[string]any, error)
	AddComment(ctx context.Context, key, body string) (map[string]any, error)
	TransitionIssue(ctx context.Context, key, transition string) (map[string]any, error)
}

// Router maps each ActionKind to its handler.
type Router struct {
	github  GitHubClient
	jira    JiraClient
	patches *PatchApplier
	timeout time.Duration
}

func NewRouter(github GitHubClient, jira JiraClient, patches *PatchApplier, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &Router{
		github:  github,
		jira:    jira,
		patches: patches,
		timeout: timeout,
	}
}

// Execute runs the handler for item.Action. It never panics and never
// returns an error: every failure, including a panicking handler, becomes
// {success:false, error}.
func (r *Router) Execute(ctx context.Context, item model.ApprovalItem) (result model.ExecutionResult) {
	action := item.Action.String()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ApprovalID: &item.ID,
		Action:     &action,
		Component:  "warden.action.router",
	})

	sc := logger.StartSpan(ctx, "action.execute",
		attribute.String("approval_id", item.ID),
		attribute.String("action", action))
	defer sc.End()

	ctx, cancel := context.WithTimeout(sc.Context(), r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("handler panicked: %v", rec)
			sc.Fail(err)
			slog.ErrorContext(ctx, "action handler panicked", "panic", rec)
			result = model.Failed(err)
		}
	}()

	out, err := r.dispatch(ctx, item.Action, item.Payload)
	if err != nil {
		sc.Fail(err)
		slog.WarnContext(ctx, "action failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return model.Failed(err)
	}

	slog.InfoContext(ctx, "action executed",
		"duration_ms", time.Since(start).Milliseconds())
	return model.Succeeded(out)
}

func (r *Router) dispatch(ctx context.Context, kind model.ActionKind, payload map[string]any) (map[string]any, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	switch kind {
	case model.ActionGitHubPR:
		return r.githubPR(ctx, payload)
	case model.ActionGitHubComment:
		return r.githubComment(ctx, payload)
	case model.ActionGitHubMerge:
		return r.githubMerge(ctx, payload)
	case model.ActionGitHubBranch:
		return r.githubBranch(ctx, payload)
	case model.ActionGitHubIssue:
		return r.githubIssue(ctx, payload)
	case model.ActionGitHubPRAutoReply:
		return r.githubPRAutoReply(ctx, payload)
	case model.ActionGitHubApplyPatch:
		return r.githubApplyPatch(ctx, payload)
	case model.ActionJiraCreate:
		return r.jiraCreate(ctx, payload)
	case model.ActionJiraUpdate:
		return r.jiraUpdate(ctx, payload)
	case model.ActionJiraComment:
		return r.jiraComment(ctx, payload)
	case model.ActionJiraTransition:
		return r.jiraTransition(ctx, payload)
	case model.ActionCIFixSuggestions:
		return r.ciFixSuggestions(ctx, payload)
	case model.ActionCIWorkflowFailure:
		return r.ciWorkflowFailure(ctx, payload)
	case model.ActionPRReviewSuggestions:
		return r.prReviewSuggestions(ctx, payload)
	case model.ActionPRReviewRequested:
		return r.prReviewRequested(ctx, payload)
	case model.ActionDeploymentSuggest:
		return r.deploymentSuggest(ctx, payload)
	case model.ActionIssueTriageSuggested:
		return r.issueTriage(ctx, payload)
	}
	return nil, &model.ValidationError{Message: fmt.Sprintf("no handler for action %q", kind)}
}
