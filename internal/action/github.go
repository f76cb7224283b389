package action

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/warden/internal/integration"
	"basegraph.app/warden/internal/model"
)

type repoRef struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

func (r *Router) githubPR(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionGitHubPR, payload, "owner", "repo", "head", "base", "title"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Head  string `json:"head"`
		Base  string `json:"base"`
		Title string `json:"title"`
		Body  string `json:"body"`
		Draft bool   `json:"draft"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.github.CreatePullRequest(ctx, integration.PullRequestInput{
		Owner: p.Owner, Repo: p.Repo, Head: p.Head, Base: p.Base, Title: p.Title, Body: p.Body, Draft: p.Draft,
	})
}

func (r *Router) githubComment(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionGitHubComment, payload, "owner", "repo", "number", "body"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Number flexInt `json:"number"`
		Body   string  `json:"body"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.github.CreateComment(ctx, p.Owner, p.Repo, int(p.Number), p.Body)
}

func (r *Router) githubMerge(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionGitHubMerge, payload, "owner", "repo", "number"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Number flexInt `json:"number"`
		Method string  `json:"method"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.github.MergePullRequest(ctx, p.Owner, p.Repo, int(p.Number), p.Method)
}

func (r *Router) githubBranch(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionGitHubBranch, payload, "owner", "repo", "branch", "sha"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Branch string `json:"branch"`
		SHA    string `json:"sha"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.github.CreateBranch(ctx, p.Owner, p.Repo, p.Branch, p.SHA)
}

func (r *Router) githubIssue(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionGitHubIssue, payload, "owner", "repo", "title"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Title  string     `json:"title"`
		Body   string     `json:"body"`
		Labels stringList `json:"labels"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.github.CreateIssue(ctx, integration.IssueInput{
		Owner: p.Owner, Repo: p.Repo, Title: p.Title, Body: p.Body, Labels: p.Labels,
	})
}

func (r *Router) githubPRAutoReply(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionGitHubPRAutoReply, payload, "owner", "repo", "number", "content"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Number flexInt `json:"number"`
		Branch string  `json:"branch"`
	}](payload)
	if err != nil {
		return nil, err
	}
	content, err := parseStructuredContent(payload["content"])
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	if content.Patch != "" {
		branch := firstNonEmpty(content.Branch, p.Branch)
		if branch == "" {
			return nil, &model.ValidationError{Message: "content.patch requires a branch"}
		}
		committed, err := r.applyAndCommit(ctx, p.Owner, p.Repo, branch, content.Patch,
			firstNonEmpty(content.CommitMessage, fmt.Sprintf("Apply suggested changes for #%d", p.Number)))
		if err != nil {
			return nil, err
		}
		out["committed_files"] = committed
		out["branch"] = branch
	}

	replies := make([]any, 0, len(content.Replies))
	for _, reply := range content.Replies {
		res, err := r.github.CreateComment(ctx, p.Owner, p.Repo, int(p.Number), reply)
		if err != nil {
			return nil, fmt.Errorf("posting reply %d of %d: %w", len(replies)+1, len(content.Replies), err)
		}
		replies = append(replies, res)
	}
	out["replies"] = replies
	return out, nil
}

func (r *Router) githubApplyPatch(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionGitHubApplyPatch, payload, "owner", "repo", "branch", "content"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Branch string  `json:"branch"`
		Number flexInt `json:"number"`
	}](payload)
	if err != nil {
		return nil, err
	}
	content, err := parseStructuredContent(payload["content"])
	if err != nil {
		return nil, err
	}
	if content.Patch == "" {
		return nil, model.NewMissingFieldsError(model.ActionGitHubApplyPatch, []string{"content.patch"})
	}

	branch := firstNonEmpty(content.Branch, p.Branch)
	committed, err := r.applyAndCommit(ctx, p.Owner, p.Repo, branch, content.Patch,
		firstNonEmpty(content.CommitMessage, "Apply approved patch"))
	if err != nil {
		return nil, err
	}
	out := map[string]any{"committed_files": committed, "branch": branch}

	if p.Number > 0 && len(content.Replies) > 0 {
		replies := make([]any, 0, len(content.Replies))
		for _, reply := range content.Replies {
			res, err := r.github.CreateComment(ctx, p.Owner, p.Repo, int(p.Number), reply)
			if err != nil {
				return nil, fmt.Errorf("posting reply: %w", err)
			}
			replies = append(replies, res)
		}
		out["replies"] = replies
	}
	return out, nil
}

// applyAndCommit applies patch to the local working tree and commits each
// changed file to branch. Replies are only posted by callers after this
// returns successfully.
func (r *Router) applyAndCommit(ctx context.Context, owner, repo, branch, patch, message string) ([]string, error) {
	if r.patches == nil {
		return nil, fmt.Errorf("patch application is not configured")
	}
	changed, err := r.patches.Apply(owner, repo, patch)
	if err != nil {
		return nil, err
	}

	committed := make([]string, 0, len(changed))
	for _, f := range changed {
		if f.Deleted {
			// The contents API needs a separate delete call; leave removals to a human.
			slog.WarnContext(ctx, "patch deletes file, skipping remote commit", "path", f.Path)
			continue
		}
		if _, err := r.github.CommitFile(ctx, integration.CommitFileInput{
			Owner:   owner,
			Repo:    repo,
			Branch:  branch,
			Path:    f.Path,
			Content: f.Content,
			Message: message,
		}); err != nil {
			return nil, fmt.Errorf("committing %s: %w", f.Path, err)
		}
		committed = append(committed, f.Path)
	}
	return committed, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
