package integration

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"basegraph.app/warden/core/config"
	"basegraph.app/warden/internal/model"
)

const systemGitHub = "github"

// GitHub is the VCS host adapter.
type GitHub struct {
	transport Transport
}

func NewGitHub(t Transport) *GitHub {
	return &GitHub{transport: t}
}

// NewGitHubTransport builds the network transport for the GitHub REST API.
func NewGitHubTransport(cfg config.GitHubConfig) *NetworkTransport {
	token := cfg.Token
	return NewNetworkTransport(cfg.APIURL, func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}, map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	})
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

type PullRequestInput struct {
	Owner string
	Repo  string
	Head  string
	Base  string
	Title string
	Body  string
	Draft bool
}

func (g *GitHub) CreatePullRequest(ctx context.Context, in PullRequestInput) (map[string]any, error) {
	return g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "create_pull_request",
		Method: http.MethodPost,
		Path:   repoPath(in.Owner, in.Repo) + "/pulls",
		Body: map[string]any{
			"title": in.Title,
			"head":  in.Head,
			"base":  in.Base,
			"body":  in.Body,
			"draft": in.Draft,
		},
		Echo: map[string]any{"title": in.Title, "head": in.Head, "base": in.Base},
	})
}

func (g *GitHub) CreateComment(ctx context.Context, owner, repo string, number int, body string) (map[string]any, error) {
	return g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "create_comment",
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/issues/%d/comments", repoPath(owner, repo), number),
		Body:   map[string]any{"body": body},
		Echo:   map[string]any{"number": number, "body": body},
	})
}

// MergePullRequest merges with method merge, squash or rebase.
func (g *GitHub) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (map[string]any, error) {
	if method == "" {
		method = "merge"
	}
	return g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "merge_pull_request",
		Method: http.MethodPut,
		Path:   fmt.Sprintf("%s/pulls/%d/merge", repoPath(owner, repo), number),
		Body:   map[string]any{"merge_method": method},
		Echo:   map[string]any{"number": number, "merge_method": method, "merged": true},
	})
}

func (g *GitHub) CreateBranch(ctx context.Context, owner, repo, branch, sha string) (map[string]any, error) {
	return g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "create_branch",
		Method: http.MethodPost,
		Path:   repoPath(owner, repo) + "/git/refs",
		Body:   map[string]any{"ref": "refs/heads/" + branch, "sha": sha},
		Echo:   map[string]any{"branch": branch, "sha": sha},
	})
}

type IssueInput struct {
	Owner  string
	Repo   string
	Title  string
	Body   string
	Labels []string
}

func (g *GitHub) CreateIssue(ctx context.Context, in IssueInput) (map[string]any, error) {
	body := map[string]any{"title": in.Title, "body": in.Body}
	if len(in.Labels) > 0 {
		body["labels"] = in.Labels
	}
	return g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "create_issue",
		Method: http.MethodPost,
		Path:   repoPath(in.Owner, in.Repo) + "/issues",
		Body:   body,
		Echo:   map[string]any{"title": in.Title},
	})
}

func (g *GitHub) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) (map[string]any, error) {
	return g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "add_labels",
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/issues/%d/labels", repoPath(owner, repo), number),
		Body:   map[string]any{"labels": labels},
		Echo:   map[string]any{"number": number, "labels": labels},
	})
}

type DeploymentInput struct {
	Owner       string
	Repo        string
	Ref         string
	Environment string
	Description string
}

func (g *GitHub) CreateDeployment(ctx context.Context, in DeploymentInput) (map[string]any, error) {
	return g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "create_deployment",
		Method: http.MethodPost,
		Path:   repoPath(in.Owner, in.Repo) + "/deployments",
		Body: map[string]any{
			"ref":               in.Ref,
			"environment":       in.Environment,
			"description":       in.Description,
			"auto_merge":        false,
			"required_contexts": []string{},
		},
		Echo: map[string]any{"ref": in.Ref, "environment": in.Environment},
	})
}

type CommitFileInput struct {
	Owner   string
	Repo    string
	Branch  string
	Path    string
	Content []byte
	Message string
}

// CommitFile creates or replaces one file on a branch through the contents
// API. The current blob sha is looked up first; a 404 means a new file.
func (g *GitHub) CommitFile(ctx context.Context, in CommitFileInput) (map[string]any, error) {
	contentsPath := repoPath(in.Owner, in.Repo) + "/contents/" + escapeFilePath(in.Path)

	existing, err := g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "get_contents",
		Method: http.MethodGet,
		Path:   contentsPath + "?ref=" + url.QueryEscape(in.Branch),
		Echo:   map[string]any{"path": in.Path},
	})
	var adapterErr *model.AdapterError
	if err != nil && !(errors.As(err, &adapterErr) && adapterErr.StatusCode == http.StatusNotFound) {
		return nil, err
	}

	body := map[string]any{
		"message": in.Message,
		"content": base64.StdEncoding.EncodeToString(in.Content),
		"branch":  in.Branch,
	}
	if sha, ok := existing["sha"].(string); ok && sha != "" {
		body["sha"] = sha
	}

	return g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "commit_file",
		Method: http.MethodPut,
		Path:   contentsPath,
		Body:   body,
		Echo:   map[string]any{"path": in.Path, "branch": in.Branch},
	})
}

// CheckSuiteOutput concatenates the output text of the failed check runs in a
// suite. It is the log source for GitHub check_suite events.
func (g *GitHub) CheckSuiteOutput(ctx context.Context, owner, repo string, suiteID int64) (string, []string, error) {
	resp, err := g.transport.Do(ctx, Request{
		System: systemGitHub,
		Op:     "list_check_runs",
		Method: http.MethodGet,
		Path:   fmt.Sprintf("%s/check-suites/%d/check-runs", repoPath(owner, repo), suiteID),
	})
	if err != nil {
		return "", nil, err
	}

	runs, _ := resp["check_runs"].([]any)
	var (
		sb    strings.Builder
		names []string
	)
	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		conclusion, _ := run["conclusion"].(string)
		if conclusion != "failure" && conclusion != "timed_out" {
			continue
		}
		name, _ := run["name"].(string)
		names = append(names, name)
		output, _ := run["output"].(map[string]any)
		for _, key := range []string{"title", "summary", "text"} {
			if s, _ := output[key].(string); s != "" {
				sb.WriteString(s)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String(), names, nil
}

func escapeFilePath(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
