package ciwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"basegraph.app/warden/internal/model"
)

const sourceGitHub = "github"

type ghRepository struct {
	FullName      string `json:"full_name"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (r ghRepository) owner() string {
	if r.Owner.Login != "" {
		return r.Owner.Login
	}
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

func (r ghRepository) name() string {
	if r.Name != "" {
		return r.Name
	}
	_, name, _ := strings.Cut(r.FullName, "/")
	return name
}

type ghUser struct {
	Login string `json:"login"`
}

type checkSuiteEvent struct {
	Action     string `json:"action"`
	CheckSuite struct {
		ID           int64  `json:"id"`
		HeadBranch   string `json:"head_branch"`
		HeadSHA      string `json:"head_sha"`
		Status       string `json:"status"`
		Conclusion   string `json:"conclusion"`
		URL          string `json:"url"`
		PullRequests []struct {
			Number int `json:"number"`
		} `json:"pull_requests"`
		App struct {
			Name string `json:"name"`
		} `json:"app"`
	} `json:"check_suite"`
	Repository ghRepository `json:"repository"`
}

type workflowRunEvent struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		ID         int64  `json:"id"`
		Name       string `json:"name"`
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
		Conclusion string `json:"conclusion"`
		HTMLURL    string `json:"html_url"`
		RunNumber  int    `json:"run_number"`
	} `json:"workflow_run"`
	Workflow struct {
		Name string `json:"name"`
	} `json:"workflow"`
	Repository ghRepository `json:"repository"`
}

type pullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number             int      `json:"number"`
		Title              string   `json:"title"`
		Draft              bool     `json:"draft"`
		HTMLURL            string   `json:"html_url"`
		User               ghUser   `json:"user"`
		RequestedReviewers []ghUser `json:"requested_reviewers"`
		Head               struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository ghRepository `json:"repository"`
}

type pushEvent struct {
	Ref        string       `json:"ref"`
	After      string       `json:"after"`
	Deleted    bool         `json:"deleted"`
	Repository ghRepository `json:"repository"`
	Pusher     struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

type issuesEvent struct {
	Action string `json:"action"`
	Issue  struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
		User    ghUser `json:"user"`
		Labels  []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
	Repository ghRepository `json:"repository"`
}

// HandleGitHub translates one GitHub delivery identified by its X-GitHub-Event
// header. The signature must already be verified.
func (w *Watcher) HandleGitHub(ctx context.Context, event string, body []byte) (Result, error) {
	w.metrics.WebhookReceived(sourceGitHub, event)

	switch event {
	case "ping":
		return Result{Source: sourceGitHub, Event: event}, nil
	case "check_suite":
		var e checkSuiteEvent
		if err := decode(body, &e); err != nil {
			return Result{}, err
		}
		return w.githubCheckSuite(ctx, e)
	case "workflow_run":
		var e workflowRunEvent
		if err := decode(body, &e); err != nil {
			return Result{}, err
		}
		return w.githubWorkflowRun(ctx, e)
	case "pull_request":
		var e pullRequestEvent
		if err := decode(body, &e); err != nil {
			return Result{}, err
		}
		return w.githubPullRequest(ctx, e)
	case "push":
		var e pushEvent
		if err := decode(body, &e); err != nil {
			return Result{}, err
		}
		return w.githubPush(ctx, e)
	case "issues":
		var e issuesEvent
		if err := decode(body, &e); err != nil {
			return Result{}, err
		}
		return w.githubIssue(ctx, e)
	default:
		return ignored(sourceGitHub, event, "event not handled"), nil
	}
}

func (w *Watcher) githubCheckSuite(ctx context.Context, e checkSuiteEvent) (Result, error) {
	const event = "check_suite"
	cs := e.CheckSuite
	if e.Action != "completed" {
		return ignored(sourceGitHub, event, "action "+e.Action), nil
	}
	if cs.Conclusion != "failure" && cs.Conclusion != "timed_out" {
		return ignored(sourceGitHub, event, "conclusion "+cs.Conclusion), nil
	}

	owner, repo := e.Repository.owner(), e.Repository.name()
	info := model.BuildInfo{
		BuildID:    strconv.FormatInt(cs.ID, 10),
		Repository: owner + "/" + repo,
		Branch:     cs.HeadBranch,
		Commit:     cs.HeadSHA,
		Provider:   sourceGitHub,
		URL:        cs.URL,
	}
	if len(cs.PullRequests) > 0 {
		info.PRNumber = cs.PullRequests[0].Number
	}

	var (
		logText string
		failing []string
	)
	if w.checkLogs != nil && cs.ID != 0 {
		text, names, err := w.checkLogs.CheckSuiteOutput(ctx, owner, repo, cs.ID)
		if err != nil {
			slog.WarnContext(ctx, "fetching check run output failed", "error", err, "check_suite_id", cs.ID)
		}
		logText, failing = text, names
	}

	res := Result{Source: sourceGitHub, Event: event}
	hints := buildHints(cs.Conclusion, cs.HeadBranch, cs.HeadSHA, failing)
	if err := w.handleFailure(ctx, &res, info, logText, hints); err != nil {
		return res, err
	}
	return res, nil
}

func (w *Watcher) githubWorkflowRun(ctx context.Context, e workflowRunEvent) (Result, error) {
	const event = "workflow_run"
	run := e.WorkflowRun
	if e.Action != "completed" {
		return ignored(sourceGitHub, event, "action "+e.Action), nil
	}
	if run.Conclusion != "failure" {
		return ignored(sourceGitHub, event, "conclusion "+run.Conclusion), nil
	}

	workflow := run.Name
	if workflow == "" {
		workflow = e.Workflow.Name
	}
	res := Result{Source: sourceGitHub, Event: event}
	err := w.submit(ctx, &res, model.ActionCIWorkflowFailure, map[string]any{
		"repository": e.Repository.owner() + "/" + e.Repository.name(),
		"workflow":   workflow,
		"branch":     run.HeadBranch,
		"run_id":     strconv.FormatInt(run.ID, 10),
		"run_url":    run.HTMLURL,
		"conclusion": run.Conclusion,
		"hints":      buildHints(run.Conclusion, run.HeadBranch, run.HeadSHA, nil),
	}, "")
	return res, err
}

func (w *Watcher) githubPullRequest(ctx context.Context, e pullRequestEvent) (Result, error) {
	const event = "pull_request"
	pr := e.PullRequest
	switch {
	case e.Action == "ready_for_review":
	case e.Action == "opened" && !pr.Draft:
	default:
		return ignored(sourceGitHub, event, "action "+e.Action), nil
	}

	number := pr.Number
	if number == 0 {
		number = e.Number
	}
	reviewers := make([]string, 0, len(pr.RequestedReviewers))
	for _, r := range pr.RequestedReviewers {
		reviewers = append(reviewers, r.Login)
	}

	res := Result{Source: sourceGitHub, Event: event}
	err := w.submit(ctx, &res, model.ActionPRReviewRequested, map[string]any{
		"owner":     e.Repository.owner(),
		"repo":      e.Repository.name(),
		"number":    number,
		"title":     pr.Title,
		"author":    pr.User.Login,
		"url":       pr.HTMLURL,
		"reviewers": reviewers,
		"hints": []string{
			"Confirm CI is green on " + pr.Head.Ref,
			"Check that tests cover the change",
		},
	}, "")
	return res, err
}

func (w *Watcher) githubPush(ctx context.Context, e pushEvent) (Result, error) {
	const event = "push"
	branch, ok := strings.CutPrefix(e.Ref, "refs/heads/")
	if !ok || e.Deleted {
		return ignored(sourceGitHub, event, "not a branch update"), nil
	}
	if e.Repository.DefaultBranch == "" || branch != e.Repository.DefaultBranch {
		return ignored(sourceGitHub, event, "push to non-default branch "+branch), nil
	}

	res := Result{Source: sourceGitHub, Event: event}
	err := w.submit(ctx, &res, model.ActionDeploymentSuggest, map[string]any{
		"owner":       e.Repository.owner(),
		"repo":        e.Repository.name(),
		"ref":         branch,
		"sha":         e.After,
		"environment": "staging",
		"description": fmt.Sprintf("Deploy %s (%s) pushed by %s", branch, shortSHA(e.After), e.Pusher.Name),
	}, "")
	return res, err
}

func (w *Watcher) githubIssue(ctx context.Context, e issuesEvent) (Result, error) {
	const event = "issues"
	if e.Action != "opened" {
		return ignored(sourceGitHub, event, "action "+e.Action), nil
	}
	is := e.Issue

	existing := make(map[string]bool, len(is.Labels))
	for _, l := range is.Labels {
		existing[l.Name] = true
	}
	var labels []string
	for _, l := range suggestLabels(is.Title, is.Body) {
		if !existing[l] {
			labels = append(labels, l)
		}
	}

	res := Result{Source: sourceGitHub, Event: event}
	err := w.submit(ctx, &res, model.ActionIssueTriageSuggested, map[string]any{
		"source":      sourceGitHub,
		"owner":       e.Repository.owner(),
		"repo":        e.Repository.name(),
		"number":      is.Number,
		"title":       is.Title,
		"labels":      labels,
		"suggestions": triageSuggestions(is.Body, len(is.Labels) > 0),
	}, "")
	return res, err
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &model.ValidationError{Message: fmt.Sprintf("invalid webhook payload: %v", err)}
	}
	return nil
}
