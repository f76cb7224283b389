package ciwatch

import (
	"context"
	"strings"

	"basegraph.app/warden/internal/model"
)

const sourceCircleCI = "circleci"

type circleWorkflowEvent struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Workflow struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
		URL    string `json:"url"`
	} `json:"workflow"`
	Pipeline struct {
		ID     string `json:"id"`
		Number int    `json:"number"`
		VCS    struct {
			Branch              string `json:"branch"`
			Revision            string `json:"revision"`
			OriginRepositoryURL string `json:"origin_repository_url"`
			TargetRepositoryURL string `json:"target_repository_url"`
			ProviderName        string `json:"provider_name"`
		} `json:"vcs"`
	} `json:"pipeline"`
	Project struct {
		Slug string `json:"slug"`
		Name string `json:"name"`
	} `json:"project"`
}

var circleFailedStatuses = map[string]bool{
	"failed":  true,
	"error":   true,
	"failing": true,
}

// HandleCircleCI translates a CircleCI webhook. CircleCI does not ship logs
// with the event, so failures are submitted with hints only.
func (w *Watcher) HandleCircleCI(ctx context.Context, body []byte) (Result, error) {
	var e circleWorkflowEvent
	if err := decode(body, &e); err != nil {
		return Result{}, err
	}
	w.metrics.WebhookReceived(sourceCircleCI, e.Type)

	if e.Type != "workflow-completed" {
		return ignored(sourceCircleCI, e.Type, "event not handled"), nil
	}
	if !circleFailedStatuses[e.Workflow.Status] {
		return ignored(sourceCircleCI, e.Type, "status "+e.Workflow.Status), nil
	}

	repository := splitSlug(e.Project.Slug)
	if repository == "" {
		repository = splitSlug(strings.TrimSuffix(e.Pipeline.VCS.TargetRepositoryURL, ".git"))
	}
	vcs := e.Pipeline.VCS
	info := model.BuildInfo{
		BuildID:    e.Workflow.ID,
		Repository: repository,
		Branch:     vcs.Branch,
		Commit:     vcs.Revision,
		Provider:   sourceCircleCI,
		URL:        e.Workflow.URL,
	}

	res := Result{Source: sourceCircleCI, Event: e.Type}
	hints := buildHints(e.Workflow.Status, vcs.Branch, vcs.Revision, []string{e.Workflow.Name})
	if err := w.handleFailure(ctx, &res, info, "", hints); err != nil {
		return res, err
	}
	return res, nil
}
