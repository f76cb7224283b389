package action

import (
	"context"

	"basegraph.app/warden/internal/integration"
	"basegraph.app/warden/internal/model"
)

func (r *Router) jiraCreate(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionJiraCreate, payload, "project", "summary"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		Project     string `json:"project"`
		Summary     string `json:"summary"`
		Description string `json:"description"`
		IssueType   string `json:"issue_type"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.jira.CreateIssue(ctx, integration.JiraIssueInput{
		Project:     p.Project,
		Summary:     p.Summary,
		Description: p.Description,
		IssueType:   p.IssueType,
	})
}

func (r *Router) jiraUpdate(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionJiraUpdate, payload, "key", "fields"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		Key    string         `json:"key"`
		Fields map[string]any `json:"fields"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.jira.UpdateIssue(ctx, p.Key, p.Fields)
}

func (r *Router) jiraComment(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionJiraComment, payload, "key", "body"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		Key  string `json:"key"`
		Body string `json:"body"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.jira.AddComment(ctx, p.Key, p.Body)
}

func (r *Router) jiraTransition(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionJiraTransition, payload, "key", "transition"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		Key        string `json:"key"`
		Transition flexString `json:"transition"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.jira.TransitionIssue(ctx, p.Key, string(p.Transition))
}
