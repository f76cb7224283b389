package ciwatch

import (
	"context"
	"strings"

	"basegraph.app/warden/internal/model"
)

const sourceJira = "jira"

type jiraIssueEvent struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string `json:"summary"`
			Description any    `json:"description"`
			IssueType   struct {
				Name string `json:"name"`
			} `json:"issuetype"`
			Priority *struct {
				Name string `json:"name"`
			} `json:"priority"`
			Labels []string `json:"labels"`
		} `json:"fields"`
	} `json:"issue"`
}

// HandleJira turns newly created Jira issues into triage suggestions.
func (w *Watcher) HandleJira(ctx context.Context, body []byte) (Result, error) {
	var e jiraIssueEvent
	if err := decode(body, &e); err != nil {
		return Result{}, err
	}
	w.metrics.WebhookReceived(sourceJira, e.WebhookEvent)

	if e.WebhookEvent != "jira:issue_created" {
		return ignored(sourceJira, e.WebhookEvent, "event not handled"), nil
	}
	if e.Issue.Key == "" {
		return Result{}, &model.ValidationError{Message: "jira webhook without issue key"}
	}

	f := e.Issue.Fields
	description := plainText(f.Description)

	existing := make(map[string]bool, len(f.Labels))
	for _, l := range f.Labels {
		existing[l] = true
	}
	var labels []string
	for _, l := range suggestLabels(f.Summary, description) {
		if !existing[l] {
			labels = append(labels, l)
		}
	}

	res := Result{Source: sourceJira, Event: e.WebhookEvent}
	err := w.submit(ctx, &res, model.ActionIssueTriageSuggested, map[string]any{
		"source":      sourceJira,
		"key":         e.Issue.Key,
		"summary":     f.Summary,
		"issue_type":  f.IssueType.Name,
		"labels":      labels,
		"suggestions": triageSuggestions(description, f.Priority != nil && f.Priority.Name != ""),
	}, "")
	return res, err
}

// plainText flattens a Jira description, which is either a string (server,
// API v2) or an Atlassian document (cloud, API v3).
func plainText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		var parts []string
		if s, ok := t["text"].(string); ok && s != "" {
			parts = append(parts, s)
		}
		if content, ok := t["content"].([]any); ok {
			for _, c := range content {
				if s := plainText(c); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}
