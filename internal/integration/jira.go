package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"basegraph.app/warden/core/config"
)

const systemJira = "jira"

// Jira is the issue tracker adapter (REST API v2).
type Jira struct {
	transport Transport
}

func NewJira(t Transport) *Jira {
	return &Jira{transport: t}
}

// NewJiraTransport builds the network transport using basic auth with an API token.
func NewJiraTransport(cfg config.JiraConfig) *NetworkTransport {
	user, token := cfg.User, cfg.Token
	return NewNetworkTransport(cfg.BaseURL, func(r *http.Request) {
		if user != "" || token != "" {
			r.SetBasicAuth(user, token)
		}
	}, nil)
}

func issuePath(key string) string {
	return "/rest/api/2/issue/" + url.PathEscape(key)
}

type JiraIssueInput struct {
	Project     string
	Summary     string
	Description string
	IssueType   string
}

func (j *Jira) CreateIssue(ctx context.Context, in JiraIssueInput) (map[string]any, error) {
	if in.IssueType == "" {
		in.IssueType = "Task"
	}
	return j.transport.Do(ctx, Request{
		System: systemJira,
		Op:     "create_issue",
		Method: http.MethodPost,
		Path:   "/rest/api/2/issue",
		Body: map[string]any{
			"fields": map[string]any{
				"project":     map[string]any{"key": in.Project},
				"summary":     in.Summary,
				"description": in.Description,
				"issuetype":   map[string]any{"name": in.IssueType},
			},
		},
		Echo: map[string]any{"project": in.Project, "summary": in.Summary, "issue_type": in.IssueType},
	})
}

func (j *Jira) UpdateIssue(ctx context.Context, key string, fields map[string]any) (map[string]any, error) {
	resp, err := j.transport.Do(ctx, Request{
		System: systemJira,
		Op:     "update_issue",
		Method: http.MethodPut,
		Path:   issuePath(key),
		Body:   map[string]any{"fields": fields},
		Echo:   map[string]any{"fields": fields},
	})
	if err != nil {
		return nil, err
	}
	// Jira answers 204 with no body.
	resp["key"] = key
	return resp, nil
}

func (j *Jira) AddComment(ctx context.Context, key, body string) (map[string]any, error) {
	return j.transport.Do(ctx, Request{
		System: systemJira,
		Op:     "add_comment",
		Method: http.MethodPost,
		Path:   issuePath(key) + "/comment",
		Body:   map[string]any{"body": body},
		Echo:   map[string]any{"key": key, "body": body},
	})
}

// TransitionIssue moves an issue by transition id or by transition name.
// Names are resolved against the transitions available on the issue.
func (j *Jira) TransitionIssue(ctx context.Context, key, transition string) (map[string]any, error) {
	id := transition
	if _, err := strconv.Atoi(transition); err != nil {
		resolved, err := j.resolveTransition(ctx, key, transition)
		if err != nil {
			return nil, err
		}
		id = resolved
	}

	resp, err := j.transport.Do(ctx, Request{
		System: systemJira,
		Op:     "transition_issue",
		Method: http.MethodPost,
		Path:   issuePath(key) + "/transitions",
		Body:   map[string]any{"transition": map[string]any{"id": id}},
		Echo:   map[string]any{"transition": transition},
	})
	if err != nil {
		return nil, err
	}
	resp["key"] = key
	resp["transition_id"] = id
	return resp, nil
}

func (j *Jira) resolveTransition(ctx context.Context, key, name string) (string, error) {
	resp, err := j.transport.Do(ctx, Request{
		System: systemJira,
		Op:     "list_transitions",
		Method: http.MethodGet,
		Path:   issuePath(key) + "/transitions",
		Echo: map[string]any{
			"transitions": []any{map[string]any{"id": name, "name": name}},
		},
	})
	if err != nil {
		return "", err
	}

	transitions, _ := resp["transitions"].([]any)
	for _, t := range transitions {
		tm, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if n, _ := tm["name"].(string); strings.EqualFold(n, name) {
			if id, _ := tm["id"].(string); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("jira transition %q not available on %s", name, key)
}
