package action

import (
	"context"
	"fmt"
	"strings"

	"basegraph.app/warden/internal/integration"
	"basegraph.app/warden/internal/model"
)

func (r *Router) ciFixSuggestions(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionCIFixSuggestions, payload, "repository", "branch"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		Repository    string     `json:"repository"`
		Branch        string     `json:"branch"`
		BuildID       flexString `json:"build_id"`
		Provider      string     `json:"provider"`
		URL           string     `json:"url"`
		Severity      string     `json:"severity"`
		Hints         stringList `json:"hints"`
		Suggestions   stringList `json:"suggestions"`
		FailureTypes  stringList `json:"failure_types"`
		Patch         string     `json:"patch"`
		CommitMessage string     `json:"commit_message"`
	}](payload)
	if err != nil {
		return nil, err
	}
	owner, repo, err := splitRepository(p.Repository)
	if err != nil {
		return nil, err
	}

	if p.Patch != "" {
		committed, err := r.applyAndCommit(ctx, owner, repo, p.Branch, p.Patch,
			firstNonEmpty(p.CommitMessage, fmt.Sprintf("Fix CI failure in build %s", p.BuildID)))
		if err != nil {
			return nil, err
		}
		return map[string]any{"committed_files": committed, "branch": p.Branch}, nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "CI failed on `%s`", p.Branch)
	if p.BuildID != "" {
		fmt.Fprintf(&body, " (build %s)", p.BuildID)
	}
	body.WriteString(".\n")
	if p.URL != "" {
		fmt.Fprintf(&body, "\n%s\n", p.URL)
	}
	if p.Severity != "" {
		fmt.Fprintf(&body, "\n**Severity:** %s\n", p.Severity)
	}
	if len(p.FailureTypes) > 0 {
		fmt.Fprintf(&body, "**Failure types:** %s\n", strings.Join(p.FailureTypes, ", "))
	}
	writeList(&body, "Hints", p.Hints)
	writeList(&body, "Suggestions", p.Suggestions)

	return r.github.CreateIssue(ctx, integration.IssueInput{
		Owner:  owner,
		Repo:   repo,
		Title:  fmt.Sprintf("CI failure on %s", p.Branch),
		Body:   body.String(),
		Labels: []string{"ci-failure"},
	})
}

func (r *Router) ciWorkflowFailure(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionCIWorkflowFailure, payload, "repository", "workflow"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		Repository string     `json:"repository"`
		Workflow   string     `json:"workflow"`
		Branch     string     `json:"branch"`
		RunID      flexString `json:"run_id"`
		RunURL     string     `json:"run_url"`
		Conclusion string     `json:"conclusion"`
		Hints      stringList `json:"hints"`
	}](payload)
	if err != nil {
		return nil, err
	}
	owner, repo, err := splitRepository(p.Repository)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Workflow %q failed", p.Workflow)
	if p.Branch != "" {
		title += " on " + p.Branch
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Workflow **%s** finished with conclusion `%s`.\n", p.Workflow, firstNonEmpty(p.Conclusion, "failure"))
	if p.RunID != "" {
		fmt.Fprintf(&body, "\nRun: %s", p.RunID)
		if p.RunURL != "" {
			fmt.Fprintf(&body, " (%s)", p.RunURL)
		}
		body.WriteString("\n")
	}
	writeList(&body, "Hints", p.Hints)

	return r.github.CreateIssue(ctx, integration.IssueInput{
		Owner:  owner,
		Repo:   repo,
		Title:  title,
		Body:   body.String(),
		Labels: []string{"ci-failure"},
	})
}

func (r *Router) prReviewSuggestions(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionPRReviewSuggestions, payload, "owner", "repo", "number", "suggestions"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Number      flexInt    `json:"number"`
		Suggestions stringList `json:"suggestions"`
	}](payload)
	if err != nil {
		return nil, err
	}

	var body strings.Builder
	body.WriteString("Review suggestions:\n")
	for _, s := range p.Suggestions {
		fmt.Fprintf(&body, "- %s\n", s)
	}
	return r.github.CreateComment(ctx, p.Owner, p.Repo, int(p.Number), body.String())
}

func (r *Router) prReviewRequested(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionPRReviewRequested, payload, "owner", "repo", "number"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Number    flexInt    `json:"number"`
		Title     string     `json:"title"`
		Reviewers stringList `json:"reviewers"`
		Hints     stringList `json:"hints"`
	}](payload)
	if err != nil {
		return nil, err
	}

	var body strings.Builder
	body.WriteString("Review requested")
	if len(p.Reviewers) > 0 {
		mentions := make([]string, len(p.Reviewers))
		for i, rv := range p.Reviewers {
			mentions[i] = "@" + strings.TrimPrefix(rv, "@")
		}
		fmt.Fprintf(&body, " from %s", strings.Join(mentions, ", "))
	}
	if p.Title != "" {
		fmt.Fprintf(&body, " for %q", p.Title)
	}
	body.WriteString(".\n")
	writeList(&body, "Checklist", p.Hints)

	return r.github.CreateComment(ctx, p.Owner, p.Repo, int(p.Number), body.String())
}

func (r *Router) deploymentSuggest(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := requireFields(model.ActionDeploymentSuggest, payload, "owner", "repo", "ref", "environment"); err != nil {
		return nil, err
	}
	p, err := decodePayload[struct {
		repoRef
		Ref         string `json:"ref"`
		Environment string `json:"environment"`
		Description string `json:"description"`
	}](payload)
	if err != nil {
		return nil, err
	}
	return r.github.CreateDeployment(ctx, integration.DeploymentInput{
		Owner:       p.Owner,
		Repo:        p.Repo,
		Ref:         p.Ref,
		Environment: p.Environment,
		Description: p.Description,
	})
}

func (r *Router) issueTriage(ctx context.Context, payload map[string]any) (map[string]any, error) {
	p, err := decodePayload[struct {
		repoRef
		Source      string     `json:"source"`
		Key         string     `json:"key"`
		Number      flexInt    `json:"number"`
		Labels      stringList `json:"labels"`
		Suggestions stringList `json:"suggestions"`
		Comment     string     `json:"comment"`
	}](payload)
	if err != nil {
		return nil, err
	}

	body := triageComment(p.Comment, p.Labels, p.Suggestions)

	if p.Source == "jira" {
		if err := requireFields(model.ActionIssueTriageSuggested, payload, "key"); err != nil {
			return nil, err
		}
		return r.jira.AddComment(ctx, p.Key, body)
	}

	if err := requireFields(model.ActionIssueTriageSuggested, payload, "owner", "repo", "number"); err != nil {
		return nil, err
	}
	out := map[string]any{}
	if len(p.Labels) > 0 {
		labels, err := r.github.AddLabels(ctx, p.Owner, p.Repo, int(p.Number), p.Labels)
		if err != nil {
			return nil, err
		}
		out["labels"] = labels
	}
	comment, err := r.github.CreateComment(ctx, p.Owner, p.Repo, int(p.Number), body)
	if err != nil {
		return nil, err
	}
	out["comment"] = comment
	return out, nil
}

func triageComment(comment string, labels, suggestions []string) string {
	var b strings.Builder
	if comment != "" {
		b.WriteString(comment)
		b.WriteString("\n")
	} else {
		b.WriteString("Triage suggestions.\n")
	}
	if len(labels) > 0 {
		fmt.Fprintf(&b, "\nSuggested labels: %s\n", strings.Join(labels, ", "))
	}
	writeList(&b, "Suggestions", suggestions)
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
