package ciwatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"basegraph.app/warden/internal/model"
)

const sourceGitLab = "gitlab"

// HandleGitLab translates one GitLab delivery identified by its X-Gitlab-Event
// header. Only failed pipelines produce work; their failed job traces are the
// log the analyzer sees.
func (w *Watcher) HandleGitLab(ctx context.Context, event string, body []byte) (Result, error) {
	w.metrics.WebhookReceived(sourceGitLab, event)

	if gitlab.EventType(event) != gitlab.EventTypePipeline {
		return ignored(sourceGitLab, event, "event not handled"), nil
	}

	var e gitlab.PipelineEvent
	if err := decode(body, &e); err != nil {
		return Result{}, err
	}
	attrs := e.ObjectAttributes
	if attrs.Status != "failed" {
		return ignored(sourceGitLab, event, "status "+attrs.Status), nil
	}

	projectID := int64(e.Project.ID)
	pipelineID := int64(attrs.ID)
	info := model.BuildInfo{
		BuildID:    strconv.FormatInt(pipelineID, 10),
		Repository: e.Project.PathWithNamespace,
		Branch:     attrs.Ref,
		Commit:     attrs.SHA,
		Provider:   sourceGitLab,
	}
	if e.Project.WebURL != "" {
		info.URL = fmt.Sprintf("%s/-/pipelines/%d", e.Project.WebURL, pipelineID)
	}

	var failing []string
	for _, b := range e.Builds {
		if b.Status == "failed" {
			failing = append(failing, b.Name)
		}
	}

	var logText string
	if w.pipelineLogs != nil && projectID != 0 && pipelineID != 0 {
		text, names, err := w.pipelineLogs.FailedJobTraces(ctx, projectID, pipelineID)
		if err != nil {
			slog.WarnContext(ctx, "fetching gitlab job traces failed", "error", err, "pipeline_id", pipelineID)
		}
		logText = text
		if len(failing) == 0 {
			failing = names
		}
	}

	res := Result{Source: sourceGitLab, Event: event}
	hints := buildHints("failed", attrs.Ref, attrs.SHA, failing)
	if err := w.handleFailure(ctx, &res, info, logText, hints); err != nil {
		return res, err
	}
	return res, nil
}
