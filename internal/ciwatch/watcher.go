// Package ciwatch translates CI and tracker webhooks into analyzer runs and
// approval submissions.
package ciwatch

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/analyzer"
	"basegraph.app/warden/internal/metrics"
	"basegraph.app/warden/internal/model"
)

type Submitter interface {
	Submit(ctx context.Context, req model.SubmitRequest) (model.ApprovalItem, error)
}

// Analyzer classifies a failure log and runs remediation.
type Analyzer interface {
	Process(ctx context.Context, logText string, info model.BuildInfo) (*model.FailureAnalysis, error)
}

// CheckLogs fetches the failing check run output of a GitHub check suite.
type CheckLogs interface {
	CheckSuiteOutput(ctx context.Context, owner, repo string, suiteID int64) (string, []string, error)
}

// PipelineLogs fetches the failed job traces of a GitLab pipeline.
type PipelineLogs interface {
	FailedJobTraces(ctx context.Context, projectID, pipelineID int64) (string, []string, error)
}

type Deps struct {
	Submitter    Submitter
	Analyzer     Analyzer
	CheckLogs    CheckLogs
	PipelineLogs PipelineLogs
	Metrics      *metrics.Metrics
}

// Watcher holds the provider translators. Analyzer and log sources are
// optional; without them failures are submitted with hints only.
type Watcher struct {
	submitter    Submitter
	analyzer     Analyzer
	checkLogs    CheckLogs
	pipelineLogs PipelineLogs
	metrics      *metrics.Metrics
}

func New(deps Deps) *Watcher {
	return &Watcher{
		submitter:    deps.Submitter,
		analyzer:     deps.Analyzer,
		checkLogs:    deps.CheckLogs,
		pipelineLogs: deps.PipelineLogs,
		metrics:      deps.Metrics,
	}
}

// Result reports what a webhook delivery produced.
type Result struct {
	Source      string                 `json:"source"`
	Event       string                 `json:"event"`
	Ignored     bool                   `json:"ignored,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	ApprovalIDs []string               `json:"approvalIds,omitempty"`
	Analysis    *model.FailureAnalysis `json:"analysis,omitempty"`
}

func ignored(source, event, reason string) Result {
	return Result{Source: source, Event: event, Ignored: true, Reason: reason}
}

func (w *Watcher) submit(ctx context.Context, res *Result, kind model.ActionKind, payload map[string]any, priority string) error {
	item, err := w.submitter.Submit(ctx, model.SubmitRequest{Action: kind, Payload: payload, Priority: priority})
	if err != nil {
		return fmt.Errorf("submitting %s: %w", kind, err)
	}
	res.ApprovalIDs = append(res.ApprovalIDs, item.ID)
	slog.InfoContext(ctx, "webhook produced approval", "approval_id", item.ID, "action", kind)
	return nil
}

// handleFailure runs the analyzer over logText when both are available and
// submits ci.fix_suggestions unless the analyzer already submitted a patch.
func (w *Watcher) handleFailure(ctx context.Context, res *Result, info model.BuildInfo, logText string, hints []string) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BuildID:    logger.Ptr(info.BuildID),
		Repository: logger.Ptr(info.Repository),
	})

	var analysis *model.FailureAnalysis
	if w.analyzer != nil && logText != "" {
		a, err := w.analyzer.Process(ctx, logText, info)
		if err != nil {
			slog.WarnContext(ctx, "failure analysis incomplete", "error", err)
		}
		analysis = a
	}
	res.Analysis = analysis

	if analysis != nil && analysis.ApprovalID != "" {
		res.ApprovalIDs = append(res.ApprovalIDs, analysis.ApprovalID)
		return nil
	}

	priority := ""
	if analysis != nil && analysis.Severity == model.SeverityHigh {
		priority = model.PriorityHigh
	}
	return w.submit(ctx, res, model.ActionCIFixSuggestions, analyzer.FixSuggestionPayload(analysis, info, hints), priority)
}
