// Package analyzer classifies CI build logs against a pattern library and
// proposes remediations that go through the approval gate.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"basegraph.app/warden/common/llm"
	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/metrics"
	"basegraph.app/warden/internal/model"
	"basegraph.app/warden/internal/notify"
	"basegraph.app/warden/internal/ratelimit"
)

const (
	contextLines = 3
	// CodegenBudgetKey is the cost tracker key charged for generated patches.
	CodegenBudgetKey = "codegen"
)

// PatchGenerator produces a patch fragment for one failure.
type PatchGenerator interface {
	GeneratePatch(ctx context.Context, req llm.PatchRequest) (*llm.PatchProposal, error)
}

// Submitter is the approval gate remediations are submitted to.
type Submitter interface {
	Submit(ctx context.Context, req model.SubmitRequest) (model.ApprovalItem, error)
	AutoApprove(ctx context.Context, id string) (model.ApprovalItem, error)
}

// Deps wires the optional collaborators. Only Notifier is required.
type Deps struct {
	Notifier    notify.Notifier
	Patches     PatchGenerator
	Costs       *ratelimit.CostTracker
	Submitter   Submitter
	Metrics     *metrics.Metrics
	AutoApprove bool
}

type Analyzer struct {
	patterns    []*Pattern
	notifier    notify.Notifier
	patches     PatchGenerator
	costs       *ratelimit.CostTracker
	submitter   Submitter
	metrics     *metrics.Metrics
	autoApprove bool
	now         func() time.Time
}

// New compiles patterns (DefaultPatterns when nil) and returns an Analyzer.
func New(patterns []*Pattern, deps Deps) (*Analyzer, error) {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	for _, p := range patterns {
		if err := p.compile(); err != nil {
			return nil, err
		}
	}
	n := deps.Notifier
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Analyzer{
		patterns:    patterns,
		notifier:    n,
		patches:     deps.Patches,
		costs:       deps.Costs,
		submitter:   deps.Submitter,
		metrics:     deps.Metrics,
		autoApprove: deps.AutoApprove,
		now:         time.Now,
	}, nil
}

// Analyze classifies logText. It neither notifies nor submits anything.
func (a *Analyzer) Analyze(ctx context.Context, logText string, info model.BuildInfo) (*model.FailureAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines := strings.Split(strings.ReplaceAll(logText, "\r\n", "\n"), "\n")
	starts := lineStarts(logText)

	analysis := &model.FailureAnalysis{
		Timestamp:   a.now().UTC(),
		BuildID:     info.BuildID,
		Repository:  info.Repository,
		Branch:      info.Branch,
		Failures:    []model.FailureMatch{},
		Suggestions: []string{},
		AutoFixes:   []model.AutoFix{},
	}

	autoFixSeen := make(map[string]bool)
	for _, p := range a.patterns {
		var found []model.FailureMatch
		for _, re := range p.compiled {
			for _, loc := range re.FindAllStringSubmatchIndex(logText, -1) {
				sub := make([]string, len(loc)/2)
				for i := range sub {
					if loc[2*i] >= 0 {
						sub[i] = logText[loc[2*i]:loc[2*i+1]]
					}
				}
				d := p.data(re, sub)
				line := lineOf(starts, loc[0])
				found = append(found, model.FailureMatch{
					Type:         p.Type,
					Description:  p.Description,
					Severity:     p.Severity,
					MatchedText:  strings.TrimSpace(d.Match),
					Context:      surrounding(lines, line),
					SuggestedFix: render(p.fixTmpl, d),
					Line:         line + 1,
				})
				analysis.Severity = analysis.Severity.Max(p.Severity)

				if p.AutoFix != nil {
					cmd := renderString(p.AutoFix.Command, d)
					if !autoFixSeen[p.Type+"\x00"+cmd] {
						autoFixSeen[p.Type+"\x00"+cmd] = true
						analysis.AutoFixes = append(analysis.AutoFixes, model.AutoFix{
							Type:        p.Type,
							Description: p.AutoFix.Description,
							Command:     cmd,
						})
					}
				}
			}
		}
		sort.SliceStable(found, func(i, j int) bool { return found[i].Line < found[j].Line })
		analysis.Failures = append(analysis.Failures, found...)
	}
	analysis.Suggestions = suggestionsFor(analysis)
	return analysis, nil
}

// Process runs Analyze, notifies a human when failures were found and, when a
// code generator is configured, submits the generated fix for approval.
func (a *Analyzer) Process(ctx context.Context, logText string, info model.BuildInfo) (*model.FailureAnalysis, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BuildID:    logger.Ptr(info.BuildID),
		Repository: logger.Ptr(info.Repository),
		Component:  "warden.analyzer",
	})
	span := logger.StartSpan(ctx, "analyzer.process")
	defer span.End()
	ctx = span.Context()

	analysis, err := a.Analyze(ctx, logText, info)
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	if !analysis.HasFailures() {
		slog.InfoContext(ctx, "no failure patterns matched")
		return analysis, nil
	}

	for _, t := range analysis.FailureTypes() {
		a.metrics.CIFailureDetected(t)
	}
	slog.InfoContext(ctx, "build failure classified",
		"severity", analysis.Severity,
		"failures", len(analysis.Failures),
		"types", analysis.FailureTypes())

	if err := a.notify(ctx, analysis, info); err != nil {
		slog.ErrorContext(ctx, "failure notification failed", "error", err, "channel", a.notifier.Channel())
	}

	if a.patches != nil {
		analysis.ProposedPatch = a.generatePatch(ctx, analysis, info)
	}
	if analysis.ProposedPatch != "" && a.submitter != nil {
		if err := a.submitFix(ctx, analysis, info); err != nil {
			span.Fail(err)
			return analysis, fmt.Errorf("submitting generated fix: %w", err)
		}
	}
	return analysis, nil
}

func (a *Analyzer) notify(ctx context.Context, analysis *model.FailureAnalysis, info model.BuildInfo) error {
	fields := map[string]string{
		"repository": info.Repository,
		"branch":     info.Branch,
		"build_id":   info.BuildID,
		"severity":   string(analysis.Severity),
	}
	if info.URL != "" {
		fields["url"] = info.URL
	}
	msg := notify.Message{
		Subject: fmt.Sprintf("[%s] CI failure in %s (%s)", strings.ToUpper(string(analysis.Severity)), info.Repository, info.Branch),
		Text:    analysis.Summary(),
		Fields:  fields,
	}
	if err := a.notifier.Notify(ctx, msg); err != nil {
		return err
	}
	analysis.Notified = a.notifier.Channel()
	return nil
}

// generatePatch asks the code generator for one fragment per failure while
// the daily budget allows it.
func (a *Analyzer) generatePatch(ctx context.Context, analysis *model.FailureAnalysis, info model.BuildInfo) string {
	var fragments []string
	seen := make(map[string]bool)
	for _, f := range analysis.Failures {
		if a.costs != nil {
			st, err := a.costs.Status(ctx, CodegenBudgetKey)
			if err != nil {
				slog.WarnContext(ctx, "cost status unavailable, skipping code generation", "error", err)
				break
			}
			if !st.OK {
				slog.WarnContext(ctx, "code generation budget exhausted", "used", st.Used, "limit", st.Limit)
				break
			}
		}

		proposal, err := a.patches.GeneratePatch(ctx, llm.PatchRequest{
			Repository:   info.Repository,
			Branch:       info.Branch,
			FailureType:  f.Type,
			Description:  f.Description,
			MatchedText:  f.MatchedText,
			Context:      f.Context,
			SuggestedFix: f.SuggestedFix,
		})
		if err != nil {
			slog.WarnContext(ctx, "patch generation failed", "error", err, "type", f.Type)
			continue
		}
		if a.costs != nil && proposal.TokensUsed > 0 {
			if _, err := a.costs.AddTokens(ctx, CodegenBudgetKey, proposal.TokensUsed); err != nil {
				slog.WarnContext(ctx, "recording code generation cost failed", "error", err)
			}
		}
		frag := strings.TrimSpace(proposal.Patch)
		if frag == "" || seen[frag] {
			continue
		}
		seen[frag] = true
		fragments = append(fragments, frag)
	}
	if len(fragments) == 0 {
		return ""
	}
	return strings.Join(fragments, "\n") + "\n"
}

func (a *Analyzer) submitFix(ctx context.Context, analysis *model.FailureAnalysis, info model.BuildInfo) error {
	req := model.SubmitRequest{
		Action:  model.ActionCIFixSuggestions,
		Payload: FixSuggestionPayload(analysis, info, nil),
	}
	if analysis.Severity == model.SeverityHigh {
		req.Priority = model.PriorityHigh
	}
	item, err := a.submitter.Submit(ctx, req)
	if err != nil {
		return err
	}
	analysis.ApprovalID = item.ID
	slog.InfoContext(ctx, "generated fix submitted for approval", "approval_id", item.ID)

	if !a.autoApprove {
		return nil
	}
	resolved, err := a.submitter.AutoApprove(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("auto-approving %s: %w", item.ID, err)
	}
	analysis.AutoApproved = true
	if resolved.ExecResult != nil && !resolved.ExecResult.Success {
		slog.WarnContext(ctx, "auto-approved fix failed to apply", "approval_id", item.ID, "error", resolved.ExecResult.Error)
	}
	return nil
}

// FixSuggestionPayload builds a ci.fix_suggestions payload from an analysis.
// hints are extra provider-derived lines; analysis may be nil.
func FixSuggestionPayload(analysis *model.FailureAnalysis, info model.BuildInfo, hints []string) map[string]any {
	payload := map[string]any{
		"repository": info.Repository,
		"branch":     info.Branch,
	}
	if info.BuildID != "" {
		payload["build_id"] = info.BuildID
	}
	if info.Provider != "" {
		payload["provider"] = info.Provider
	}
	if info.URL != "" {
		payload["url"] = info.URL
	}
	if info.Commit != "" {
		payload["commit"] = info.Commit
	}
	allHints := append([]string(nil), hints...)
	if analysis != nil {
		if analysis.Severity != "" {
			payload["severity"] = string(analysis.Severity)
		}
		if types := analysis.FailureTypes(); len(types) > 0 {
			payload["failure_types"] = types
		}
		if len(analysis.Suggestions) > 0 {
			payload["suggestions"] = append([]string(nil), analysis.Suggestions...)
		}
		for _, f := range analysis.Failures {
			allHints = append(allHints, fmt.Sprintf("%s (line %d): %s", f.Type, f.Line, logger.Truncate(f.MatchedText, 200)))
		}
		if analysis.ProposedPatch != "" {
			payload["patch"] = analysis.ProposedPatch
		}
	}
	if len(allHints) > 0 {
		payload["hints"] = allHints
	}
	return payload
}

func lineStarts(s string) []int {
	starts := []int{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineOf returns the zero-based line index containing byte offset off.
func lineOf(starts []int, off int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > off }) - 1
}

func surrounding(lines []string, idx int) []string {
	lo := max(0, idx-contextLines)
	hi := min(len(lines), idx+contextLines+1)
	out := make([]string, 0, hi-lo)
	for _, l := range lines[lo:hi] {
		out = append(out, strings.TrimRight(l, "\r"))
	}
	return out
}
