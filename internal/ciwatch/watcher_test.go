package ciwatch_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/warden/internal/analyzer"
	"basegraph.app/warden/internal/approval"
	"basegraph.app/warden/internal/audit"
	"basegraph.app/warden/internal/ciwatch"
	"basegraph.app/warden/internal/model"
	"basegraph.app/warden/internal/notify"
)

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, model.ApprovalItem) model.ExecutionResult {
	return model.Succeeded(nil)
}

type quietNotifier struct{ sent int }

func (n *quietNotifier) Notify(context.Context, notify.Message) error {
	n.sent++
	return nil
}

func (n *quietNotifier) Channel() string { return "test" }

type fakeCheckLogs struct {
	text   string
	names  []string
	err    error
	suites []int64
}

func (f *fakeCheckLogs) CheckSuiteOutput(_ context.Context, owner, repo string, suiteID int64) (string, []string, error) {
	f.suites = append(f.suites, suiteID)
	return f.text, f.names, f.err
}

type fakePipelineLogs struct {
	text  string
	names []string
	calls [][2]int64
}

func (f *fakePipelineLogs) FailedJobTraces(_ context.Context, projectID, pipelineID int64) (string, []string, error) {
	f.calls = append(f.calls, [2]int64{projectID, pipelineID})
	return f.text, f.names, nil
}

type submittingAnalyzer struct{}

func (submittingAnalyzer) Process(_ context.Context, _ string, info model.BuildInfo) (*model.FailureAnalysis, error) {
	return &model.FailureAnalysis{
		BuildID:    info.BuildID,
		Repository: info.Repository,
		Severity:   model.SeverityHigh,
		Failures:   []model.FailureMatch{{Type: "syntax_error", Severity: model.SeverityHigh}},
		ApprovalID: "ci.fix_suggestions-from-analyzer",
	}, nil
}

func checkSuite(conclusion string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": "completed",
		"check_suite": {
			"id": 5501,
			"head_branch": "main",
			"head_sha": "0123456789abcdef",
			"status": "completed",
			"conclusion": %q,
			"pull_requests": []
		},
		"repository": {"full_name": "o/r", "name": "r", "owner": {"login": "o"}, "default_branch": "main"}
	}`, conclusion))
}

var _ = Describe("Watcher", func() {
	var (
		ctx  context.Context
		svc  *approval.Service
		deps ciwatch.Deps
	)

	BeforeEach(func() {
		ctx = context.Background()
		svc = approval.NewService(approval.NewQueue(20, nil), noopExecutor{}, audit.NewLogger(audit.NewMemorySink()), nil, nil)
		deps = ciwatch.Deps{Submitter: svc}
	})

	onlyPending := func() model.ApprovalItem {
		items := svc.List()
		Expect(items).To(HaveLen(1))
		return items[0]
	}

	Describe("GitHub", func() {
		It("submits fix suggestions with hints for a failed check suite", func() {
			w := ciwatch.New(deps)

			res, err := w.HandleGitHub(ctx, "check_suite", checkSuite("failure"))
			Expect(err).NotTo(HaveOccurred())

			item := onlyPending()
			Expect(res.ApprovalIDs).To(Equal([]string{item.ID}))
			Expect(item.Action).To(Equal(model.ActionCIFixSuggestions))
			Expect(item.Payload).To(HaveKeyWithValue("repository", "o/r"))
			Expect(item.Payload).To(HaveKeyWithValue("branch", "main"))
			Expect(item.Payload["hints"]).NotTo(BeEmpty())
			Expect(item.Payload["hints"]).To(ContainElement(ContainSubstring("0123456")))
		})

		It("treats a timed out suite as a failure", func() {
			w := ciwatch.New(deps)

			_, err := w.HandleGitHub(ctx, "check_suite", checkSuite("timed_out"))
			Expect(err).NotTo(HaveOccurred())
			Expect(onlyPending().Payload["hints"]).To(ContainElement(ContainSubstring("timed out")))
		})

		It("ignores successful suites", func() {
			w := ciwatch.New(deps)

			res, err := w.HandleGitHub(ctx, "check_suite", checkSuite("success"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())
			Expect(svc.List()).To(BeEmpty())
		})

		It("analyzes failing check output when a log source is configured", func() {
			notifier := &quietNotifier{}
			a, err := analyzer.New(nil, analyzer.Deps{Notifier: notifier})
			Expect(err).NotTo(HaveOccurred())
			logs := &fakeCheckLogs{text: "ModuleNotFoundError: No module named 'foo'\n", names: []string{"pytest"}}
			deps.Analyzer = a
			deps.CheckLogs = logs
			w := ciwatch.New(deps)

			res, err := w.HandleGitHub(ctx, "check_suite", checkSuite("failure"))
			Expect(err).NotTo(HaveOccurred())

			Expect(logs.suites).To(Equal([]int64{5501}))
			Expect(res.Analysis).NotTo(BeNil())
			Expect(res.Analysis.Severity).To(Equal(model.SeverityHigh))
			Expect(notifier.sent).To(Equal(1))

			item := onlyPending()
			Expect(item.Priority).To(Equal(model.PriorityHigh))
			Expect(item.Payload["failure_types"]).To(Equal([]string{"dependency_error"}))
			Expect(item.Payload["hints"]).To(ContainElement("Failing checks: pytest"))
		})

		It("still submits hints when the log source fails", func() {
			deps.CheckLogs = &fakeCheckLogs{err: errors.New("rate limited")}
			w := ciwatch.New(deps)

			_, err := w.HandleGitHub(ctx, "check_suite", checkSuite("failure"))
			Expect(err).NotTo(HaveOccurred())
			Expect(onlyPending().Payload["hints"]).NotTo(BeEmpty())
		})

		It("does not submit twice when the analyzer already submitted a patch", func() {
			deps.Analyzer = submittingAnalyzer{}
			deps.CheckLogs = &fakeCheckLogs{text: "SyntaxError: invalid syntax"}
			w := ciwatch.New(deps)

			res, err := w.HandleGitHub(ctx, "check_suite", checkSuite("failure"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ApprovalIDs).To(Equal([]string{"ci.fix_suggestions-from-analyzer"}))
			Expect(svc.List()).To(BeEmpty())
		})

		It("reports failed workflow runs", func() {
			w := ciwatch.New(deps)

			_, err := w.HandleGitHub(ctx, "workflow_run", []byte(`{
				"action": "completed",
				"workflow_run": {"id": 77, "name": "CI", "head_branch": "feat", "head_sha": "abc", "conclusion": "failure", "html_url": "https://github.com/o/r/actions/runs/77"},
				"repository": {"full_name": "o/r"}
			}`))
			Expect(err).NotTo(HaveOccurred())

			item := onlyPending()
			Expect(item.Action).To(Equal(model.ActionCIWorkflowFailure))
			Expect(item.Payload).To(HaveKeyWithValue("workflow", "CI"))
			Expect(item.Payload).To(HaveKeyWithValue("repository", "o/r"))
			Expect(item.Payload).To(HaveKeyWithValue("run_id", "77"))
		})

		It("asks for review when a pull request is ready", func() {
			w := ciwatch.New(deps)

			res, err := w.HandleGitHub(ctx, "pull_request", []byte(`{
				"action": "opened",
				"pull_request": {"number": 9, "title": "WIP", "draft": true},
				"repository": {"full_name": "o/r"}
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())

			_, err = w.HandleGitHub(ctx, "pull_request", []byte(`{
				"action": "ready_for_review",
				"pull_request": {"number": 9, "title": "Add cache", "requested_reviewers": [{"login": "carol"}], "head": {"ref": "cache"}},
				"repository": {"full_name": "o/r"}
			}`))
			Expect(err).NotTo(HaveOccurred())

			item := onlyPending()
			Expect(item.Action).To(Equal(model.ActionPRReviewRequested))
			Expect(item.Payload).To(HaveKeyWithValue("owner", "o"))
			Expect(item.Payload).To(HaveKeyWithValue("number", 9))
			Expect(item.Payload["reviewers"]).To(Equal([]string{"carol"}))
		})

		It("suggests a deployment only for the default branch", func() {
			w := ciwatch.New(deps)
			push := func(ref string) []byte {
				return []byte(fmt.Sprintf(`{"ref": %q, "after": "deadbeefcafe", "repository": {"full_name": "o/r", "default_branch": "main"}, "pusher": {"name": "dan"}}`, ref))
			}

			res, err := w.HandleGitHub(ctx, "push", push("refs/heads/feature"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())

			_, err = w.HandleGitHub(ctx, "push", push("refs/heads/main"))
			Expect(err).NotTo(HaveOccurred())

			item := onlyPending()
			Expect(item.Action).To(Equal(model.ActionDeploymentSuggest))
			Expect(item.Payload).To(HaveKeyWithValue("ref", "main"))
			Expect(item.Payload).To(HaveKeyWithValue("environment", "staging"))
		})

		It("proposes triage for new issues", func() {
			w := ciwatch.New(deps)

			_, err := w.HandleGitHub(ctx, "issues", []byte(`{
				"action": "opened",
				"issue": {"number": 4, "title": "Crash on startup", "body": ""},
				"repository": {"full_name": "o/r"}
			}`))
			Expect(err).NotTo(HaveOccurred())

			item := onlyPending()
			Expect(item.Action).To(Equal(model.ActionIssueTriageSuggested))
			Expect(item.Payload).To(HaveKeyWithValue("source", "github"))
			Expect(item.Payload["labels"]).To(Equal([]string{"bug"}))
			Expect(item.Payload["suggestions"]).To(ContainElement(ContainSubstring("steps to reproduce")))
		})

		It("answers ping and ignores unknown events", func() {
			w := ciwatch.New(deps)

			res, err := w.HandleGitHub(ctx, "ping", []byte(`{"zen": "Keep it logically awesome."}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeFalse())

			res, err = w.HandleGitHub(ctx, "star", []byte(`{}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())
			Expect(svc.List()).To(BeEmpty())
		})

		It("rejects malformed payloads", func() {
			w := ciwatch.New(deps)

			_, err := w.HandleGitHub(ctx, "check_suite", []byte(`{not json`))
			var verr *model.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
		})
	})

	Describe("GitLab", func() {
		pipeline := func(status string) []byte {
			return []byte(fmt.Sprintf(`{
				"object_kind": "pipeline",
				"object_attributes": {"id": 99, "ref": "main", "sha": "feedface00", "status": %q},
				"project": {"id": 7, "path_with_namespace": "group/proj", "web_url": "https://gitlab.example.com/group/proj"},
				"builds": [{"id": 1, "name": "unit", "stage": "test", "status": "failed"}, {"id": 2, "name": "lint", "stage": "test", "status": "success"}]
			}`, status))
		}

		It("fetches failed job traces and submits fix suggestions", func() {
			logs := &fakePipelineLogs{text: "=== job unit (test) ===\nall good\n"}
			deps.PipelineLogs = logs
			a, err := analyzer.New(nil, analyzer.Deps{Notifier: &quietNotifier{}})
			Expect(err).NotTo(HaveOccurred())
			deps.Analyzer = a
			w := ciwatch.New(deps)

			res, err := w.HandleGitLab(ctx, "Pipeline Hook", pipeline("failed"))
			Expect(err).NotTo(HaveOccurred())

			Expect(logs.calls).To(Equal([][2]int64{{7, 99}}))
			Expect(res.Analysis).NotTo(BeNil())
			item := onlyPending()
			Expect(item.Action).To(Equal(model.ActionCIFixSuggestions))
			Expect(item.Payload).To(HaveKeyWithValue("repository", "group/proj"))
			Expect(item.Payload).To(HaveKeyWithValue("url", "https://gitlab.example.com/group/proj/-/pipelines/99"))
			Expect(item.Payload["hints"]).To(ContainElement("Failing checks: unit"))
		})

		It("ignores successful pipelines and other hooks", func() {
			w := ciwatch.New(deps)

			res, err := w.HandleGitLab(ctx, "Pipeline Hook", pipeline("success"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())

			res, err = w.HandleGitLab(ctx, "Issue Hook", []byte(`{}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())
			Expect(svc.List()).To(BeEmpty())
		})
	})

	Describe("CircleCI", func() {
		It("submits fix suggestions for a failed workflow", func() {
			w := ciwatch.New(deps)

			_, err := w.HandleCircleCI(ctx, []byte(`{
				"type": "workflow-completed",
				"workflow": {"id": "wf-1", "name": "build-and-test", "status": "failed", "url": "https://app.circleci.com/pipelines/gh/o/r/12/workflows/wf-1"},
				"pipeline": {"vcs": {"branch": "main", "revision": "1234567890"}},
				"project": {"slug": "gh/o/r"}
			}`))
			Expect(err).NotTo(HaveOccurred())

			item := onlyPending()
			Expect(item.Action).To(Equal(model.ActionCIFixSuggestions))
			Expect(item.Payload).To(HaveKeyWithValue("repository", "o/r"))
			Expect(item.Payload).To(HaveKeyWithValue("provider", "circleci"))
			Expect(item.Payload["hints"]).To(ContainElement("Failing checks: build-and-test"))
		})

		It("ignores successful workflows and job events", func() {
			w := ciwatch.New(deps)

			res, err := w.HandleCircleCI(ctx, []byte(`{"type": "workflow-completed", "workflow": {"status": "success"}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())

			res, err = w.HandleCircleCI(ctx, []byte(`{"type": "job-completed"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())
		})
	})

	Describe("Jira", func() {
		It("proposes triage for created issues", func() {
			w := ciwatch.New(deps)

			_, err := w.HandleJira(ctx, []byte(`{
				"webhookEvent": "jira:issue_created",
				"issue": {"key": "OPS-12", "fields": {
					"summary": "Dashboard is slow",
					"description": {"type": "doc", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "Loads in 30s"}]}]},
					"issuetype": {"name": "Bug"},
					"labels": []
				}}
			}`))
			Expect(err).NotTo(HaveOccurred())

			item := onlyPending()
			Expect(item.Action).To(Equal(model.ActionIssueTriageSuggested))
			Expect(item.Payload).To(HaveKeyWithValue("source", "jira"))
			Expect(item.Payload).To(HaveKeyWithValue("key", "OPS-12"))
			Expect(item.Payload["labels"]).To(Equal([]string{"performance"}))
			Expect(item.Payload["suggestions"]).To(Equal([]string{"Set a priority so the issue can be scheduled"}))
		})

		It("ignores updates", func() {
			w := ciwatch.New(deps)

			res, err := w.HandleJira(ctx, []byte(`{"webhookEvent": "jira:issue_updated", "issue": {"key": "OPS-12"}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())
		})
	})
})
