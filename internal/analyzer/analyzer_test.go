package analyzer_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/warden/common/llm"
	"basegraph.app/warden/internal/analyzer"
	"basegraph.app/warden/internal/model"
	"basegraph.app/warden/internal/notify"
	"basegraph.app/warden/internal/ratelimit"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeNotifier) Channel() string { return "slack" }

type fakePatches struct {
	calls  []llm.PatchRequest
	patch  string
	tokens int64
	err    error
}

func (f *fakePatches) GeneratePatch(_ context.Context, req llm.PatchRequest) (*llm.PatchProposal, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.PatchProposal{Patch: f.patch, TokensUsed: f.tokens}, nil
}

type fakeSubmitter struct {
	submitted    []model.SubmitRequest
	autoApproved []string
}

func (f *fakeSubmitter) Submit(_ context.Context, req model.SubmitRequest) (model.ApprovalItem, error) {
	f.submitted = append(f.submitted, req)
	return model.ApprovalItem{ID: "ci.fix_suggestions-1", Action: req.Action, Status: model.ApprovalPending}, nil
}

func (f *fakeSubmitter) AutoApprove(_ context.Context, id string) (model.ApprovalItem, error) {
	f.autoApproved = append(f.autoApproved, id)
	return model.ApprovalItem{ID: id, Status: model.ApprovalApproved, ExecResult: &model.ExecutionResult{Success: true}}, nil
}

const dependencyLog = `Run python -m pytest
Collecting requirements
Installing collected packages
Traceback (most recent call last):
  File "app.py", line 1, in <module>
    import foo
ModuleNotFoundError: No module named 'foo'
Error: Process completed with exit code 1.
##[group]Post job cleanup
done`

const fooPatch = `--- a/requirements.txt
+++ b/requirements.txt
@@ -1 +1,2 @@
 requests==2.31.0
+foo==1.0.0`

var info = model.BuildInfo{BuildID: "42", Repository: "o/r", Branch: "main", Provider: "github"}

var _ = Describe("Analyzer", func() {
	var (
		ctx      context.Context
		notifier *fakeNotifier
	)

	BeforeEach(func() {
		ctx = context.Background()
		notifier = &fakeNotifier{}
	})

	newAnalyzer := func(deps analyzer.Deps) *analyzer.Analyzer {
		if deps.Notifier == nil {
			deps.Notifier = notifier
		}
		a, err := analyzer.New(nil, deps)
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	Describe("Analyze", func() {
		It("classifies a missing python module as a dependency error", func() {
			a := newAnalyzer(analyzer.Deps{})

			result, err := a.Analyze(ctx, dependencyLog, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Failures).To(HaveLen(1))
			f := result.Failures[0]
			Expect(f.Type).To(Equal("dependency_error"))
			Expect(f.Severity).To(Equal(model.SeverityHigh))
			Expect(f.MatchedText).To(Equal("ModuleNotFoundError: No module named 'foo'"))
			Expect(f.Line).To(Equal(7))
			Expect(f.SuggestedFix).To(ContainSubstring("foo"))
			Expect(f.SuggestedFix).To(ContainSubstring("requirements.txt"))

			Expect(result.Severity).To(Equal(model.SeverityHigh))
			Expect(result.Suggestions).To(HaveLen(1))
			Expect(result.Suggestions[0]).To(ContainSubstring("foo"))
			Expect(result.Suggestions[0]).To(ContainSubstring("requirements.txt"))
			Expect(result.AutoFixes).To(ConsistOf(HaveField("Command", "pip install -r requirements.txt")))
			Expect(result.BuildID).To(Equal("42"))
			Expect(result.Repository).To(Equal("o/r"))
		})

		It("captures three lines of context on each side", func() {
			a := newAnalyzer(analyzer.Deps{})

			result, err := a.Analyze(ctx, dependencyLog, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Failures[0].Context).To(Equal([]string{
				"Traceback (most recent call last):",
				`  File "app.py", line 1, in <module>`,
				"    import foo",
				"ModuleNotFoundError: No module named 'foo'",
				"Error: Process completed with exit code 1.",
				"##[group]Post job cleanup",
				"done",
			}))
		})

		It("clips context at the start of the log", func() {
			a := newAnalyzer(analyzer.Deps{})

			result, err := a.Analyze(ctx, "SyntaxError: invalid syntax\nnext", info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Failures).To(HaveLen(1))
			Expect(result.Failures[0].Context).To(Equal([]string{"SyntaxError: invalid syntax", "next"}))
			Expect(result.Failures[0].Line).To(Equal(1))
		})

		It("returns empty failures for a clean log", func() {
			a := newAnalyzer(analyzer.Deps{})

			result, err := a.Analyze(ctx, "all 12 tests passed\nbuild ok", info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Failures).To(BeEmpty())
			Expect(result.Suggestions).To(BeEmpty())
			Expect(result.Severity).To(BeEmpty())
		})

		It("takes the maximum severity across matches", func() {
			a := newAnalyzer(analyzer.Deps{})
			log := "app/main.py:10:1: E302 expected 2 blank lines\n--- FAIL: TestLogin (0.01s)"

			result, err := a.Analyze(ctx, log, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.FailureTypes()).To(Equal([]string{"test_failure", "lint_error"}))
			Expect(result.Severity).To(Equal(model.SeverityMedium))
			Expect(result.Failures[0].SuggestedFix).To(ContainSubstring("TestLogin"))
		})

		It("asks for a comprehensive review beyond three failure types", func() {
			a := newAnalyzer(analyzer.Deps{})
			log := strings.Join([]string{
				"ModuleNotFoundError: No module named 'foo'",
				"FAILED tests/test_app.py::test_login",
				"app/main.py:10:1: E302 expected 2 blank lines",
				"COPY failed: file not found in build context",
			}, "\n")

			result, err := a.Analyze(ctx, log, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.FailureTypes()).To(HaveLen(4))
			Expect(result.Suggestions[len(result.Suggestions)-1]).To(ContainSubstring("comprehensive review"))
		})

		It("does not ask for a comprehensive review with three types", func() {
			a := newAnalyzer(analyzer.Deps{})
			log := "SyntaxError: bad\nFAILED tests/test_a.py::test_x\nNo space left on device"

			result, err := a.Analyze(ctx, log, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.FailureTypes()).To(HaveLen(3))
			for _, s := range result.Suggestions {
				Expect(s).NotTo(ContainSubstring("comprehensive review"))
			}
		})
	})

	Describe("Process", func() {
		It("sends no notification when nothing matched", func() {
			a := newAnalyzer(analyzer.Deps{})

			result, err := a.Process(ctx, "build ok", info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Failures).To(BeEmpty())
			Expect(notifier.sent).To(BeEmpty())
			Expect(result.Notified).To(BeEmpty())
		})

		It("notifies once when failures are found", func() {
			a := newAnalyzer(analyzer.Deps{})

			result, err := a.Process(ctx, dependencyLog, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(notifier.sent).To(HaveLen(1))
			Expect(notifier.sent[0].Subject).To(ContainSubstring("o/r"))
			Expect(notifier.sent[0].Text).To(ContainSubstring("dependency_error"))
			Expect(notifier.sent[0].Fields).To(HaveKeyWithValue("severity", "high"))
			Expect(result.Notified).To(Equal("slack"))
		})

		It("keeps going when the notifier fails", func() {
			notifier.err = errors.New("webhook down")
			a := newAnalyzer(analyzer.Deps{})

			result, err := a.Process(ctx, dependencyLog, info)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Notified).To(BeEmpty())
		})

		It("submits a generated patch for approval with high priority", func() {
			patches := &fakePatches{patch: fooPatch, tokens: 120}
			submitter := &fakeSubmitter{}
			a := newAnalyzer(analyzer.Deps{Patches: patches, Submitter: submitter})

			result, err := a.Process(ctx, dependencyLog, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(patches.calls).To(HaveLen(1))
			Expect(patches.calls[0].FailureType).To(Equal("dependency_error"))
			Expect(patches.calls[0].Repository).To(Equal("o/r"))

			Expect(result.ProposedPatch).To(Equal(fooPatch + "\n"))
			Expect(submitter.submitted).To(HaveLen(1))
			req := submitter.submitted[0]
			Expect(req.Action).To(Equal(model.ActionCIFixSuggestions))
			Expect(req.Priority).To(Equal(model.PriorityHigh))
			Expect(req.Payload).To(HaveKeyWithValue("repository", "o/r"))
			Expect(req.Payload).To(HaveKeyWithValue("branch", "main"))
			Expect(req.Payload).To(HaveKeyWithValue("patch", fooPatch+"\n"))
			Expect(req.Payload["hints"]).NotTo(BeEmpty())

			Expect(result.ApprovalID).To(Equal("ci.fix_suggestions-1"))
			Expect(submitter.autoApproved).To(BeEmpty())
			Expect(result.AutoApproved).To(BeFalse())
		})

		It("auto-approves the fix only when the policy is on", func() {
			submitter := &fakeSubmitter{}
			a := newAnalyzer(analyzer.Deps{
				Patches:     &fakePatches{patch: fooPatch},
				Submitter:   submitter,
				AutoApprove: true,
			})

			result, err := a.Process(ctx, dependencyLog, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(submitter.autoApproved).To(Equal([]string{"ci.fix_suggestions-1"}))
			Expect(result.AutoApproved).To(BeTrue())
		})

		It("submits nothing when the generator declines", func() {
			submitter := &fakeSubmitter{}
			a := newAnalyzer(analyzer.Deps{Patches: &fakePatches{patch: "  "}, Submitter: submitter})

			result, err := a.Process(ctx, dependencyLog, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.ProposedPatch).To(BeEmpty())
			Expect(submitter.submitted).To(BeEmpty())
		})

		It("charges generated tokens to the codegen budget", func() {
			costs := ratelimit.NewCostTracker(ratelimit.NewMemoryCounterStore(), 1000, 0.8, nil)
			a := newAnalyzer(analyzer.Deps{
				Patches:   &fakePatches{patch: fooPatch, tokens: 250},
				Submitter: &fakeSubmitter{},
				Costs:     costs,
			})

			_, err := a.Process(ctx, dependencyLog, info)
			Expect(err).NotTo(HaveOccurred())

			st, err := costs.Status(ctx, analyzer.CodegenBudgetKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Used).To(Equal(int64(250)))
		})

		It("skips code generation once the budget is spent", func() {
			costs := ratelimit.NewCostTracker(ratelimit.NewMemoryCounterStore(), 100, 0.8, nil)
			_, err := costs.AddTokens(ctx, analyzer.CodegenBudgetKey, 100)
			Expect(err).NotTo(HaveOccurred())

			patches := &fakePatches{patch: fooPatch}
			submitter := &fakeSubmitter{}
			a := newAnalyzer(analyzer.Deps{Patches: patches, Submitter: submitter, Costs: costs})

			result, err := a.Process(ctx, dependencyLog, info)
			Expect(err).NotTo(HaveOccurred())

			Expect(patches.calls).To(BeEmpty())
			Expect(result.ProposedPatch).To(BeEmpty())
			Expect(submitter.submitted).To(BeEmpty())
			Expect(notifier.sent).To(HaveLen(1))
		})
	})

	Describe("pattern files", func() {
		It("replaces the default library", func() {
			patterns, err := analyzer.ParsePatterns([]byte(`
patterns:
  - type: flaky_network
    description: Network flake
    severity: low
    patterns:
      - 'connection reset by peer'
    fix: 'Retry the job: {{.Match}}'
`))
			Expect(err).NotTo(HaveOccurred())
			a, err := analyzer.New(patterns, analyzer.Deps{Notifier: notifier})
			Expect(err).NotTo(HaveOccurred())

			result, err := a.Analyze(ctx, "read tcp: connection reset by peer\nModuleNotFoundError: No module named 'foo'", info)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Failures).To(HaveLen(1))
			Expect(result.Failures[0].Type).To(Equal("flaky_network"))
			Expect(result.Failures[0].SuggestedFix).To(Equal("Retry the job: connection reset by peer"))
			Expect(result.Severity).To(Equal(model.SeverityLow))
		})

		It("rejects an unknown severity", func() {
			_, err := analyzer.ParsePatterns([]byte(`
patterns:
  - type: x
    severity: catastrophic
    patterns: ['x']
`))
			Expect(err).To(HaveOccurred())
		})

		It("rejects an invalid regex", func() {
			_, err := analyzer.New([]*analyzer.Pattern{{
				Type: "broken", Severity: model.SeverityLow, Regexes: []string{"("},
			}}, analyzer.Deps{})
			Expect(err).To(MatchError(ContainSubstring("broken")))
		})
	})
})
