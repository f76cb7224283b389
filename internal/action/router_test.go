package action_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"basegraph.app/warden/internal/action"
	"basegraph.app/warden/internal/integration"
	"basegraph.app/warden/internal/model"
)

type failingTransport struct {
	failOp string
	echo   *integration.EchoTransport
}

func (f *failingTransport) Do(ctx context.Context, req integration.Request) (map[string]any, error) {
	if req.Op == f.failOp {
		return nil, &model.AdapterError{System: req.System, Op: req.Op, StatusCode: 500, Err: errors.New("boom")}
	}
	return f.echo.Do(ctx, req)
}

type panickingGitHub struct {
	*integration.GitHub
}

func (p panickingGitHub) CreatePullRequest(context.Context, integration.PullRequestInput) (map[string]any, error) {
	panic("unexpected nil")
}

func item(kind model.ActionKind, payload map[string]any) model.ApprovalItem {
	return model.ApprovalItem{
		ID:        "test-1",
		Action:    kind,
		Payload:   payload,
		CreatedAt: time.Now(),
		Status:    model.ApprovalApproved,
	}
}

const mainPy = "import os\nimport foo\nprint(os.getcwd())\n"

const fixPatch = `--- a/app/main.py
+++ b/app/main.py
@@ -1,3 +1,3 @@
 import os
-import foo
+import bar
 print(os.getcwd())
`

const stalePatch = `--- a/app/main.py
+++ b/app/main.py
@@ -1,3 +1,3 @@
 import sys
-import foo
+import bar
 print(os.getcwd())
`

var _ = Describe("Router", func() {
	var (
		ctx    context.Context
		echo   *integration.EchoTransport
		fs     afero.Fs
		router *action.Router
	)

	BeforeEach(func() {
		ctx = context.Background()
		echo = integration.NewEchoTransport()
		fs = afero.NewMemMapFs()
		Expect(afero.WriteFile(fs, "/work/o/r/app/main.py", []byte(mainPy), 0o644)).To(Succeed())
		router = action.NewRouter(
			integration.NewGitHub(echo),
			integration.NewJira(echo),
			action.NewPatchApplier(fs, "/work"),
			time.Second,
		)
	})

	It("opens a pull request through the transport", func() {
		res := router.Execute(ctx, item(model.ActionGitHubPR, map[string]any{
			"owner": "o", "repo": "r", "head": "feat", "base": "main", "title": "Fix bug",
		}))

		Expect(res.Success).To(BeTrue())
		Expect(res.Result).To(Equal(map[string]any{
			"dry_run": true, "title": "Fix bug", "head": "feat", "base": "main",
		}))
	})

	It("rejects missing fields without calling the adapter", func() {
		res := router.Execute(ctx, item(model.ActionGitHubComment, map[string]any{
			"owner": "o", "repo": "r", "number": 3,
		}))

		Expect(res.Success).To(BeFalse())
		Expect(res.Error).To(ContainSubstring("missing required fields: body"))
		Expect(echo.Calls()).To(BeEmpty())
	})

	It("lists every missing field in sorted order", func() {
		res := router.Execute(ctx, item(model.ActionJiraCreate, map[string]any{}))

		Expect(res.Success).To(BeFalse())
		Expect(res.Error).To(Equal("jira.create: missing required fields: project, summary"))
	})

	It("accepts numeric strings for issue numbers", func() {
		res := router.Execute(ctx, item(model.ActionGitHubComment, map[string]any{
			"owner": "o", "repo": "r", "number": "12", "body": "hello",
		}))

		Expect(res.Success).To(BeTrue())
		Expect(res.Result["number"]).To(Equal(12))
	})

	It("converts adapter errors into a failed result", func() {
		failing := &failingTransport{failOp: "create_pull_request", echo: echo}
		r := action.NewRouter(integration.NewGitHub(failing), integration.NewJira(failing), nil, time.Second)

		res := r.Execute(ctx, item(model.ActionGitHubPR, map[string]any{
			"owner": "o", "repo": "r", "head": "feat", "base": "main", "title": "x",
		}))

		Expect(res.Success).To(BeFalse())
		Expect(res.Error).To(ContainSubstring("github create_pull_request: status 500: boom"))
	})

	It("recovers from a panicking handler", func() {
		r := action.NewRouter(panickingGitHub{integration.NewGitHub(echo)}, integration.NewJira(echo), nil, time.Second)

		var res model.ExecutionResult
		Expect(func() {
			res = r.Execute(ctx, item(model.ActionGitHubPR, map[string]any{
				"owner": "o", "repo": "r", "head": "feat", "base": "main", "title": "x",
			}))
		}).NotTo(Panic())
		Expect(res.Success).To(BeFalse())
		Expect(res.Error).To(ContainSubstring("panicked"))
	})

	It("has a handler for every action kind", func() {
		for _, kind := range model.AllActionKinds() {
			res := router.Execute(ctx, item(kind, map[string]any{}))
			Expect(res.Success).To(BeFalse(), string(kind))
			Expect(res.Error).NotTo(ContainSubstring("no handler"), string(kind))
		}
	})

	Describe("auto-reply with a patch", func() {
		It("commits changed files before posting replies", func() {
			res := router.Execute(ctx, item(model.ActionGitHubPRAutoReply, map[string]any{
				"owner": "o", "repo": "r", "number": 5,
				"content": `{"replies": ["Fixed the import", "Please re-run CI"], "patch": ` + jsonString(fixPatch) + `, "branch": "fix-imports"}`,
			}))

			Expect(res.Success).To(BeTrue(), res.Error)
			Expect(echo.Ops()).To(Equal([]string{
				"github.get_contents",
				"github.commit_file",
				"github.create_comment",
				"github.create_comment",
			}))
			Expect(res.Result["committed_files"]).To(Equal([]string{"app/main.py"}))

			data, err := afero.ReadFile(fs, "/work/o/r/app/main.py")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("import os\nimport bar\nprint(os.getcwd())\n"))
		})

		It("posts no replies when the patch does not apply", func() {
			res := router.Execute(ctx, item(model.ActionGitHubPRAutoReply, map[string]any{
				"owner": "o", "repo": "r", "number": 5,
				"content": map[string]any{"replies": []any{"Fixed"}, "patch": stalePatch, "branch": "fix"},
			}))

			Expect(res.Success).To(BeFalse())
			Expect(res.Error).To(ContainSubstring("context does not match"))
			Expect(echo.Calls()).To(BeEmpty())

			data, _ := afero.ReadFile(fs, "/work/o/r/app/main.py")
			Expect(string(data)).To(Equal(mainPy))
		})

		It("posts replies only when there is no patch", func() {
			res := router.Execute(ctx, item(model.ActionGitHubPRAutoReply, map[string]any{
				"owner": "o", "repo": "r", "number": 5,
				"content": `{"replies": ["Thanks!"]}`,
			}))

			Expect(res.Success).To(BeTrue())
			Expect(echo.Ops()).To(Equal([]string{"github.create_comment"}))
		})

		It("rejects content that is not JSON", func() {
			res := router.Execute(ctx, item(model.ActionGitHubPRAutoReply, map[string]any{
				"owner": "o", "repo": "r", "number": 5, "content": "not json",
			}))

			Expect(res.Success).To(BeFalse())
			Expect(res.Error).To(ContainSubstring("content is not valid JSON"))
		})
	})

	It("requires a patch for apply_patch", func() {
		res := router.Execute(ctx, item(model.ActionGitHubApplyPatch, map[string]any{
			"owner": "o", "repo": "r", "branch": "fix", "content": `{"replies": []}`,
		}))

		Expect(res.Success).To(BeFalse())
		Expect(res.Error).To(ContainSubstring("content.patch"))
	})

	It("opens an issue for CI fix suggestions without a patch", func() {
		res := router.Execute(ctx, item(model.ActionCIFixSuggestions, map[string]any{
			"repository":  "o/r",
			"branch":      "main",
			"hints":       []any{"conclusion: failure", "branch: main"},
			"suggestions": []any{"Pin dependency versions"},
		}))

		Expect(res.Success).To(BeTrue())
		calls := echo.Calls()
		Expect(calls).To(HaveLen(1))
		Expect(calls[0].Op).To(Equal("create_issue"))
		body := calls[0].Body.(map[string]any)["body"].(string)
		Expect(body).To(ContainSubstring("conclusion: failure"))
		Expect(body).To(ContainSubstring("Pin dependency versions"))
	})

	It("commits a CI fix patch to the failing branch", func() {
		res := router.Execute(ctx, item(model.ActionCIFixSuggestions, map[string]any{
			"repository": "o/r", "branch": "main", "build_id": 77, "patch": fixPatch,
		}))

		Expect(res.Success).To(BeTrue(), res.Error)
		Expect(echo.Ops()).To(Equal([]string{"github.get_contents", "github.commit_file"}))
	})

	It("rejects a malformed repository", func() {
		res := router.Execute(ctx, item(model.ActionCIWorkflowFailure, map[string]any{
			"repository": "just-a-name", "workflow": "ci",
		}))

		Expect(res.Success).To(BeFalse())
		Expect(res.Error).To(ContainSubstring("want owner/repo"))
	})

	It("routes jira triage to a jira comment", func() {
		res := router.Execute(ctx, item(model.ActionIssueTriageSuggested, map[string]any{
			"source": "jira", "key": "OPS-4", "labels": []any{"bug"},
		}))

		Expect(res.Success).To(BeTrue())
		Expect(echo.Ops()).To(Equal([]string{"jira.add_comment"}))
	})

	It("labels and comments on github triage", func() {
		res := router.Execute(ctx, item(model.ActionIssueTriageSuggested, map[string]any{
			"owner": "o", "repo": "r", "number": 9, "labels": []any{"bug", "ci"},
		}))

		Expect(res.Success).To(BeTrue())
		Expect(echo.Ops()).To(Equal([]string{"github.add_labels", "github.create_comment"}))
	})

	It("transitions jira issues by numeric id without a lookup", func() {
		res := router.Execute(ctx, item(model.ActionJiraTransition, map[string]any{
			"key": "OPS-1", "transition": 31,
		}))

		Expect(res.Success).To(BeTrue())
		Expect(echo.Ops()).To(Equal([]string{"jira.transition_issue"}))
	})

	It("creates deployments", func() {
		res := router.Execute(ctx, item(model.ActionDeploymentSuggest, map[string]any{
			"owner": "o", "repo": "r", "ref": "main", "environment": "staging",
		}))

		Expect(res.Success).To(BeTrue())
		Expect(res.Result).To(HaveKeyWithValue("environment", "staging"))
	})
})
