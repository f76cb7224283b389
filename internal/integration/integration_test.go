package integration_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/warden/core/config"
	"basegraph.app/warden/internal/integration"
	"basegraph.app/warden/internal/model"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
	f.mu.Unlock()

	f.handler(w, r)
}

func (f *fakeAPI) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

var _ = Describe("EchoTransport", func() {
	It("returns the echo fields with dry_run and performs no I/O", func() {
		echo := integration.NewEchoTransport()
		gh := integration.NewGitHub(echo)

		out, err := gh.CreatePullRequest(context.Background(), integration.PullRequestInput{
			Owner: "o", Repo: "r", Head: "feat", Base: "main", Title: "Fix bug",
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(map[string]any{
			"dry_run": true,
			"title":   "Fix bug",
			"head":    "feat",
			"base":    "main",
		}))
		Expect(echo.Ops()).To(Equal([]string{"github.create_pull_request"}))
	})

	It("resolves jira transitions by name in dry run", func() {
		echo := integration.NewEchoTransport()
		jira := integration.NewJira(echo)

		out, err := jira.TransitionIssue(context.Background(), "OPS-1", "Done")

		Expect(err).NotTo(HaveOccurred())
		Expect(out["dry_run"]).To(BeTrue())
		Expect(out["key"]).To(Equal("OPS-1"))
		Expect(echo.Ops()).To(Equal([]string{"jira.list_transitions", "jira.transition_issue"}))
	})
})

var _ = Describe("NetworkTransport", func() {
	var (
		api    *fakeAPI
		server *httptest.Server
		gh     *integration.GitHub
	)

	BeforeEach(func() {
		api = &fakeAPI{}
		server = httptest.NewServer(api)
		gh = integration.NewGitHub(integration.NewGitHubTransport(config.GitHubConfig{
			Token:  "tok",
			APIURL: server.URL,
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends an authenticated JSON request and decodes the response", func() {
		api.handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"number": 7, "html_url": "https://example.test/pull/7"}`))
		}

		out, err := gh.CreatePullRequest(context.Background(), integration.PullRequestInput{
			Owner: "o", Repo: "r", Head: "feat", Base: "main", Title: "Fix bug",
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(out["number"]).To(BeNumerically("==", 7))

		reqs := api.Requests()
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Method).To(Equal(http.MethodPost))
		Expect(reqs[0].Path).To(Equal("/repos/o/r/pulls"))
		Expect(reqs[0].Auth).To(Equal("Bearer tok"))
		Expect(reqs[0].Body).To(HaveKeyWithValue("title", "Fix bug"))
	})

	It("wraps non-2xx responses in an AdapterError", func() {
		api.handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message": "Validation Failed"}`))
		}

		_, err := gh.CreateComment(context.Background(), "o", "r", 3, "hi")

		var adapterErr *model.AdapterError
		Expect(errors.As(err, &adapterErr)).To(BeTrue())
		Expect(adapterErr.System).To(Equal("github"))
		Expect(adapterErr.Op).To(Equal("create_comment"))
		Expect(adapterErr.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		Expect(err.Error()).To(ContainSubstring("Validation Failed"))
	})

	It("creates a new file when the contents lookup returns 404", func() {
		api.handler = func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message": "Not Found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"content": {"path": "app/main.py"}}`))
		}

		_, err := gh.CommitFile(context.Background(), integration.CommitFileInput{
			Owner: "o", Repo: "r", Branch: "fix", Path: "app/main.py",
			Content: []byte("print('ok')\n"), Message: "fix",
		})

		Expect(err).NotTo(HaveOccurred())
		reqs := api.Requests()
		Expect(reqs).To(HaveLen(2))
		Expect(reqs[0].Query).To(Equal("ref=fix"))
		Expect(reqs[1].Method).To(Equal(http.MethodPut))
		Expect(reqs[1].Path).To(Equal("/repos/o/r/contents/app/main.py"))
		Expect(reqs[1].Body).NotTo(HaveKey("sha"))
		Expect(reqs[1].Body["content"]).To(Equal(base64.StdEncoding.EncodeToString([]byte("print('ok')\n"))))
	})

	It("passes the existing blob sha when replacing a file", func() {
		api.handler = func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte(`{"sha": "abc123"}`))
				return
			}
			_, _ = w.Write([]byte(`{}`))
		}

		_, err := gh.CommitFile(context.Background(), integration.CommitFileInput{
			Owner: "o", Repo: "r", Branch: "fix", Path: "README.md", Content: []byte("x"), Message: "m",
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(api.Requests()[1].Body).To(HaveKeyWithValue("sha", "abc123"))
	})

	It("collects output from failed check runs", func() {
		api.handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"check_runs": [
				{"name": "test", "conclusion": "failure", "output": {"title": "pytest", "summary": "ModuleNotFoundError: No module named 'foo'"}},
				{"name": "lint", "conclusion": "success", "output": {"summary": "ok"}}
			]}`))
		}

		text, names, err := gh.CheckSuiteOutput(context.Background(), "o", "r", 42)

		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"test"}))
		Expect(text).To(ContainSubstring("No module named 'foo'"))
		Expect(text).NotTo(ContainSubstring("ok"))
		Expect(api.Requests()[0].Path).To(Equal("/repos/o/r/check-suites/42/check-runs"))
	})
})

var _ = Describe("Jira", func() {
	It("uses basic auth and defaults the issue type to Task", func() {
		api := &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"key": "OPS-9"}`))
		}}
		server := httptest.NewServer(api)
		defer server.Close()

		jira := integration.NewJira(integration.NewJiraTransport(config.JiraConfig{
			BaseURL: server.URL, User: "bot@example.test", Token: "t",
		}))

		out, err := jira.CreateIssue(context.Background(), integration.JiraIssueInput{Project: "OPS", Summary: "Broken build"})

		Expect(err).NotTo(HaveOccurred())
		Expect(out["key"]).To(Equal("OPS-9"))
		req := api.Requests()[0]
		Expect(req.Auth).To(HavePrefix("Basic "))
		fields := req.Body["fields"].(map[string]any)
		Expect(fields["issuetype"]).To(Equal(map[string]any{"name": "Task"}))
	})

	It("returns an error for an unknown transition name", func() {
		api := &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"transitions": [{"id": "31", "name": "In Progress"}]}`))
		}}
		server := httptest.NewServer(api)
		defer server.Close()

		jira := integration.NewJira(integration.NewJiraTransport(config.JiraConfig{BaseURL: server.URL}))

		_, err := jira.TransitionIssue(context.Background(), "OPS-1", "Done")
		Expect(err).To(MatchError(ContainSubstring(`"Done" not available`)))
	})
})
