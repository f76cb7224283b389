package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/warden/internal/audit"
	"basegraph.app/warden/internal/ciwatch"
	"basegraph.app/warden/internal/model"
)

const maxBodyBytes = 5 << 20

type Watcher interface {
	HandleGitHub(ctx context.Context, event string, body []byte) (ciwatch.Result, error)
	HandleGitLab(ctx context.Context, event string, body []byte) (ciwatch.Result, error)
	HandleCircleCI(ctx context.Context, body []byte) (ciwatch.Result, error)
	HandleJira(ctx context.Context, body []byte) (ciwatch.Result, error)
}

// Secrets holds the shared secrets per provider. An empty secret disables
// verification for that provider.
type Secrets struct {
	GitHub   string
	GitLab   string
	CircleCI string
	Jira     string
}

type Handler struct {
	watcher Watcher
	secrets Secrets
}

func NewHandler(watcher Watcher, secrets Secrets) *Handler {
	return &Handler{watcher: watcher, secrets: secrets}
}

func (h *Handler) GitHub(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if !verified(c, "github", ciwatch.VerifyGitHub(h.secrets.GitHub, c.GetHeader("X-Hub-Signature-256"), body)) {
		return
	}
	event := c.GetHeader("X-GitHub-Event")
	ctx := audit.WithActor(c.Request.Context(), "webhook:github")
	respond(c, "github", event)(h.watcher.HandleGitHub(ctx, event, body))
}

func (h *Handler) GitLab(c *gin.Context) {
	if !verified(c, "gitlab", ciwatch.VerifyGitLab(h.secrets.GitLab, c.GetHeader("X-Gitlab-Token"))) {
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}
	event := c.GetHeader("X-Gitlab-Event")
	ctx := audit.WithActor(c.Request.Context(), "webhook:gitlab")
	respond(c, "gitlab", event)(h.watcher.HandleGitLab(ctx, event, body))
}

func (h *Handler) CircleCI(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if !verified(c, "circleci", ciwatch.VerifyCircleCI(h.secrets.CircleCI, c.GetHeader("Circleci-Signature"), body)) {
		return
	}
	ctx := audit.WithActor(c.Request.Context(), "webhook:circleci")
	respond(c, "circleci", c.GetHeader("Circleci-Event-Type"))(h.watcher.HandleCircleCI(ctx, body))
}

func (h *Handler) Jira(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if !verified(c, "jira", ciwatch.VerifyJira(h.secrets.Jira, c.GetHeader("X-Hub-Signature"), body)) {
		return
	}
	ctx := audit.WithActor(c.Request.Context(), "webhook:jira")
	respond(c, "jira", "")(h.watcher.HandleJira(ctx, body))
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return nil, false
	}
	return body, true
}

func verified(c *gin.Context, source string, err error) bool {
	if err == nil {
		return true
	}
	slog.WarnContext(c.Request.Context(), "webhook rejected", "source", source, "error", err)
	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	return false
}

func respond(c *gin.Context, source, event string) func(ciwatch.Result, error) {
	return func(res ciwatch.Result, err error) {
		ctx := c.Request.Context()
		if err != nil {
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				slog.WarnContext(ctx, "invalid webhook payload", "source", source, "event", event, "error", err)
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.ErrorContext(ctx, "failed to process webhook", "source", source, "event", event, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
			return
		}

		slog.InfoContext(ctx, "webhook processed",
			"source", source,
			"event", res.Event,
			"ignored", res.Ignored,
			"approval_ids", res.ApprovalIDs)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "result": res})
	}
}
