package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"basegraph.app/warden/internal/http/dto"
	"basegraph.app/warden/internal/model"
)

// ActionHandler exposes one submit endpoint per common action. Nothing runs
// until the item is approved.
type ActionHandler struct {
	approvals ApprovalService
}

func NewActionHandler(approvals ApprovalService) *ActionHandler {
	return &ActionHandler{approvals: approvals}
}

func (h *ActionHandler) GitHubPR(c *gin.Context) {
	h.submit(c, model.ActionGitHubPR, &dto.CreatePullRequestRequest{})
}

func (h *ActionHandler) GitHubComment(c *gin.Context) {
	h.submit(c, model.ActionGitHubComment, &dto.CreateCommentRequest{})
}

func (h *ActionHandler) GitHubIssue(c *gin.Context) {
	h.submit(c, model.ActionGitHubIssue, &dto.CreateIssueRequest{})
}

func (h *ActionHandler) JiraCreate(c *gin.Context) {
	h.submit(c, model.ActionJiraCreate, &dto.JiraCreateRequest{})
}

func (h *ActionHandler) JiraUpdate(c *gin.Context) {
	h.submit(c, model.ActionJiraUpdate, &dto.JiraUpdateRequest{})
}

func (h *ActionHandler) JiraComment(c *gin.Context) {
	h.submit(c, model.ActionJiraComment, &dto.JiraCommentRequest{})
}

// submit validates the body against req, then submits the body itself as the
// payload.
func (h *ActionHandler) submit(c *gin.Context, kind model.ActionKind, req any) {
	ctx := c.Request.Context()

	if err := c.ShouldBindBodyWith(req, binding.JSON); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err, "action", kind)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var payload map[string]any
	if err := c.ShouldBindBodyWith(&payload, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	submitted(c, h.approvals, model.SubmitRequest{Action: kind, Payload: payload})
}
