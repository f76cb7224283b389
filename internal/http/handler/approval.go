package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/http/dto"
	"basegraph.app/warden/internal/model"
)

type ApprovalService interface {
	Submit(ctx context.Context, req model.SubmitRequest) (model.ApprovalItem, error)
	List() []model.ApprovalItem
	Get(id string) (model.ApprovalItem, error)
	Resolve(ctx context.Context, id, decision string, result map[string]any) (model.ApprovalItem, error)
}

type ApprovalHandler struct {
	approvals ApprovalService
	timeout   time.Duration
}

// NewApprovalHandler bounds each resolve (and the execution it triggers) by
// timeout. The client disconnecting does not cancel an execution.
func NewApprovalHandler(approvals ApprovalService, timeout time.Duration) *ApprovalHandler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ApprovalHandler{approvals: approvals, timeout: timeout}
}

func (h *ApprovalHandler) List(c *gin.Context) {
	items := h.approvals.List()
	if items == nil {
		items = []model.ApprovalItem{}
	}
	c.JSON(http.StatusOK, dto.ListApprovalsResponse{Items: items, Count: len(items)})
}

func (h *ApprovalHandler) Get(c *gin.Context) {
	item, err := h.approvals.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *ApprovalHandler) Resolve(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ResolveApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{ApprovalID: &req.ID})
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	item, err := h.approvals.Resolve(ctx, req.ID, req.Decision, req.Result)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Submit is the generic entry point for any action kind.
func (h *ApprovalHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := model.ParseActionKind(req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	submitted(c, h.approvals, model.SubmitRequest{Action: kind, Payload: req.Payload, Priority: req.Priority})
}

func submitted(c *gin.Context, approvals ApprovalService, req model.SubmitRequest) {
	item, err := approvals.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.SubmitResponse{Submitted: true, ApprovalID: item.ID})
}
