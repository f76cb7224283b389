package dto

import (
	"basegraph.app/warden/internal/model"
)

type ListApprovalsResponse struct {
	Items []model.ApprovalItem `json:"items"`
	Count int                  `json:"count"`
}

type ResolveApprovalRequest struct {
	ID       string         `json:"id" binding:"required"`
	Decision string         `json:"decision" binding:"required"`
	Result   map[string]any `json:"result,omitempty"`
}

type SubmitApprovalRequest struct {
	Action   string         `json:"action" binding:"required"`
	Payload  map[string]any `json:"payload"`
	Priority string         `json:"priority,omitempty" binding:"omitempty,oneof=low normal high"`
}

type SubmitResponse struct {
	Submitted  bool   `json:"submitted"`
	ApprovalID string `json:"approvalId"`
}
