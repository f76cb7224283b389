package model

import "time"

// AuditRecord is one line of the append-only audit log.
type AuditRecord struct {
	TS    time.Time      `json:"ts"`
	Event string         `json:"event"`
	Actor string         `json:"actor"`
	Path  string         `json:"path"`
	Data  map[string]any `json:"data"`
}

const (
	AuditApprovalSubmitted = "approval.submitted"
	AuditApprovalResolved  = "approval.resolved"
	AuditActionExecuted    = "action.executed"
	AuditRateLimitDenied   = "ratelimit.denied"
	AuditCostWarn          = "cost.warn"
	AuditCostExceeded      = "cost.exceeded"
	AuditFailureDetected   = "ci.failure_detected"
	AuditWebhookRejected   = "webhook.signature_rejected"
	AuditApprovalStale     = "approval.stale"
)
