package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/warden/internal/http/handler"
	"basegraph.app/warden/internal/model"
)

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		Expect(json.NewEncoder(&buf).Encode(b)).To(Succeed())
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var resp map[string]any
	Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
	return resp
}

var _ = Describe("ApprovalHandler", func() {
	var (
		router *gin.Engine
		svc    *mockApprovalService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockApprovalService{}
		h := handler.NewApprovalHandler(svc, time.Second)
		router.GET("/approvals", h.List)
		router.GET("/approvals/:id", h.Get)
		router.POST("/approvals", h.Submit)
		router.POST("/approvals/resolve", h.Resolve)
	})

	Describe("List", func() {
		It("returns pending items with a count", func() {
			svc.listFn = func() []model.ApprovalItem {
				return []model.ApprovalItem{
					{ID: "github.pr-1", Action: model.ActionGitHubPR, Status: model.ApprovalPending},
					{ID: "jira.create-2", Action: model.ActionJiraCreate, Status: model.ApprovalPending},
				}
			}

			w := doJSON(router, http.MethodGet, "/approvals", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decodeBody(w)
			Expect(resp["count"]).To(BeEquivalentTo(2))
			Expect(resp["items"]).To(HaveLen(2))
		})

		It("returns an empty list rather than null", func() {
			svc.listFn = func() []model.ApprovalItem { return nil }

			w := doJSON(router, http.MethodGet, "/approvals", nil)

			Expect(w.Body.String()).To(ContainSubstring(`"items":[]`))
		})
	})

	Describe("Get", func() {
		It("returns 404 for an unknown id", func() {
			w := doJSON(router, http.MethodGet, "/approvals/nope", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns the item", func() {
			svc.getFn = func(id string) (model.ApprovalItem, error) {
				return model.ApprovalItem{ID: id, Action: model.ActionGitHubMerge, Status: model.ApprovalPending}, nil
			}

			w := doJSON(router, http.MethodGet, "/approvals/github.merge-9", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decodeBody(w)["id"]).To(Equal("github.merge-9"))
		})
	})

	Describe("Resolve", func() {
		It("passes id, decision and result through and returns the item", func() {
			var gotDecision string
			var gotResult map[string]any
			svc.resolveFn = func(_ context.Context, id, decision string, result map[string]any) (model.ApprovalItem, error) {
				gotDecision, gotResult = decision, result
				exec := model.Succeeded(map[string]any{"number": 7})
				return model.ApprovalItem{ID: id, Status: model.ApprovalApproved, ExecResult: &exec}, nil
			}

			w := doJSON(router, http.MethodPost, "/approvals/resolve", map[string]any{
				"id": "github.pr-1", "decision": "approve", "result": map[string]any{"note": "lgtm"},
			})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotDecision).To(Equal("approve"))
			Expect(gotResult).To(Equal(map[string]any{"note": "lgtm"}))
			Expect(decodeBody(w)).To(HaveKey("execResult"))
		})

		It("does not cancel the resolve when the request context ends", func() {
			ctx, cancel := context.WithCancel(context.Background())
			var errAfterCancel error
			var hasDeadline bool
			svc.resolveFn = func(rctx context.Context, id, _ string, _ map[string]any) (model.ApprovalItem, error) {
				cancel()
				errAfterCancel = rctx.Err()
				_, hasDeadline = rctx.Deadline()
				return model.ApprovalItem{ID: id}, nil
			}

			req := httptest.NewRequest(http.MethodPost, "/approvals/resolve", bytes.NewBufferString(`{"id":"x","decision":"reject"}`)).WithContext(ctx)
			req.Header.Set("Content-Type", "application/json")
			w := doRequest(router, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(errAfterCancel).NotTo(HaveOccurred())
			Expect(hasDeadline).To(BeTrue())
		})

		DescribeTable("maps service errors to status codes",
			func(err error, status int) {
				svc.resolveFn = func(context.Context, string, string, map[string]any) (model.ApprovalItem, error) {
					return model.ApprovalItem{}, err
				}

				w := doJSON(router, http.MethodPost, "/approvals/resolve", map[string]any{"id": "x", "decision": "approve"})

				Expect(w.Code).To(Equal(status))
			},
			Entry("not found", model.ErrNotFound, http.StatusNotFound),
			Entry("already resolved", model.ErrAlreadyResolved, http.StatusConflict),
			Entry("invalid decision", &model.ValidationError{Message: "decision must be approve or reject"}, http.StatusBadRequest),
			Entry("unexpected", errors.New("boom"), http.StatusInternalServerError),
		)

		It("returns 400 when the id is missing", func() {
			w := doJSON(router, http.MethodPost, "/approvals/resolve", map[string]any{"decision": "approve"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Submit", func() {
		It("submits any known action kind", func() {
			w := doJSON(router, http.MethodPost, "/approvals", map[string]any{
				"action":   "jira.transition",
				"payload":  map[string]any{"key": "OPS-1", "transition": "Done"},
				"priority": "high",
			})

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(decodeBody(w)).To(Equal(map[string]any{"submitted": true, "approvalId": "jira.transition-1"}))
			Expect(svc.submitted).To(HaveLen(1))
			Expect(svc.submitted[0].Priority).To(Equal("high"))
			Expect(svc.submitted[0].Payload).To(HaveKeyWithValue("key", "OPS-1"))
		})

		It("rejects unknown action kinds", func() {
			w := doJSON(router, http.MethodPost, "/approvals", map[string]any{"action": "shell.exec"})

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(svc.submitted).To(BeEmpty())
		})

		It("rejects unknown priorities", func() {
			w := doJSON(router, http.MethodPost, "/approvals", map[string]any{"action": "github.pr", "priority": "urgent"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})
})

func doRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
