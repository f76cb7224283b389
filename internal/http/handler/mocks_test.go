package handler_test

import (
	"context"

	"basegraph.app/warden/internal/model"
	"basegraph.app/warden/internal/ratelimit"
)

type mockApprovalService struct {
	submitFn  func(ctx context.Context, req model.SubmitRequest) (model.ApprovalItem, error)
	listFn    func() []model.ApprovalItem
	getFn     func(id string) (model.ApprovalItem, error)
	resolveFn func(ctx context.Context, id, decision string, result map[string]any) (model.ApprovalItem, error)

	submitted []model.SubmitRequest
}

func (m *mockApprovalService) Submit(ctx context.Context, req model.SubmitRequest) (model.ApprovalItem, error) {
	m.submitted = append(m.submitted, req)
	if m.submitFn != nil {
		return m.submitFn(ctx, req)
	}
	return model.ApprovalItem{ID: req.Action.String() + "-1", Action: req.Action, Status: model.ApprovalPending}, nil
}

func (m *mockApprovalService) List() []model.ApprovalItem {
	if m.listFn != nil {
		return m.listFn()
	}
	return nil
}

func (m *mockApprovalService) Get(id string) (model.ApprovalItem, error) {
	if m.getFn != nil {
		return m.getFn(id)
	}
	return model.ApprovalItem{}, model.ErrNotFound
}

func (m *mockApprovalService) Resolve(ctx context.Context, id, decision string, result map[string]any) (model.ApprovalItem, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, id, decision, result)
	}
	return model.ApprovalItem{}, model.ErrNotFound
}

type mockFailureProcessor struct {
	processFn func(ctx context.Context, logText string, info model.BuildInfo) (*model.FailureAnalysis, error)
}

func (m *mockFailureProcessor) Process(ctx context.Context, logText string, info model.BuildInfo) (*model.FailureAnalysis, error) {
	if m.processFn != nil {
		return m.processFn(ctx, logText, info)
	}
	return &model.FailureAnalysis{}, nil
}

type mockUsageReporter struct {
	statusFn func(ctx context.Context, key string) (ratelimit.CostStatus, error)
}

func (m *mockUsageReporter) Status(ctx context.Context, key string) (ratelimit.CostStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, key)
	}
	return ratelimit.CostStatus{Key: key}, nil
}
