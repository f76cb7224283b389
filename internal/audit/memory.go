package audit

import (
	"context"
	"sync"

	"basegraph.app/warden/internal/model"
)

// MemorySink keeps records in memory. Used by tests and by dry-run tooling.
type MemorySink struct {
	mu      sync.Mutex
	records []model.AuditRecord
	err     error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// FailWith makes every subsequent Write return err.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemorySink) Records() []model.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Events returns the event names in write order.
func (s *MemorySink) Events() []string {
	recs := s.Records()
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Event
	}
	return out
}
