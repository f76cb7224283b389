package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"basegraph.app/warden/internal/model"
)

// PostgresSink mirrors audit records into the audit_log table for querying.
// The file sink stays the source of truth; this one is optional.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

const insertAudit = `INSERT INTO audit_log (ts, event, actor, path, data) VALUES ($1, $2, $3, $4, $5)`

func (s *PostgresSink) Write(ctx context.Context, rec model.AuditRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encoding audit data: %w", err)
	}
	if _, err := s.pool.Exec(ctx, insertAudit, rec.TS, rec.Event, rec.Actor, rec.Path, data); err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by core/db.
func (s *PostgresSink) Close() error {
	return nil
}
