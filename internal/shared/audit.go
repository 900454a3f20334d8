package shared

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stationledger/stationledger/internal/ledger"
)

// AuditLogger writes ledger audit events into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the event. Audit rows ride outside the caller's
// transaction; a posting that rolls back may still leave its trail.
func (l *AuditLogger) Record(ctx context.Context, event ledger.AuditEvent) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if event.Action == "" {
		return errors.New("audit event requires an action")
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs
(actor_id, company_id, action, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		event.ActorID, event.CompanyID, event.Action, event.EntityID, metaJSON, event.At)
	return err
}
