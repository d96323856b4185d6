package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"payment-webhook-service/internal/model"
)

// AuditLog is the append-only store of processing outcomes. Rows are never
// updated or deleted.
type AuditLog struct {
	pool *pgxpool.Pool
}

func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

func (l *AuditLog) Insert(ctx context.Context, entry model.AuditEntry) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO audit_log (delivery_id, outcome, severity, detail) VALUES ($1, $2, $3, $4)`,
		entry.DeliveryID, string(entry.Outcome), string(entry.Severity), entry.Detail)
	return errors.Wrap(err, "appending audit entry")
}

// ListByDeliveryID returns all audit rows for a delivery, oldest first. Used
// by compliance tooling and tests.
func (l *AuditLog) ListByDeliveryID(ctx context.Context, deliveryID string) ([]model.AuditEntry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT delivery_id, outcome, severity, detail, created_at
		 FROM audit_log WHERE delivery_id = $1 ORDER BY id`, deliveryID)
	if err != nil {
		return nil, errors.Wrap(err, "querying audit log")
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			entry    model.AuditEntry
			outcome  string
			severity string
		)
		if err := rows.Scan(&entry.DeliveryID, &outcome, &severity, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning audit entry")
		}
		entry.Outcome = model.Outcome(outcome)
		entry.Severity = model.Severity(severity)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
