package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payment-webhook-service/internal/model"
)

var (
	// ErrNotFound means no viewing request matches the lookup key.
	ErrNotFound = errors.New("viewing request not found")

	// ErrStatusConflict means the persisted status no longer matches the
	// transition's from-state. The event arrived out of order or lost a
	// race; it must be rejected, not force-applied.
	ErrStatusConflict = errors.New("viewing request status does not match expected state")

	// ErrDuplicateDelivery means the replay ledger already holds this
	// delivery id.
	ErrDuplicateDelivery = errors.New("delivery already processed")
)

// ViewingRequestRepository owns all writes to viewing requests. Status is
// mutated exclusively through ApplyTransition.
type ViewingRequestRepository struct {
	pool *pgxpool.Pool
}

func NewViewingRequestRepository(pool *pgxpool.Pool) *ViewingRequestRepository {
	return &ViewingRequestRepository{pool: pool}
}

// Create registers a viewing request at payment initiation, before any
// webhook for it can arrive.
func (r *ViewingRequestRepository) Create(ctx context.Context, vr *model.ViewingRequest) error {
	query := `INSERT INTO viewing_request (id, correlation_id, status, payment_amount, payment_currency, transaction_id)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		vr.ID, vr.CorrelationID, string(vr.Status), vr.PaymentAmount.String(), vr.PaymentCurrency, vr.TransactionID)
	return errors.Wrap(err, "creating viewing request")
}

func (r *ViewingRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ViewingRequest, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetByCorrelationID resolves the correlation token embedded at payment
// initiation. The webhook body never carries the internal id directly.
func (r *ViewingRequestRepository) GetByCorrelationID(ctx context.Context, token string) (*model.ViewingRequest, error) {
	return r.get(ctx, `WHERE correlation_id = $1`, token)
}

func (r *ViewingRequestRepository) get(ctx context.Context, where string, arg any) (*model.ViewingRequest, error) {
	query := `SELECT id, correlation_id, status, payment_amount::text, payment_currency, transaction_id, created_at, updated_at
	          FROM viewing_request ` + where
	row := r.pool.QueryRow(ctx, query, arg)

	var (
		vr     model.ViewingRequest
		status string
		amount string
	)
	err := row.Scan(&vr.ID, &vr.CorrelationID, &status, &amount, &vr.PaymentCurrency,
		&vr.TransactionID, &vr.CreatedAt, &vr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning viewing request")
	}

	vr.Status = model.Status(status)
	vr.PaymentAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing payment amount")
	}
	return &vr, nil
}

// ApplyTransition performs the entire at-most-once status change in one
// transaction: lock the row, re-check the from-state under the lock, write
// the new status, append the history entry, record the delivery in the
// replay ledger and append the audit row. Concurrent deliveries for the same
// request serialize on the row lock; a concurrent retry of the same delivery
// loses on the ledger's primary key.
func (r *ViewingRequestRepository) ApplyTransition(ctx context.Context, t model.Transition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM viewing_request WHERE id = $1 FOR UPDATE`, t.RequestID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "locking viewing request")
	}

	if model.Status(current) != t.From {
		return ErrStatusConflict
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO processed_delivery (delivery_id, event_type) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		t.DeliveryID, t.EventType)
	if err != nil {
		return errors.Wrap(err, "recording delivery")
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateDelivery
	}

	_, err = tx.Exec(ctx,
		`UPDATE viewing_request
		 SET status = $2, transaction_id = COALESCE(NULLIF($3, ''), transaction_id), updated_at = now()
		 WHERE id = $1`,
		t.RequestID, string(t.To), t.TransactionID)
	if err != nil {
		return errors.Wrap(err, "updating status")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO viewing_request_status_history (viewing_request_id, status, caused_by_delivery_id)
		 VALUES ($1, $2, $3)`,
		t.RequestID, string(t.To), t.DeliveryID)
	if err != nil {
		return errors.Wrap(err, "appending status history")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_log (delivery_id, outcome, severity, detail) VALUES ($1, $2, $3, $4)`,
		t.DeliveryID, string(model.OutcomeApplied), string(model.SeverityInfo), t.Detail)
	if err != nil {
		return errors.Wrap(err, "appending audit entry")
	}

	return errors.Wrap(tx.Commit(ctx), "committing transition")
}

// GetStatusHistory returns the append-only history for a viewing request,
// oldest first.
func (r *ViewingRequestRepository) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]model.StatusChange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, caused_by_delivery_id, created_at
		 FROM viewing_request_status_history
		 WHERE viewing_request_id = $1
		 ORDER BY id`, id)
	if err != nil {
		return nil, errors.Wrap(err, "querying status history")
	}
	defer rows.Close()

	var history []model.StatusChange
	for rows.Next() {
		var (
			change model.StatusChange
			status string
		)
		if err := rows.Scan(&status, &change.CausedByDeliveryID, &change.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning status history")
		}
		change.Status = model.Status(status)
		history = append(history, change)
	}
	return history, rows.Err()
}
