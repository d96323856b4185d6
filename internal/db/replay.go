package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// ReplayLedger is the persisted set of already-processed delivery ids.
// Entries are written inside the transition transaction, never on receipt,
// so a crash mid-processing leaves the delivery retryable.
type ReplayLedger struct {
	pool *pgxpool.Pool
}

func NewReplayLedger(pool *pgxpool.Pool) *ReplayLedger {
	return &ReplayLedger{pool: pool}
}

func (l *ReplayLedger) IsProcessed(ctx context.Context, deliveryID string) (bool, error) {
	var processed bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_delivery WHERE delivery_id = $1)`, deliveryID).Scan(&processed)
	if err != nil {
		return false, errors.Wrap(err, "checking replay ledger")
	}
	return processed, nil
}
