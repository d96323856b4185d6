package audit

import (
	"context"
	"log/slog"

	"payment-webhook-service/internal/model"
)

// Log is the append-only audit store.
type Log interface {
	Insert(ctx context.Context, entry model.AuditEntry) error
}

// Recorder appends one audit row per handled delivery and mirrors it to the
// logger at a level matching the severity. An audit write failure is logged
// but never fails the request; the delivery was already acknowledged or
// applied and audit is an observability concern.
type Recorder struct {
	log    Log
	logger *slog.Logger
}

func NewRecorder(log Log, logger *slog.Logger) *Recorder {
	return &Recorder{log: log, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, deliveryID string, outcome model.Outcome, severity model.Severity, detail string) {
	entry := model.AuditEntry{
		DeliveryID: deliveryID,
		Outcome:    outcome,
		Severity:   severity,
		Detail:     detail,
	}

	level := slog.LevelInfo
	switch severity {
	case model.SeverityWarning:
		level = slog.LevelWarn
	case model.SeverityCritical:
		level = slog.LevelError
	}
	r.logger.Log(ctx, level, "Webhook delivery outcome",
		"deliveryId", deliveryID, "outcome", string(outcome), "detail", detail)

	if err := r.log.Insert(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "Error appending audit entry", "deliveryId", deliveryID, "error", err)
	}
}
