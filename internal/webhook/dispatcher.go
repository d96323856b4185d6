package webhook

import (
	"context"
	"log/slog"

	"payment-webhook-service/internal/model"
)

// CaptureApplier applies a capture event to the viewing request it
// correlates with. Implemented by the payment reconciler.
type CaptureApplier interface {
	ApplyCompleted(ctx context.Context, deliveryID string, ev Event) (model.Outcome, error)
	ApplyDenied(ctx context.Context, deliveryID string, ev Event) (model.Outcome, error)
	ApplyPending(ctx context.Context, deliveryID string, ev Event) (model.Outcome, error)
	ApplyRefunded(ctx context.Context, deliveryID string, ev Event) (model.Outcome, error)
}

// AuditRecorder appends one audit row per handled delivery.
type AuditRecorder interface {
	Record(ctx context.Context, deliveryID string, outcome model.Outcome, severity model.Severity, detail string)
}

// Dispatcher routes a verified event to its handler. Unknown event types are
// acknowledged and logged, never rejected; a rejection would make the
// provider retry forever for types this service does not act on.
type Dispatcher struct {
	applier  CaptureApplier
	recorder AuditRecorder
	logger   *slog.Logger
}

func NewDispatcher(applier CaptureApplier, recorder AuditRecorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		applier:  applier,
		recorder: recorder,
		logger:   logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, deliveryID string, ev Event) (model.Outcome, error) {
	eventType, known := ParseEventType(ev.EventType)
	if !known {
		d.logger.InfoContext(ctx, "Acknowledging unknown event type", "eventType", ev.EventType)
		d.recorder.Record(ctx, deliveryID, model.OutcomeUnknownEvent, model.SeverityInfo, "event type "+ev.EventType)
		return model.OutcomeUnknownEvent, nil
	}

	switch eventType {
	case EventCaptureCompleted:
		return d.applier.ApplyCompleted(ctx, deliveryID, ev)
	case EventCaptureDenied:
		return d.applier.ApplyDenied(ctx, deliveryID, ev)
	case EventCapturePending:
		return d.applier.ApplyPending(ctx, deliveryID, ev)
	case EventCaptureRefunded:
		return d.applier.ApplyRefunded(ctx, deliveryID, ev)
	case EventCheckoutOrderApproved, EventCheckoutOrderComplete:
		d.logger.InfoContext(ctx, "Event type requires no action", "eventType", ev.EventType)
		d.recorder.Record(ctx, deliveryID, model.OutcomeIgnored, model.SeverityInfo, "event type "+ev.EventType)
		return model.OutcomeIgnored, nil
	}

	// Unreachable as long as ParseEventType and this switch stay in sync.
	d.logger.ErrorContext(ctx, "Event type parsed but not routed", "eventType", ev.EventType)
	return model.OutcomeUnknownEvent, nil
}
