package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payment-webhook-service/internal/db"
	"payment-webhook-service/internal/lifecycle"
	"payment-webhook-service/internal/model"
	"payment-webhook-service/internal/notification"
	"payment-webhook-service/internal/webhook"
)

// Store is the transactional persistence surface for viewing requests.
type Store interface {
	GetByCorrelationID(ctx context.Context, token string) (*model.ViewingRequest, error)
	ApplyTransition(ctx context.Context, t model.Transition) error
}

// Recorder appends audit rows for rejected deliveries. Applied transitions
// write their audit row inside the store transaction instead.
type Recorder interface {
	Record(ctx context.Context, deliveryID string, outcome model.Outcome, severity model.Severity, detail string)
}

// Notifier publishes a decoupled side effect after a committed transition.
type Notifier interface {
	Publish(ctx context.Context, msg notification.Message)
}

// Reconciler applies payment capture events to viewing requests at most
// once. It resolves the correlation token, cross-checks money, validates the
// transition against the persisted state and hands the write to the store's
// single transactional path.
type Reconciler struct {
	store    Store
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger
}

func New(store Store, recorder Recorder, notifier Notifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
	}
}

func (r *Reconciler) ApplyCompleted(ctx context.Context, deliveryID string, ev webhook.Event) (model.Outcome, error) {
	return r.apply(ctx, deliveryID, ev, lifecycle.CaptureCompleted)
}

func (r *Reconciler) ApplyDenied(ctx context.Context, deliveryID string, ev webhook.Event) (model.Outcome, error) {
	return r.apply(ctx, deliveryID, ev, lifecycle.CaptureDenied)
}

func (r *Reconciler) ApplyPending(ctx context.Context, deliveryID string, ev webhook.Event) (model.Outcome, error) {
	return r.apply(ctx, deliveryID, ev, lifecycle.CapturePending)
}

func (r *Reconciler) ApplyRefunded(ctx context.Context, deliveryID string, ev webhook.Event) (model.Outcome, error) {
	return r.apply(ctx, deliveryID, ev, lifecycle.Refund)
}

func (r *Reconciler) apply(ctx context.Context, deliveryID string, ev webhook.Event, cause lifecycle.Cause) (model.Outcome, error) {
	corr, err := webhook.ParseCorrelation(ev.Resource.CustomID)
	if err != nil {
		r.recorder.Record(ctx, deliveryID, model.OutcomeUnresolvedCorrelation, model.SeverityCritical,
			fmt.Sprintf("unparseable correlation token: %v", err))
		return model.OutcomeUnresolvedCorrelation, nil
	}

	// A webhook never creates entities; the correlation must pre-exist
	// from the payment-initiation step.
	vr, err := r.store.GetByCorrelationID(ctx, ev.Resource.CustomID)
	if errors.Is(err, db.ErrNotFound) {
		r.recorder.Record(ctx, deliveryID, model.OutcomeUnresolvedCorrelation, model.SeverityCritical,
			"no viewing request for correlation token")
		return model.OutcomeUnresolvedCorrelation, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "resolving correlation")
	}

	if corr.ViewingRequestID != vr.ID.String() {
		r.recorder.Record(ctx, deliveryID, model.OutcomeUnresolvedCorrelation, model.SeverityCritical,
			fmt.Sprintf("correlation token names %s but resolves to %s", corr.ViewingRequestID, vr.ID))
		return model.OutcomeUnresolvedCorrelation, nil
	}

	if outcome, ok := r.checkAmount(ctx, deliveryID, ev, vr); !ok {
		return outcome, nil
	}

	target, ok := lifecycle.Target(vr.Status, cause)
	if !ok {
		r.recorder.Record(ctx, deliveryID, model.OutcomeInvalidTransition, model.SeverityWarning,
			fmt.Sprintf("no transition from %s for %s", vr.Status, cause))
		return model.OutcomeInvalidTransition, nil
	}

	err = r.store.ApplyTransition(ctx, model.Transition{
		RequestID:     vr.ID,
		From:          vr.Status,
		To:            target,
		DeliveryID:    deliveryID,
		EventType:     ev.EventType,
		TransactionID: ev.Resource.ID,
		Detail:        fmt.Sprintf("%s -> %s", vr.Status, target),
	})
	switch {
	case errors.Is(err, db.ErrStatusConflict):
		// The persisted status moved between the read and the lock.
		r.recorder.Record(ctx, deliveryID, model.OutcomeInvalidTransition, model.SeverityWarning,
			fmt.Sprintf("status moved away from %s before %s applied", vr.Status, cause))
		return model.OutcomeInvalidTransition, nil
	case errors.Is(err, db.ErrDuplicateDelivery):
		r.recorder.Record(ctx, deliveryID, model.OutcomeDuplicate, model.SeverityInfo, "delivery raced its own retry")
		return model.OutcomeDuplicate, nil
	case err != nil:
		return "", errors.Wrap(err, "applying transition")
	}

	r.logger.InfoContext(ctx, "Applied payment event",
		"viewingRequestId", vr.ID.String(), "from", string(vr.Status), "to", string(target))

	r.notifier.Publish(ctx, notification.Message{
		ViewingRequestID: vr.ID,
		Status:           target,
		TransactionID:    ev.Resource.ID,
		OccurredAt:       time.Now(),
	})

	return model.OutcomeApplied, nil
}

// checkAmount cross-checks the event's money against what was recorded at
// initiation. A mismatch is a fraud or defect signal, not a transient
// failure; the transition is blocked and flagged for operators.
func (r *Reconciler) checkAmount(ctx context.Context, deliveryID string, ev webhook.Event, vr *model.ViewingRequest) (model.Outcome, bool) {
	amount, err := decimal.NewFromString(ev.Resource.Amount.Value)
	if err != nil {
		r.recorder.Record(ctx, deliveryID, model.OutcomeAmountMismatch, model.SeverityCritical,
			fmt.Sprintf("unparseable amount %q", ev.Resource.Amount.Value))
		return model.OutcomeAmountMismatch, false
	}

	if !amount.Equal(vr.PaymentAmount) || ev.Resource.Amount.CurrencyCode != vr.PaymentCurrency {
		r.recorder.Record(ctx, deliveryID, model.OutcomeAmountMismatch, model.SeverityCritical,
			fmt.Sprintf("event %s %s vs recorded %s %s",
				ev.Resource.Amount.Value, ev.Resource.Amount.CurrencyCode,
				vr.PaymentAmount, vr.PaymentCurrency))
		return model.OutcomeAmountMismatch, false
	}

	return "", true
}
