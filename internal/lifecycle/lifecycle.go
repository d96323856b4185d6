package lifecycle

import "payment-webhook-service/internal/model"

// Cause is a lifecycle-driving event kind, decoupled from provider event
// type strings.
type Cause string

const (
	CaptureCompleted Cause = "CAPTURE_COMPLETED"
	CaptureDenied    Cause = "CAPTURE_DENIED"
	CapturePending   Cause = "CAPTURE_PENDING"
	Refund           Cause = "REFUND"
	Cancel           Cause = "CANCEL"
)

// transitions is the only source of legal status changes. A transition whose
// from-state does not match the persisted status is rejected, never forced;
// that is what makes out-of-order delivery safe.
var transitions = map[model.Status]map[Cause]model.Status{
	model.StatusPendingPayment: {
		CaptureCompleted: model.StatusPaymentCompleted,
		CaptureDenied:    model.StatusPaymentDenied,
		CapturePending:   model.StatusPaymentPending,
	},
	model.StatusPaymentPending: {
		CaptureCompleted: model.StatusPaymentCompleted,
		CaptureDenied:    model.StatusPaymentDenied,
	},
	model.StatusPaymentCompleted: {
		Refund: model.StatusRefunded,
	},
}

// Target returns the status reached by applying cause to from, and whether
// the transition is legal.
func Target(from model.Status, cause Cause) (model.Status, bool) {
	if cause == Cancel {
		if from.Terminal() {
			return "", false
		}
		return model.StatusCancelled, true
	}

	to, ok := transitions[from][cause]
	return to, ok
}

// Allowed reports whether a direct from→to change exists for any cause.
func Allowed(from, to model.Status) bool {
	if to == model.StatusCancelled {
		return !from.Terminal()
	}
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
