package webhook

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// EventType is the closed set of provider event types the service knows
// about. Parsing happens once at the boundary; nothing downstream switches
// on raw strings.
type EventType string

const (
	EventCaptureCompleted      EventType = "PAYMENT_CAPTURE_COMPLETED"
	EventCaptureDenied         EventType = "PAYMENT_CAPTURE_DENIED"
	EventCapturePending        EventType = "PAYMENT_CAPTURE_PENDING"
	EventCaptureRefunded       EventType = "PAYMENT_CAPTURE_REFUNDED"
	EventCheckoutOrderApproved EventType = "CHECKOUT_ORDER_APPROVED"
	EventCheckoutOrderComplete EventType = "CHECKOUT_ORDER_COMPLETED"
)

// ParseEventType maps a wire event type onto the known set. Unknown types
// are not an error; the provider sends types this service intentionally
// does not act on.
func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventCaptureCompleted, EventCaptureDenied, EventCapturePending,
		EventCaptureRefunded, EventCheckoutOrderApproved, EventCheckoutOrderComplete:
		return EventType(s), true
	}
	return "", false
}

// Amount is the money block of a capture resource.
type Amount struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

// Resource is the payment resource embedded in a webhook event.
type Resource struct {
	ID       string `json:"id"`
	Amount   Amount `json:"amount"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`
}

// Event is the JSON body of one webhook delivery.
type Event struct {
	ID        string   `json:"id"`
	EventType string   `json:"event_type"`
	Resource  Resource `json:"resource"`
}

// Correlation is the typed form of the token embedded in the resource's
// custom_id at payment-initiation time. The wire format is a JSON string
// mandated by the provider integration; it is parsed here and never passed
// along raw.
type Correlation struct {
	ViewingRequestID string `json:"viewingRequestId"`
}

// ParseCorrelation decodes and validates a custom_id token.
func ParseCorrelation(customID string) (Correlation, error) {
	token := strings.TrimSpace(customID)
	if token == "" {
		return Correlation{}, errors.New("empty correlation token")
	}

	var corr Correlation
	if err := json.Unmarshal([]byte(token), &corr); err != nil {
		return Correlation{}, errors.Wrap(err, "malformed correlation token")
	}
	if strings.TrimSpace(corr.ViewingRequestID) == "" {
		return Correlation{}, errors.New("correlation token has no viewingRequestId")
	}
	return corr, nil
}
