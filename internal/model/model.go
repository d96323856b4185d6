package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a viewing request.
type Status string

const (
	StatusPendingPayment   Status = "PENDING_PAYMENT"
	StatusPaymentPending   Status = "PAYMENT_PENDING"
	StatusPaymentCompleted Status = "PAYMENT_COMPLETED"
	StatusPaymentDenied    Status = "PAYMENT_DENIED"
	StatusRefunded         Status = "REFUNDED"
	StatusCancelled        Status = "CANCELLED"
)

// Terminal reports whether no further transition is defined from s.
func (s Status) Terminal() bool {
	return s == StatusRefunded || s == StatusCancelled
}

// ViewingRequest is the booking entity driven by payment events. It is
// created at payment initiation and mutated only through transactional
// status transitions.
type ViewingRequest struct {
	ID              uuid.UUID
	CorrelationID   string
	Status          Status
	PaymentAmount   decimal.Decimal
	PaymentCurrency string
	TransactionID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusChange is one append-only entry of a viewing request's history.
type StatusChange struct {
	Status             Status
	CausedByDeliveryID string
	CreatedAt          time.Time
}

// Outcome classifies how a verified delivery was handled.
type Outcome string

const (
	OutcomeApplied               Outcome = "APPLIED"
	OutcomeDuplicate             Outcome = "DUPLICATE"
	OutcomeIgnored               Outcome = "IGNORED"
	OutcomeUnknownEvent          Outcome = "UNKNOWN_EVENT"
	OutcomeUnresolvedCorrelation Outcome = "UNRESOLVED_CORRELATION"
	OutcomeInvalidTransition     Outcome = "INVALID_TRANSITION"
	OutcomeAmountMismatch        Outcome = "AMOUNT_MISMATCH"
)

// Rejected reports whether the outcome is acknowledged to the provider but
// flagged for investigation instead of applied.
func (o Outcome) Rejected() bool {
	switch o {
	case OutcomeUnresolvedCorrelation, OutcomeInvalidTransition, OutcomeAmountMismatch:
		return true
	}
	return false
}

// Severity grades audit entries for operator triage.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// AuditEntry is one append-only row per processed or rejected delivery.
type AuditEntry struct {
	DeliveryID string
	Outcome    Outcome
	Severity   Severity
	Detail     string
	CreatedAt  time.Time
}

// Transition is a validated status change applied in a single storage
// transaction, keyed by the delivery that caused it.
type Transition struct {
	RequestID     uuid.UUID
	From          Status
	To            Status
	DeliveryID    string
	EventType     string
	TransactionID string
	Detail        string
}
