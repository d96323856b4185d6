package reconcile

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-webhook-service/internal/db"
	"payment-webhook-service/internal/model"
	"payment-webhook-service/internal/notification"
	"payment-webhook-service/internal/webhook"
)

type fakeStore struct {
	requests    map[string]*model.ViewingRequest
	applyErr    error
	getErr      error
	transitions []model.Transition
}

func (f *fakeStore) GetByCorrelationID(ctx context.Context, token string) (*model.ViewingRequest, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	vr, ok := f.requests[token]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *vr
	return &copied, nil
}

func (f *fakeStore) ApplyTransition(ctx context.Context, t model.Transition) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.transitions = append(f.transitions, t)
	return nil
}

type auditCall struct {
	deliveryID string
	outcome    model.Outcome
	severity   model.Severity
}

type fakeRecorder struct {
	calls []auditCall
}

func (f *fakeRecorder) Record(ctx context.Context, deliveryID string, outcome model.Outcome, severity model.Severity, detail string) {
	f.calls = append(f.calls, auditCall{deliveryID, outcome, severity})
}

type fakeNotifier struct {
	published []notification.Message
}

func (f *fakeNotifier) Publish(ctx context.Context, msg notification.Message) {
	f.published = append(f.published, msg)
}

func fixture(status model.Status) (*fakeStore, *model.ViewingRequest, string) {
	id := uuid.MustParse("7b0d1f66-1be3-4f0a-9a62-0e2fa3a1d7c4")
	token := `{"viewingRequestId": "` + id.String() + `"}`
	vr := &model.ViewingRequest{
		ID:              id,
		CorrelationID:   token,
		Status:          status,
		PaymentAmount:   decimal.RequireFromString("25.00"),
		PaymentCurrency: "EUR",
	}
	store := &fakeStore{requests: map[string]*model.ViewingRequest{token: vr}}
	return store, vr, token
}

func event(token, value, currency string) webhook.Event {
	return webhook.Event{
		ID:        "WH-EVT-1",
		EventType: "PAYMENT_CAPTURE_COMPLETED",
		Resource: webhook.Resource{
			ID:       "TX-42",
			Amount:   webhook.Amount{Value: value, CurrencyCode: currency},
			Status:   "COMPLETED",
			CustomID: token,
		},
	}
}

func newReconciler(store *fakeStore) (*Reconciler, *fakeRecorder, *fakeNotifier) {
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	return New(store, recorder, notifier, slog.Default()), recorder, notifier
}

func TestApplyCompleted(t *testing.T) {
	store, vr, token := fixture(model.StatusPendingPayment)
	sut, recorder, notifier := newReconciler(store)

	outcome, err := sut.ApplyCompleted(context.Background(), "TRX-1", event(token, "25.00", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, outcome)

	require.Len(t, store.transitions, 1)
	applied := store.transitions[0]
	assert.Equal(t, vr.ID, applied.RequestID)
	assert.Equal(t, model.StatusPendingPayment, applied.From)
	assert.Equal(t, model.StatusPaymentCompleted, applied.To)
	assert.Equal(t, "TRX-1", applied.DeliveryID)
	assert.Equal(t, "TX-42", applied.TransactionID)

	// The applied audit row is written inside the store transaction.
	assert.Empty(t, recorder.calls)

	require.Len(t, notifier.published, 1)
	assert.Equal(t, vr.ID, notifier.published[0].ViewingRequestID)
	assert.Equal(t, model.StatusPaymentCompleted, notifier.published[0].Status)
}

func TestApplyRefundedAfterCompleted(t *testing.T) {
	store, _, token := fixture(model.StatusPaymentCompleted)
	sut, _, notifier := newReconciler(store)

	outcome, err := sut.ApplyRefunded(context.Background(), "TRX-2", event(token, "25.00", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, outcome)

	require.Len(t, store.transitions, 1)
	assert.Equal(t, model.StatusRefunded, store.transitions[0].To)
	assert.Len(t, notifier.published, 1)
}

func TestOutOfOrderDeniedAfterCompleted(t *testing.T) {
	store, _, token := fixture(model.StatusPaymentCompleted)
	sut, recorder, notifier := newReconciler(store)

	outcome, err := sut.ApplyDenied(context.Background(), "TRX-3", event(token, "25.00", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInvalidTransition, outcome)

	assert.Empty(t, store.transitions)
	assert.Empty(t, notifier.published)
	require.Len(t, recorder.calls, 1)
	assert.Equal(t, model.OutcomeInvalidTransition, recorder.calls[0].outcome)
	assert.Equal(t, model.SeverityWarning, recorder.calls[0].severity)
}

func TestUnresolvedCorrelation(t *testing.T) {
	store, _, _ := fixture(model.StatusPendingPayment)
	sut, recorder, notifier := newReconciler(store)

	outcome, err := sut.ApplyCompleted(context.Background(), "TRX-4",
		event(`{"viewingRequestId": "b2a3e7c8-0000-0000-0000-000000000000"}`, "25.00", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUnresolvedCorrelation, outcome)

	assert.Empty(t, store.transitions)
	assert.Empty(t, notifier.published)
	require.Len(t, recorder.calls, 1)
	assert.Equal(t, model.SeverityCritical, recorder.calls[0].severity)
}

func TestMalformedCorrelationToken(t *testing.T) {
	store, _, _ := fixture(model.StatusPendingPayment)
	sut, recorder, _ := newReconciler(store)

	outcome, err := sut.ApplyCompleted(context.Background(), "TRX-5", event("not-a-token", "25.00", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUnresolvedCorrelation, outcome)
	assert.Empty(t, store.transitions)
	require.Len(t, recorder.calls, 1)
}

func TestCorrelationNamesDifferentRequest(t *testing.T) {
	store, vr, _ := fixture(model.StatusPendingPayment)

	// The stored token resolves, but the id inside names another entity.
	forged := `{"viewingRequestId": "11111111-2222-3333-4444-555555555555"}`
	store.requests[forged] = vr

	sut, recorder, _ := newReconciler(store)

	outcome, err := sut.ApplyCompleted(context.Background(), "TRX-6", event(forged, "25.00", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUnresolvedCorrelation, outcome)
	assert.Empty(t, store.transitions)
	require.Len(t, recorder.calls, 1)
	assert.Equal(t, model.SeverityCritical, recorder.calls[0].severity)
}

func TestAmountMismatch(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		currency string
	}{
		{"different amount", "30.00", "EUR"},
		{"different currency", "25.00", "USD"},
		{"unparseable amount", "twenty-five", "EUR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _, token := fixture(model.StatusPendingPayment)
			sut, recorder, notifier := newReconciler(store)

			outcome, err := sut.ApplyCompleted(context.Background(), "TRX-7", event(token, tt.value, tt.currency))
			require.NoError(t, err)
			assert.Equal(t, model.OutcomeAmountMismatch, outcome)

			assert.Empty(t, store.transitions)
			assert.Empty(t, notifier.published)
			require.Len(t, recorder.calls, 1)
			assert.Equal(t, model.SeverityCritical, recorder.calls[0].severity)
		})
	}
}

func TestAmountEqualDifferentScale(t *testing.T) {
	store, _, token := fixture(model.StatusPendingPayment)
	sut, _, _ := newReconciler(store)

	outcome, err := sut.ApplyCompleted(context.Background(), "TRX-8", event(token, "25.0", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, outcome)
}

func TestDuplicateRace(t *testing.T) {
	store, _, token := fixture(model.StatusPendingPayment)
	store.applyErr = db.ErrDuplicateDelivery
	sut, recorder, notifier := newReconciler(store)

	outcome, err := sut.ApplyCompleted(context.Background(), "TRX-9", event(token, "25.00", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDuplicate, outcome)
	assert.Empty(t, notifier.published)
	require.Len(t, recorder.calls, 1)
	assert.Equal(t, model.OutcomeDuplicate, recorder.calls[0].outcome)
}

func TestConcurrentStatusConflict(t *testing.T) {
	store, _, token := fixture(model.StatusPendingPayment)
	store.applyErr = db.ErrStatusConflict
	sut, recorder, notifier := newReconciler(store)

	outcome, err := sut.ApplyCompleted(context.Background(), "TRX-10", event(token, "25.00", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInvalidTransition, outcome)
	assert.Empty(t, notifier.published)
	require.Len(t, recorder.calls, 1)
}

func TestStorageFailurePropagates(t *testing.T) {
	store, _, token := fixture(model.StatusPendingPayment)
	store.applyErr = errors.New("connection reset")
	sut, recorder, notifier := newReconciler(store)

	_, err := sut.ApplyCompleted(context.Background(), "TRX-11", event(token, "25.00", "EUR"))
	require.Error(t, err)
	assert.Empty(t, notifier.published)
	assert.Empty(t, recorder.calls)
}

func TestLookupFailurePropagates(t *testing.T) {
	store, _, token := fixture(model.StatusPendingPayment)
	store.getErr = errors.New("connection reset")
	sut, recorder, _ := newReconciler(store)

	_, err := sut.ApplyCompleted(context.Background(), "TRX-12", event(token, "25.00", "EUR"))
	require.Error(t, err)
	assert.Empty(t, recorder.calls)
}
