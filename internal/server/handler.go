package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"payment-webhook-service/internal/logcontext"
	"payment-webhook-service/internal/metrics"
	"payment-webhook-service/internal/model"
	"payment-webhook-service/internal/webhook"
)

const maxBodyBytes = 1 << 20

// Verifier authenticates a delivery before anything else runs.
type Verifier interface {
	Verify(ctx context.Context, header http.Header, rawBody []byte) (*webhook.VerifiedEvent, error)
}

// ReplayChecker answers whether a delivery id was already processed.
type ReplayChecker interface {
	IsProcessed(ctx context.Context, deliveryID string) (bool, error)
}

// Dispatcher routes a verified event to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, deliveryID string, ev webhook.Event) (model.Outcome, error)
}

// Recorder appends audit rows for deliveries settled before dispatch.
type Recorder interface {
	Record(ctx context.Context, deliveryID string, outcome model.Outcome, severity model.Severity, detail string)
}

type response struct {
	Success        bool   `json:"success"`
	EventType      string `json:"event_type,omitempty"`
	TransmissionID string `json:"transmission_id,omitempty"`
	Error          string `json:"error,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Handler is the inbound webhook endpoint. The provider calls it
// concurrently, including retries of the same delivery; everything here is
// request-scoped and returns synchronously.
type Handler struct {
	verifier   Verifier
	replay     ReplayChecker
	dispatcher Dispatcher
	recorder   Recorder
	logger     *slog.Logger
	sink       metrics.Sink
}

func New(verifier Verifier, replay ReplayChecker, dispatcher Dispatcher, recorder Recorder, logger *slog.Logger, sink metrics.Sink) *Handler {
	return &Handler{
		verifier:   verifier,
		replay:     replay,
		dispatcher: dispatcher,
		recorder:   recorder,
		logger:     logger,
		sink:       sink,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/payment", h.handle)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.sink.IncReceived()

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.ErrorContext(ctx, "Error reading request body", "error", err)
		h.writeJSON(ctx, w, http.StatusBadRequest, response{Success: false, Error: "Unreadable request body"})
		return
	}

	verified, err := h.verifier.Verify(ctx, r.Header, rawBody)
	if err != nil {
		h.rejectUnverified(ctx, w, err)
		return
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("deliveryId", verified.TransmissionID))

	var ev webhook.Event
	if err := json.Unmarshal(verified.RawBody, &ev); err != nil {
		h.logger.WarnContext(ctx, "Rejecting malformed webhook payload", "error", err)
		h.writeJSON(ctx, w, http.StatusBadRequest, response{Success: false, Error: "Malformed webhook payload"})
		return
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("eventType", ev.EventType))

	processed, err := h.replay.IsProcessed(ctx, verified.TransmissionID)
	if err != nil {
		h.retryable(ctx, w, verified, err)
		return
	}
	if processed {
		// Not an error: the provider retries on any non-2xx, so a
		// duplicate must be acknowledged as handled.
		h.recorder.Record(ctx, verified.TransmissionID, model.OutcomeDuplicate, model.SeverityInfo,
			"delivery already recorded in replay ledger")
		h.respondOutcome(ctx, w, verified, ev, model.OutcomeDuplicate, start)
		return
	}

	outcome, err := h.dispatcher.Dispatch(ctx, verified.TransmissionID, ev)
	if err != nil {
		h.retryable(ctx, w, verified, err)
		return
	}

	h.respondOutcome(ctx, w, verified, ev, outcome, start)
}

func (h *Handler) respondOutcome(ctx context.Context, w http.ResponseWriter, verified *webhook.VerifiedEvent, ev webhook.Event, outcome model.Outcome, start time.Time) {
	h.sink.IncOutcome(string(outcome))
	h.sink.ObserveProcessing(start)

	if outcome.Rejected() {
		// Acknowledged so the provider stops retrying a delivery that can
		// never succeed; surfaced to operators through the audit log.
		h.writeJSON(ctx, w, http.StatusOK, response{
			Success: false,
			Error:   string(outcome),
			Message: "Error logged for investigation",
		})
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, response{
		Success:        true,
		EventType:      ev.EventType,
		TransmissionID: verified.TransmissionID,
	})
}

func (h *Handler) rejectUnverified(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *webhook.VerificationError
	if !errors.As(err, &verr) {
		h.logger.ErrorContext(ctx, "Unexpected verification failure", "error", err)
		h.writeJSON(ctx, w, http.StatusBadRequest, response{Success: false, Error: "Webhook verification failed"})
		return
	}

	h.sink.IncVerificationFailure(string(verr.Reason))
	h.logger.WarnContext(ctx, "Rejecting unverified delivery", "reason", string(verr.Reason), "error", verr.Error())

	msg := "Webhook verification failed"
	if verr.Reason == webhook.ReasonMissingHeaders {
		msg = "Missing webhook verification headers"
	}
	h.writeJSON(ctx, w, http.StatusBadRequest, response{Success: false, Error: msg})
}

// retryable reports a genuine infrastructure failure. The replay ledger has
// not recorded the delivery yet, so the provider's retry is safe and wanted.
func (h *Handler) retryable(ctx context.Context, w http.ResponseWriter, verified *webhook.VerifiedEvent, err error) {
	h.logger.ErrorContext(ctx, "Processing failed, requesting provider retry",
		"deliveryId", verified.TransmissionID, "error", err)
	h.sink.IncOutcome("retryable_failure")
	h.writeJSON(ctx, w, http.StatusInternalServerError, response{
		Success: false,
		Error:   "Temporary processing failure",
	})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorContext(ctx, "Error writing response", "error", err)
	}
}
