package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"payment-webhook-service/internal/config"
	"payment-webhook-service/internal/metrics"
	"payment-webhook-service/internal/model"
)

const (
	defaultBatchSize      = 100
	defaultBatchTimeoutMs = 100
)

// Message tells the mailer which viewing request changed and to what. The
// booking UI and mail templates decide what the customer sees.
type Message struct {
	ViewingRequestID uuid.UUID    `json:"viewingRequestId"`
	Status           model.Status `json:"status"`
	TransactionID    string       `json:"transactionId"`
	OccurredAt       time.Time    `json:"occurredAt"`
}

func NewWriter(broker config.KafkaBroker, topic string, cfg config.KafkaWriter) *kafka.Writer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	batchTimeout := cfg.BatchTimeoutMs
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeoutMs
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(broker.URL),
		Topic:                  topic,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              batchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(batchTimeout) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer publishes notification messages after a committed transition.
// Publishing is fire-and-forget: a failure is logged and counted but never
// rolls back the state change that triggered it.
type Producer struct {
	writer Writer
	logger *slog.Logger
	sink   metrics.Sink
}

func NewProducer(writer Writer, logger *slog.Logger, sink metrics.Sink) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		sink:   sink,
	}
}

func (p *Producer) Publish(ctx context.Context, msg Message) {
	value, err := json.Marshal(msg)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error marshalling notification", "error", err)
		p.sink.IncNotification("marshal_failed")
		return
	}

	// Keyed by request id so notifications for one booking stay in order.
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ViewingRequestID.String()),
		Value: value,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Error publishing notification", "viewingRequestId", msg.ViewingRequestID.String(), "error", err)
		p.sink.IncNotification("publish_failed")
		return
	}

	p.sink.IncNotification("published")
}
