package metrics

import (
	"fmt"
	"log"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"payment-webhook-service/internal/config"
)

func Setup(cfg config.Metrics) {
	if cfg.URL == "" {
		return
	}

	err := metrics.InitPush(cfg.URL, time.Duration(cfg.IntervalMs)*time.Millisecond, cfg.CommonLabels, true)
	if err != nil {
		log.Printf("Error initializing metrics push: %v", err)
	}
}

// Sink is the instrumentation surface handed to each component. Components
// never touch process-wide counters directly.
type Sink interface {
	IncReceived()
	IncOutcome(outcome string)
	IncVerificationFailure(reason string)
	IncNotification(result string)
	ObserveProcessing(start time.Time)
}

type victoriaSink struct{}

// NewSink returns a Sink backed by VictoriaMetrics counters and histograms.
func NewSink() Sink {
	return &victoriaSink{}
}

func (s *victoriaSink) IncReceived() {
	metrics.GetOrCreateCounter(`payment_webhook_received_total`).Inc()
}

func (s *victoriaSink) IncOutcome(outcome string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`payment_webhook_total{result=%q}`, outcome)).Inc()
}

func (s *victoriaSink) IncVerificationFailure(reason string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`payment_webhook_verification_failures_total{reason=%q}`, reason)).Inc()
}

func (s *victoriaSink) IncNotification(result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`payment_webhook_notifications_total{result=%q}`, result)).Inc()
}

func (s *victoriaSink) ObserveProcessing(start time.Time) {
	metrics.GetOrCreateHistogram(`payment_webhook_duration_seconds`).UpdateDuration(start)
}

// Noop returns a Sink that discards everything. Used in tests.
func Noop() Sink {
	return noopSink{}
}

type noopSink struct{}

func (noopSink) IncReceived()                  {}
func (noopSink) IncOutcome(string)             {}
func (noopSink) IncVerificationFailure(string) {}
func (noopSink) IncNotification(string)        {}
func (noopSink) ObserveProcessing(time.Time)   {}
