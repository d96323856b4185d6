package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"payment-webhook-service/internal/audit"
	"payment-webhook-service/internal/config"
	"payment-webhook-service/internal/db"
	"payment-webhook-service/internal/logging"
	"payment-webhook-service/internal/metrics"
	"payment-webhook-service/internal/notification"
	"payment-webhook-service/internal/reconcile"
	"payment-webhook-service/internal/server"
	"payment-webhook-service/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "."
	}
	cfg := config.MustLoadConfig(configPath)

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)
	sink := metrics.NewSink()

	connStr := db.GetConnStr(cfg.Database)
	if err := db.RunMigrations(connStr, "migrations"); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	repo := db.NewViewingRequestRepository(pool)
	ledger := db.NewReplayLedger(pool)
	auditLog := db.NewAuditLog(pool)

	certs := webhook.NewHTTPCertSource(cfg.Webhook.CertBaseURL,
		time.Duration(cfg.Webhook.CertTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Webhook.CertCacheTTLMs)*time.Millisecond)
	verifier := webhook.NewVerifier(cfg.Webhook.ID,
		time.Duration(cfg.Webhook.ClockSkewMs)*time.Millisecond, certs)

	writer := notification.NewWriter(cfg.Kafka.Broker, cfg.Kafka.Topic.Notifications, cfg.Kafka.Writer)
	defer writer.Close()
	notifier := notification.NewProducer(writer, logger, sink)

	recorder := audit.NewRecorder(auditLog, logger)
	reconciler := reconcile.New(repo, recorder, notifier, logger)
	dispatcher := webhook.NewDispatcher(reconciler, recorder, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server.New(verifier, ledger, dispatcher, recorder, logger, sink).Register(mux)

	logger.Info("Starting payment webhook service", "port", cfg.Server.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Server.Port, mux))
}
