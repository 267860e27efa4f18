package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/jogardn/fromentine-orders/internal/config"
	"github.com/jogardn/fromentine-orders/internal/events"
	"github.com/jogardn/fromentine-orders/internal/httpjson"
	"github.com/jogardn/fromentine-orders/internal/metrics"
	"github.com/jogardn/fromentine-orders/internal/websocket"
)

const consumerGroup = "order-tracker-group"

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required for the tracker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub(logger)
	hub.SetConnectionHooks(metrics.TrackerConnectionOpened, metrics.TrackerConnectionClosed)
	go hub.Run(ctx)

	logger.WithField("brokers", cfg.KafkaBrokers).Info("Initializing Kafka consumer...")

	var consumer *events.ChangeConsumer
	var err error
	for i := 0; i < 10; i++ {
		consumer, err = events.NewChangeConsumer(cfg.KafkaBrokers, consumerGroup, cfg.ChangeTopic, hub, logger)
		if err == nil {
			logger.Info("Successfully connected to Kafka")
			break
		}

		logger.WithError(err).WithField("attempt", i+1).Warn("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer after retries")
	}
	defer consumer.Close()

	go func() {
		logger.WithField("topic", cfg.ChangeTopic).Info("Starting change feed consumer")
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/ws/orders/{id}", hub.HandleWebSocket)
	router.HandleFunc("/health", healthCheck(hub, consumer)).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:        ":" + cfg.TrackerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.TrackerPort).Info("Starting order tracker")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down tracker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Tracker gracefully stopped")
}

func healthCheck(hub *websocket.Hub, consumer *events.ChangeConsumer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "tracker",
			"clients":  hub.ClientCount(),
			"consumer": consumer.Metrics(),
		})
	}
}
