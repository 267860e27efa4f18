package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/config"
	"github.com/jogardn/fromentine-orders/internal/events"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	replay, _ := strconv.ParseBool(os.Getenv("DLQ_REPLAY"))
	replayDelay, err := time.ParseDuration(getEnv("DLQ_REPLAY_DELAY", "30s"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid DLQ_REPLAY_DELAY")
	}

	processor, err := events.NewDLQProcessor(cfg.KafkaBrokers, cfg.ChangeTopic, events.DLQOptions{
		GroupID:     "dlq-monitor-group",
		Replay:      replay,
		ReplayDelay: replayDelay,
		OnRecord:    printRecord,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ consumer")
	}
	defer processor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := processor.Run(ctx); err != nil {
			logger.WithError(err).Error("Error consuming from DLQ")
		}
	}()

	logger.WithFields(logrus.Fields{
		"dlq_topic": events.DLQTopic(cfg.ChangeTopic),
		"replay":    replay,
	}).Info("DLQ Monitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down DLQ monitor...")
}

func printRecord(record events.DLQRecord) {
	fmt.Printf("\n=== DLQ Message ===\n")
	fmt.Printf("Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Key: %s\n", record.Key)
	if record.Event != nil {
		fmt.Printf("Change: %s %s\n", record.Event.Table, record.Event.Kind)
		if record.Event.Order != nil {
			fmt.Printf("Order Status: %s\n", record.Event.Order.Status)
		}
	} else {
		fmt.Printf("Change: <undecodable payload>\n")
	}
	fmt.Printf("Failed At: %s\n", record.FailureTime)
	fmt.Printf("Error: %s\n", record.Metadata.ErrorMessage)
	fmt.Printf("Retry Count: %d\n", record.Metadata.RetryCount)
	fmt.Printf("==================\n\n")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
