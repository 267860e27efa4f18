package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/pkg/models"
)

const (
	MaxRetries        = 3
	InitialRetryDelay = 1 * time.Second
	MaxRetryDelay     = 30 * time.Second
)

type ChangeHandler interface {
	HandleChange(ctx context.Context, event models.ChangeEvent) error
}

// RetryClassifier can be implemented by a ChangeHandler to stop retries of
// errors that will never succeed. Without it every error is retried.
type RetryClassifier interface {
	IsRetryable(err error) bool
}

var errUndecodable = errors.New("undecodable change event")

type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

type ConsumerMetrics struct {
	processed atomic.Int64
	retries   atomic.Int64
	dlq       atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

type MetricsSnapshot struct {
	ProcessedCount int64 `json:"processed"`
	RetryCount     int64 `json:"retries"`
	DLQCount       int64 `json:"dlq"`
	SuccessCount   int64 `json:"succeeded"`
	FailureCount   int64 `json:"failed"`
}

func (m *ConsumerMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ProcessedCount: m.processed.Load(),
		RetryCount:     m.retries.Load(),
		DLQCount:       m.dlq.Load(),
		SuccessCount:   m.succeeded.Load(),
		FailureCount:   m.failed.Load(),
	}
}

// ChangeConsumer reads the change feed in a consumer group. Messages that
// still fail after retries are parked on the DLQ topic and committed.
type ChangeConsumer struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	processor     *messageProcessor
	logger        *logrus.Logger
	topics        []string
}

func NewChangeConsumer(brokers []string, groupID, topic string, handler ChangeHandler, logger *logrus.Logger) (*ChangeConsumer, error) {
	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producer, err := sarama.NewSyncProducer(brokers, newProducerConfig())
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &ChangeConsumer{
		consumerGroup: consumerGroup,
		producer:      producer,
		processor:     newMessageProcessor(handler, producer, DLQTopic(topic), logger),
		logger:        logger,
		topics:        []string{topic},
	}, nil
}

func (c *ChangeConsumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{processor: c.processor, logger: c.logger}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				c.logger.WithError(err).Error("Error consuming from Kafka")
				return err
			}
		}
	}
}

func (c *ChangeConsumer) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close producer")
	}
	return c.consumerGroup.Close()
}

func (c *ChangeConsumer) Metrics() MetricsSnapshot {
	return c.processor.metrics.Snapshot()
}

type consumerGroupHandler struct {
	processor *messageProcessor
	logger    *logrus.Logger
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if h.processor.process(session.Context(), message) {
				session.MarkMessage(message, "")
			}

		case <-session.Context().Done():
			h.logger.Info("Consumer group session context cancelled")
			return nil
		}
	}
}

type messageProcessor struct {
	handler    ChangeHandler
	producer   sarama.SyncProducer
	dlqTopic   string
	maxRetries int
	logger     *logrus.Logger
	metrics    *ConsumerMetrics
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

func newMessageProcessor(handler ChangeHandler, producer sarama.SyncProducer, dlqTopic string, logger *logrus.Logger) *messageProcessor {
	return &messageProcessor{
		handler:    handler,
		producer:   producer,
		dlqTopic:   dlqTopic,
		maxRetries: MaxRetries,
		logger:     logger,
		metrics:    &ConsumerMetrics{},
		sleep:      sleepContext,
		now:        time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process handles one message and reports whether its offset may be
// committed. A message interrupted by shutdown is left uncommitted so the
// next session sees it again.
func (p *messageProcessor) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	p.metrics.processed.Add(1)

	err := p.handleWithRetry(ctx, message)
	if err == nil {
		p.metrics.succeeded.Add(1)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	p.logger.WithError(err).Error("Failed to process message after retries")
	p.metrics.failed.Add(1)
	if dlqErr := p.sendToDLQ(message, err); dlqErr != nil {
		p.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
	} else {
		p.metrics.dlq.Add(1)
	}
	return true
}

func (p *messageProcessor) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	log := p.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	})
	log.Debug("Processing change event")

	var event models.ChangeEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", errUndecodable, err)
	}

	retryDelay := InitialRetryDelay
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   retryDelay,
			}).Info("Retrying change event")

			if err := p.sleep(ctx, retryDelay); err != nil {
				return err
			}
			p.metrics.retries.Add(1)

			retryDelay *= 2
			if retryDelay > MaxRetryDelay {
				retryDelay = MaxRetryDelay
			}
		}

		err := p.handler.HandleChange(ctx, event)
		if err == nil {
			return nil
		}
		if classifier, ok := p.handler.(RetryClassifier); ok && !classifier.IsRetryable(err) {
			log.WithError(err).Error("Non-retryable error encountered")
			return err
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("Retryable error processing change event")
	}

	return fmt.Errorf("exhausted retries for change event %s", event.ID)
}

func extractMetadata(message *sarama.ConsumerMessage) MessageMetadata {
	metadata := MessageMetadata{OriginalTopic: message.Topic}
	for _, header := range message.Headers {
		switch string(header.Key) {
		case "metadata":
			if err := json.Unmarshal(header.Value, &metadata); err != nil {
				metadata.ErrorMessage = "unreadable metadata header"
			}
		case "retry_count":
			if count, err := strconv.Atoi(string(header.Value)); err == nil {
				metadata.RetryCount = count
			}
		}
	}
	return metadata
}

func (p *messageProcessor) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	dlqMessage, err := buildDLQMessage(message, processingError, p.dlqTopic, p.now())
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"dlq_topic":     p.dlqTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")
	return nil
}

func buildDLQMessage(message *sarama.ConsumerMessage, processingError error, dlqTopic string, now time.Time) (*sarama.ProducerMessage, error) {
	previous := extractMetadata(message)
	metadata := MessageMetadata{
		RetryCount:    previous.RetryCount + 1,
		FirstFailure:  previous.FirstFailure,
		LastFailure:   now,
		OriginalTopic: message.Topic,
		ErrorMessage:  processingError.Error(),
	}
	if metadata.FirstFailure.IsZero() {
		metadata.FirstFailure = now
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: dlqTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
			{Key: []byte("failure_time"), Value: []byte(now.Format(time.RFC3339))},
		},
	}, nil
}
