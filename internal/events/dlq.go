package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/pkg/models"
)

// MaxReplays caps how often one message may cycle through the DLQ.
const MaxReplays = MaxRetries * 2

var ErrReplayLimit = errors.New("exceeded maximum replay attempts")

// DLQRecord is what the monitor reports for one parked message.
type DLQRecord struct {
	Key         string
	Partition   int32
	Offset      int64
	Metadata    MessageMetadata
	FailureTime string
	Event       *models.ChangeEvent
}

func DescribeDLQMessage(message *sarama.ConsumerMessage) DLQRecord {
	record := DLQRecord{
		Key:       string(message.Key),
		Partition: message.Partition,
		Offset:    message.Offset,
		Metadata:  extractMetadata(message),
	}
	for _, header := range message.Headers {
		if string(header.Key) == "failure_time" {
			record.FailureTime = string(header.Value)
		}
	}

	var event models.ChangeEvent
	if err := json.Unmarshal(message.Value, &event); err == nil {
		record.Event = &event
	}
	return record
}

type DLQOptions struct {
	GroupID string
	// Replay sends parked messages back to the change topic after
	// ReplayDelay. Without it the processor only reports.
	Replay      bool
	ReplayDelay time.Duration
	OnRecord    func(DLQRecord)
}

type DLQProcessor struct {
	consumer    sarama.ConsumerGroup
	producer    sarama.SyncProducer
	dlqTopic    string
	replayTopic string
	opts        DLQOptions
	logger      *logrus.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

func NewDLQProcessor(brokers []string, topic string, opts DLQOptions, logger *logrus.Logger) (*DLQProcessor, error) {
	if opts.GroupID == "" {
		opts.GroupID = "dlq-monitor-group"
	}

	consumer, err := sarama.NewConsumerGroup(brokers, opts.GroupID, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	var producer sarama.SyncProducer
	if opts.Replay {
		producer, err = sarama.NewSyncProducer(brokers, newProducerConfig())
		if err != nil {
			consumer.Close()
			return nil, fmt.Errorf("failed to create producer: %w", err)
		}
	}

	return newDLQProcessor(consumer, producer, topic, opts, logger), nil
}

func newDLQProcessor(consumer sarama.ConsumerGroup, producer sarama.SyncProducer, topic string, opts DLQOptions, logger *logrus.Logger) *DLQProcessor {
	return &DLQProcessor{
		consumer:    consumer,
		producer:    producer,
		dlqTopic:    DLQTopic(topic),
		replayTopic: topic,
		opts:        opts,
		logger:      logger,
		sleep:       sleepContext,
		now:         time.Now,
	}
}

func (p *DLQProcessor) Run(ctx context.Context) error {
	handler := &dlqConsumerHandler{processor: p, logger: p.logger}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("DLQ processor context cancelled")
			return nil
		default:
			if err := p.consumer.Consume(ctx, []string{p.dlqTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				p.logger.WithError(err).Error("Error consuming from DLQ")
				return err
			}
		}
	}
}

// handle reports one DLQ message and replays it when enabled. It returns
// false if shutdown interrupted the replay delay.
func (p *DLQProcessor) handle(ctx context.Context, message *sarama.ConsumerMessage) bool {
	record := DescribeDLQMessage(message)

	log := p.logger.WithFields(logrus.Fields{
		"key":            record.Key,
		"original_topic": record.Metadata.OriginalTopic,
		"retry_count":    record.Metadata.RetryCount,
		"first_failure":  record.Metadata.FirstFailure,
		"last_failure":   record.Metadata.LastFailure,
		"error_message":  record.Metadata.ErrorMessage,
	})
	if record.Event != nil {
		log = log.WithFields(logrus.Fields{
			"table":      record.Event.Table,
			"event_kind": record.Event.Kind,
		})
	}
	log.Warn("DLQ message detected")

	if p.opts.OnRecord != nil {
		p.opts.OnRecord(record)
	}
	if !p.opts.Replay || p.producer == nil {
		return true
	}

	if err := p.sleep(ctx, p.opts.ReplayDelay); err != nil {
		return false
	}
	if err := p.ReplayMessage(message); err != nil {
		log.WithError(err).Error("Failed to replay DLQ message")
	}
	return true
}

func (p *DLQProcessor) ReplayMessage(message *sarama.ConsumerMessage) error {
	replay, err := buildReplayMessage(message, p.replayTopic, p.now())
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(replay)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"replay_topic":     p.replayTopic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"key":              string(message.Key),
	}).Info("Message replayed from DLQ")
	return nil
}

// buildReplayMessage carries the failure history forward so a message that
// keeps failing eventually stays parked.
func buildReplayMessage(message *sarama.ConsumerMessage, replayTopic string, now time.Time) (*sarama.ProducerMessage, error) {
	metadata := extractMetadata(message)
	if metadata.RetryCount >= MaxReplays {
		return nil, fmt.Errorf("%w: %d", ErrReplayLimit, metadata.RetryCount)
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: replayTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("retry_count"), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
			{Key: []byte("replay_time"), Value: []byte(now.Format(time.RFC3339))},
		},
	}, nil
}

func (p *DLQProcessor) Close() error {
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.WithError(err).Error("Failed to close producer")
		}
	}
	return p.consumer.Close()
}

type dlqConsumerHandler struct {
	processor *DLQProcessor
	logger    *logrus.Logger
}

func (h *dlqConsumerHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("DLQ consumer session setup")
	return nil
}

func (h *dlqConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("DLQ consumer session cleanup")
	return nil
}

func (h *dlqConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if h.processor.handle(session.Context(), message) {
				session.MarkMessage(message, "")
			}

		case <-session.Context().Done():
			return nil
		}
	}
}
