// Package messaging moves user interaction events over Kafka. Interactions
// recorded at the gateway are published here, and the consumer feeds them into
// the interaction store so the recommender snapshot can pick them up.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/pkg/models"
)

const (
	InteractionsDLQSuffix = "-dlq"
	ConsumerGroup         = "podsage-recommender"
)

// InteractionMessage is the wire envelope for one user interaction event.
type InteractionMessage struct {
	EventID     uuid.UUID              `json:"event_id"`
	Interaction models.UserInteraction `json:"interaction"`
	Timestamp   time.Time              `json:"timestamp"`
	RetryCount  int                    `json:"retry_count"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
	Stats() kafka.ReaderStats
}

// Bus owns the interaction topic: one writer for the gateway, one consumer
// group reader for the recommender side, and a DLQ writer for events that
// keep failing.
type Bus struct {
	writer    messageWriter
	reader    messageReader
	dlqWriter messageWriter
	topic     string
	logger    *logrus.Logger
}

func NewBus(cfg *config.Config, logger *logrus.Logger) (*Bus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka requires at least one broker", models.ErrConfig)
	}
	topic := cfg.Kafka.Topics.UserInteractions

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // Key by user so one user's events stay ordered
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        ConsumerGroup,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        topic + InteractionsDLQSuffix,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Bus{
		writer:    writer,
		reader:    reader,
		dlqWriter: dlqWriter,
		topic:     topic,
		logger:    logger,
	}, nil
}

// PublishInteraction puts one interaction event on the topic, keyed by user.
func (b *Bus) PublishInteraction(ctx context.Context, interaction models.UserInteraction) error {
	message := InteractionMessage{
		EventID:     uuid.New(),
		Interaction: interaction,
		Timestamp:   time.Now(),
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(interaction.UserID),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(message.EventID.String())},
			{Key: "action", Value: []byte(interaction.Action)},
			{Key: "timestamp", Value: []byte(message.Timestamp.Format(time.RFC3339))},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.writer.WriteMessages(writeCtx, kafkaMessage); err != nil {
		b.logger.WithError(err).WithField("event_id", message.EventID).Error("Failed to publish interaction to Kafka")
		return fmt.Errorf("failed to write interaction to Kafka: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"event_id": message.EventID,
		"user_id":  interaction.UserID,
		"action":   interaction.Action,
		"topic":    b.topic,
	}).Debug("Interaction published to Kafka")

	return nil
}

// Consume reads interaction events until the context is cancelled. Handler
// failures are retried with backoff; events that still fail go to the DLQ.
func (b *Bus) Consume(ctx context.Context, handler func(InteractionMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := b.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.logger.WithError(err).Error("Failed to read interaction from Kafka")
				continue
			}

			var event InteractionMessage
			if err := json.Unmarshal(message.Value, &event); err != nil {
				b.logger.WithError(err).Error("Failed to unmarshal interaction message")
				continue
			}
			if !models.ValidAction(string(event.Interaction.Action)) {
				b.logger.WithField("action", event.Interaction.Action).Warn("Dropping interaction with unknown action")
				continue
			}

			if err := b.processWithRetry(ctx, event, handler); err != nil {
				b.logger.WithError(err).WithField("event_id", event.EventID).Error("Failed to process interaction after retries")
				if dlqErr := b.sendToDLQ(ctx, event, err); dlqErr != nil {
					b.logger.WithError(dlqErr).Error("Failed to send interaction to DLQ")
				}
			}
		}
	}
}

func (b *Bus) processWithRetry(ctx context.Context, event InteractionMessage, handler func(InteractionMessage) error) error {
	maxRetries := 3
	baseDelay := time.Second

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		event.RetryCount = attempt
		if err := handler(event); err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{
				"event_id": event.EventID,
				"attempt":  attempt,
			}).Warn("Interaction processing failed")

			if attempt == maxRetries {
				return fmt.Errorf("max retries exceeded: %w", err)
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (b *Bus) sendToDLQ(ctx context.Context, event InteractionMessage, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": event,
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(event.EventID.String()),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "original_topic", Value: []byte(b.topic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := b.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"error":    originalError.Error(),
	}).Warn("Interaction sent to DLQ")

	return nil
}

func (b *Bus) Close() error {
	var errs []error

	if err := b.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := b.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := b.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing message bus: %v", errs)
	}
	return nil
}

// Stats exposes consumer lag for the health endpoint.
func (b *Bus) Stats() map[string]interface{} {
	stats := b.reader.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}

// Recorder persists interaction events; the episode store satisfies it.
type Recorder interface {
	RecordInteraction(ctx context.Context, in models.UserInteraction) error
}

// Refresher rebuilds the recommender snapshot; the CF engine satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// InteractionHandler records each event and refreshes the recommender
// snapshot at most once per interval. Consumed events still land in the
// snapshot no later than the next refresh tick.
type InteractionHandler struct {
	recorder  Recorder
	refresher Refresher
	interval  time.Duration
	logger    *logrus.Logger

	mu          sync.Mutex
	lastRefresh time.Time
}

func NewInteractionHandler(recorder Recorder, refresher Refresher, interval time.Duration, logger *logrus.Logger) *InteractionHandler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &InteractionHandler{
		recorder:  recorder,
		refresher: refresher,
		interval:  interval,
		logger:    logger,
	}
}

func (h *InteractionHandler) Handle(event InteractionMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.recorder.RecordInteraction(ctx, event.Interaction); err != nil {
		return err
	}

	if h.shouldRefresh() {
		if err := h.refresher.Refresh(ctx); err != nil {
			// The write succeeded; a failed refresh waits for the next tick.
			h.logger.WithError(err).Warn("Recommender refresh failed")
		}
	}
	return nil
}

func (h *InteractionHandler) shouldRefresh() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if time.Since(h.lastRefresh) < h.interval {
		return false
	}
	h.lastRefresh = time.Now()
	return true
}
