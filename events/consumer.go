/*
Package events carries provider events over Kafka.

  Consumer:            reads provider events from a topic, hands each one to
                       the settlement service and commits its offset.
  DeadLetterPublisher: writes undeliverable events (bad payloads, unknown
                       payment intents, exhausted retries) to a DLQ topic.

Offsets are committed after the event's outcome is known. A redelivered
message is harmless: the dedup ledger turns it into a Skipped outcome.

Retries only cover failures raised before the event id is recorded, such as
an unreachable dedup store. A failure after that point comes back wrapped in
settlement.ErrDeadLettered; the handler has already dead-lettered the event,
so the consumer commits it without retrying.
*/
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/payment-engine/settlement"
)

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Processor applies one provider event. *settlement.Service satisfies it.
type Processor interface {
	ReceiveProviderEvent(ctx context.Context, event settlement.Event) (settlement.Outcome, error)
}

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 200 * time.Millisecond
)

// NewReader builds a consumer-group reader for topic.
func NewReader(brokers []string, groupID, topic string) (*kafka.Reader, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka consumer requires a topic")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: []string{topic},
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	}), nil
}

type Consumer struct {
	reader      Reader
	processor   Processor
	dlq         *DeadLetterPublisher
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer wires a consumer. dlq may be nil, in which case bad messages
// are logged and committed.
func NewConsumer(reader Reader, processor Processor, dlq *DeadLetterPublisher, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		reader:      reader,
		processor:   processor,
		dlq:         dlq,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// WithRetry overrides the attempt count and the base backoff between
// attempts for failures raised before the event id is recorded.
func (c *Consumer) WithRetry(maxAttempts int, backoff time.Duration) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	c.maxAttempts = maxAttempts
	c.backoff = backoff
	return c
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and
// an error only when the broker itself fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started")
	defer c.logger.Info("kafka consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handleMessage(ctx, msg); err != nil {
			// Only cancellation lands here; leave the offset uncommitted.
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	log := c.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset))

	event, err := settlement.DecodeEvent(msg.Value)
	if err != nil {
		log.Warn("undecodable provider event", zap.Error(err))
		c.deadLetterRaw(ctx, msg, err.Error(), log)
		return nil
	}
	log = log.With(zap.String("event_id", string(event.ID)), zap.String("event_type", string(event.Type)))

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		outcome, err := c.processor.ReceiveProviderEvent(ctx, event)
		if err == nil {
			log.Info("provider event processed",
				zap.String("outcome", string(outcome.Kind)),
				zap.String("reason", outcome.Reason))
			return nil
		}
		if errors.Is(err, settlement.ErrInvalidInput) {
			log.Warn("provider event rejected", zap.Error(err))
			c.deadLetterEvent(ctx, event, err.Error(), log)
			return nil
		}
		if errors.Is(err, settlement.ErrDeadLettered) {
			log.Error("provider event dead-lettered by handler", zap.Error(err))
			return nil
		}

		lastErr = err
		log.Warn("provider event failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	log.Error("provider event retries exhausted", zap.Error(lastErr))
	c.deadLetterEvent(ctx, event, "retries exhausted: "+lastErr.Error(), log)
	return nil
}

func (c *Consumer) deadLetterRaw(ctx context.Context, msg kafka.Message, reason string, log *zap.Logger) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.PublishRaw(ctx, msg.Key, msg.Value, reason); err != nil {
		log.Error("dead letter publish failed", zap.Error(err))
	}
}

func (c *Consumer) deadLetterEvent(ctx context.Context, event settlement.Event, reason string, log *zap.Logger) {
	if c.dlq == nil {
		return
	}
	letter := settlement.DeadLetter{Event: event, Reason: reason, ReceivedAt: time.Now().UTC()}
	if err := c.dlq.Publish(ctx, letter); err != nil {
		log.Error("dead letter publish failed", zap.Error(err))
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
