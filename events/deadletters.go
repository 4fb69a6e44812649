package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warp/payment-engine/settlement"
)

// Writer is the subset of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterMessage is the DLQ payload. Event is nil when the incoming
// payload could not be decoded; Payload then carries the raw bytes.
type DeadLetterMessage struct {
	Event      *settlement.Event `json:"event,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Reason     string            `json:"reason"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

// DeadLetterPublisher implements settlement.DeadLetterSink on a Kafka topic.
type DeadLetterPublisher struct {
	writer Writer
	topic  string
	now    func() time.Time
}

// NewDeadLetterWriter builds a writer for the DLQ topic.
func NewDeadLetterWriter(brokers []string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, nil
}

func NewDeadLetterPublisher(writer Writer, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{writer: writer, topic: topic, now: time.Now}
}

// Publish keys the message by payment intent id so letters for one order
// stay on one partition.
func (p *DeadLetterPublisher) Publish(ctx context.Context, letter settlement.DeadLetter) error {
	event := letter.Event
	body, err := json.Marshal(DeadLetterMessage{
		Event:      &event,
		Reason:     letter.Reason,
		ReceivedAt: letter.ReceivedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	return p.write(ctx, []byte(event.PaymentIntentID()), body)
}

// PublishRaw dead-letters a payload that never decoded into an event.
func (p *DeadLetterPublisher) PublishRaw(ctx context.Context, key, payload []byte, reason string) error {
	msg := DeadLetterMessage{Reason: reason, ReceivedAt: p.now().UTC()}
	if json.Valid(payload) {
		msg.Payload = payload
	} else {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return fmt.Errorf("encode dead letter payload: %w", err)
		}
		msg.Payload = quoted
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	return p.write(ctx, key, body)
}

func (p *DeadLetterPublisher) write(ctx context.Context, key, body []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   key,
		Value: body,
		Time:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish dead letter to %s: %w", p.topic, err)
	}
	return nil
}

func (p *DeadLetterPublisher) Close() error {
	return p.writer.Close()
}
