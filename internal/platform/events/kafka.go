// Package events publishes domain events to Kafka after a mutation commits.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event is the envelope written to the topic.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	LocationID int64     `json:"location_id"`
	ActorID    int64     `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// KafkaPublisher writes JSON events keyed by location so a location's events
// stay ordered within one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

// New returns a Kafka publisher, or a no-op one when no brokers are configured.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 || topic == "" {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic)
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	if p == nil || p.writer == nil {
		return errors.New("events: publisher not configured")
	}
	msg, err := Encode(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Encode fills defaults and renders evt as a Kafka message.
func Encode(evt Event) (kafka.Message, error) {
	if evt.Type == "" {
		return kafka.Message{}, errors.New("events: type required")
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: encode %s: %w", evt.Type, err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.LocationID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
		Time: evt.OccurredAt,
	}, nil
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// PublishAfterCommit sends evt and logs failures. The mutation it describes is
// already committed, so delivery errors never fail the request.
func PublishAfterCommit(ctx context.Context, pub Publisher, logger *slog.Logger, evt Event) {
	if pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := pub.Publish(ctx, evt); err != nil && logger != nil {
		logger.Warn("publish event", slog.String("type", evt.Type), slog.Int64("location_id", evt.LocationID), slog.Any("error", err))
	}
}
