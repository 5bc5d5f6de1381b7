package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/signalsfoundry/route-playback/internal/logging"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaPublisher writes CloudEvent envelopes to a topic keyed by session ID,
// so one session's events stay ordered within a partition.
type KafkaPublisher struct {
	w     messageWriter
	topic string
	log   logging.Logger
}

// NewKafkaPublisher builds an asynchronous writer. Delivery failures are
// reported to log from the writer's completion callback.
func NewKafkaPublisher(cfg KafkaConfig, log logging.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: topic is required")
	}
	if log == nil {
		log = logging.Noop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn(context.Background(), "trip event delivery failed",
					logging.Int("messages", len(msgs)),
					logging.Err(err),
				)
			}
		},
	}
	return newKafkaPublisher(w, cfg.Topic, log), nil
}

func newKafkaPublisher(w messageWriter, topic string, log logging.Logger) *KafkaPublisher {
	if log == nil {
		log = logging.Noop()
	}
	return &KafkaPublisher{w: w, topic: topic, log: log}
}

// Publish wraps evt in a CloudEvent and hands it to the writer.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, evt TripEvent) error {
	ce, err := NewCloudEvent(eventType, evt.SessionID, evt)
	if err != nil {
		return err
	}
	value, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("marshal cloud event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_type", Value: []byte(eventType)},
			{Key: "content-type", Value: []byte("application/cloudevents+json")},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventType, p.topic, err)
	}
	p.log.Debug(ctx, "trip event published",
		logging.String("type", eventType),
		logging.String("session_id", evt.SessionID),
	)
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
