package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a synchronous writer that waits for all in-sync replicas.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaPublisher writes events as JSON, keyed by bidder so one bidder's events
// stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	log    *logrus.Entry
}

func NewKafkaPublisher(brokers []string, topic string, log *logrus.Entry) *KafkaPublisher {
	return newKafkaPublisher(NewWriter(brokers, topic), log.WithField("topic", topic))
}

func newKafkaPublisher(w messageWriter, log *logrus.Entry) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		log:    log.WithField("package", "events"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode %s event %s: %w", e.Type, e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Bidder),
			Value: value,
			Time:  e.Timestamp,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(msgs), err)
	}
	p.log.WithField("count", len(msgs)).Debug("published events")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
