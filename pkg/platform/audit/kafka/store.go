// Package kafka ships audit events to a Kafka topic as JSON records.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"once/internal/platform/kafka/producer"
	audit "once/pkg/platform/audit"
)

// Producer is the subset of the platform producer the sink needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Store implements audit.Store on top of a synchronous Kafka produce.
type Store struct {
	producer Producer
	topic    string
}

func NewStore(p Producer, topic string) *Store {
	return &Store{producer: p, topic: topic}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	msg := &producer.Message{
		Topic: s.topic,
		Key:   []byte(event.ID),
		Value: payload,
		Headers: map[string]string{
			"event_type": event.Action,
			"client_id":  event.ClientID,
		},
	}
	if err := s.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}
