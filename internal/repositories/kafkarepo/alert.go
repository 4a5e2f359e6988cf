package kafkarepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/diogomanala/chatbot-saas-sub003/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the repository needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type AlertRepository struct {
	writer MessageWriter
}

func NewAlertRepository(writer MessageWriter) *AlertRepository {
	return &AlertRepository{
		writer: writer,
	}
}

// PublishAlert sends an alert event to Kafka
func (r *AlertRepository) PublishAlert(ctx context.Context, event models.AlertEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	// Use orgID as key so alerts of one org stay ordered
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrgID),
		Value: msgBytes,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte(event.AlertType)},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to write alert to kafka: %w", err)
	}

	return nil
}
