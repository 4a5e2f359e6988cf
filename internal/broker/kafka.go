package broker

import (
	"errors"

	"github.com/diogomanala/chatbot-saas-sub003/internal/config"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter returns a writer for the alerts topic.
func NewKafkaWriter(cfg config.KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AlertsTopic,
		Balancer:     &kafka.Hash{},    // Use hash balancer to keep an org's alerts ordered
		RequiredAcks: kafka.RequireOne, // Wait for acknowledgement from leader
		Async:        false,
		MaxAttempts:  10,
	}

	return writer, nil
}
