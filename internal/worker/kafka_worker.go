package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/models"

	"github.com/IBM/sarama"
)

func (m *PartitionManager) runWorker(ctx context.Context, partition int, partitionConsumer sarama.PartitionConsumer, batchProcessor *BatchProcessor) {
	ticker := time.NewTicker(m.cfg.Worker.ProcessingInterval)
	defer ticker.Stop()

	log := m.logger.WithField("partition", partition)

	for {
		select {
		case <-ctx.Done():
			// Context canceled - terminating work
			log.Info("shutdown signal received")
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			batchProcessor.ProcessRemaining(drainCtx)
			cancel()
			return

		case msg, ok := <-partitionConsumer.Messages():
			if !ok {
				batchProcessor.ProcessRemaining(ctx)
				return
			}
			var event models.MessageEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.WithError(err).WithField("offset", msg.Offset).Warn("failed to unmarshal message event")
				continue
			}
			if event.MessageID == "" {
				log.WithField("offset", msg.Offset).Warn("message event without message_id")
				continue
			}
			if event.OrgID == "" {
				event.OrgID = string(msg.Key)
			}
			batchProcessor.AddMessage(event)

		case err, ok := <-partitionConsumer.Errors():
			if ok {
				log.WithError(err).Error("kafka consumer error")
			}

		case <-ticker.C:
			// The timer has triggered - we process the batch
			batchProcessor.ProcessBatch(ctx)
		}
	}
}
