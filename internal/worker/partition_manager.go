package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/diogomanala/chatbot-saas-sub003/internal/config"
	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"

	"github.com/IBM/sarama"
)

// PartitionManager runs one consumer goroutine per partition of the
// outbound messages topic.
type PartitionManager struct {
	cfg    *config.Config
	biller MessageBiller
	logger logging.Logger
	wg     sync.WaitGroup
}

func NewPartitionManager(cfg *config.Config, biller MessageBiller, logger logging.Logger) *PartitionManager {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &PartitionManager{
		cfg:    cfg,
		biller: biller,
		logger: logger,
	}
}

// Start blocks until ctx is cancelled and every partition worker has drained.
func (m *PartitionManager) Start(ctx context.Context) error {
	m.logger.WithField("partitions", m.cfg.Kafka.Partitions).Info("starting partition workers")

	consumer, err := sarama.NewConsumer(m.cfg.Kafka.Brokers, m.cfg.Kafka.GetSaramaConfig())
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	defer consumer.Close()

	for partition := 0; partition < m.cfg.Kafka.Partitions; partition++ {
		m.wg.Add(1)
		go m.startWorkerForPartition(ctx, consumer, partition)
	}

	// Wait for all workers to complete to prevent program termination
	m.wg.Wait()
	m.logger.Info("all partition workers stopped")
	return nil
}

func (m *PartitionManager) startWorkerForPartition(ctx context.Context, consumer sarama.Consumer, partition int) {
	defer m.wg.Done()

	log := m.logger.WithField("partition", partition)
	log.Info("starting worker")

	// Create a PartitionConsumer for a specific partition
	partitionConsumer, err := consumer.ConsumePartition(
		m.cfg.Kafka.MessagesTopic,
		int32(partition),
		sarama.OffsetNewest,
	)
	if err != nil {
		log.WithError(err).Error("failed to create partition consumer")
		return
	}
	defer partitionConsumer.Close()

	batchProcessor := NewBatchProcessor(partition, m.biller, m.logger)

	m.runWorker(ctx, partition, partitionConsumer, batchProcessor)
}
