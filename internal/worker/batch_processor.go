package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
)

// MessageBiller bills one message by id.
type MessageBiller interface {
	ProcessByID(ctx context.Context, messageID string) (*models.BillingOutcome, error)
}

// BatchProcessor buffers message events of one partition and bills them on
// every tick. Events of one org are billed in arrival order; after an
// insufficient funds outcome the rest of that org's batch is left pending
// for the reconciler.
type BatchProcessor struct {
	partitionID   int
	biller        MessageBiller
	logger        logging.Logger
	events        []models.MessageEvent
	mutex         sync.Mutex
	lastProcessed time.Time
}

func NewBatchProcessor(partitionID int, biller MessageBiller, logger logging.Logger) *BatchProcessor {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &BatchProcessor{
		partitionID:   partitionID,
		biller:        biller,
		logger:        logger,
		events:        make([]models.MessageEvent, 0),
		lastProcessed: time.Now(),
	}
}

func (bp *BatchProcessor) AddMessage(event models.MessageEvent) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	bp.events = append(bp.events, event)
}

// ProcessBatch bills everything buffered so far.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	bp.processLocked(ctx)
}

// ProcessRemaining drains the buffer before shutdown.
func (bp *BatchProcessor) ProcessRemaining(ctx context.Context) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	if len(bp.events) > 0 {
		bp.logger.WithFields(logging.Fields{
			"partition": bp.partitionID,
			"messages":  len(bp.events),
		}).Info("processing remaining messages before shutdown")
		bp.processLocked(ctx)
	}
}

func (bp *BatchProcessor) processLocked(ctx context.Context) {
	if len(bp.events) == 0 {
		return
	}

	log := bp.logger.WithField("partition", bp.partitionID)
	log.WithField("messages", len(bp.events)).Debug("processing batch")

	orgEvents := bp.groupByOrg()

	orgs := make([]string, 0, len(orgEvents))
	for orgID := range orgEvents {
		orgs = append(orgs, orgID)
	}
	sort.Strings(orgs)

	for _, orgID := range orgs {
		bp.processOrg(ctx, orgID, orgEvents[orgID])
	}

	// Clear the batch
	bp.events = bp.events[:0]
	bp.lastProcessed = time.Now()
}

func (bp *BatchProcessor) processOrg(ctx context.Context, orgID string, events []models.MessageEvent) {
	log := bp.logger.WithFields(logging.Fields{
		"partition": bp.partitionID,
		"org_id":    orgID,
	})

	for i, event := range events {
		outcome, err := bp.biller.ProcessByID(ctx, event.MessageID)
		if err != nil {
			// The message stays pending and is picked up by the reconciler.
			log.WithError(err).WithField("message_id", event.MessageID).Warn("failed to bill message")
			continue
		}

		if outcome.Reason != models.DebitReasonInsufficientFunds {
			continue
		}

		if left := len(events) - i - 1; left > 0 {
			log.WithField("deferred", left).Info("insufficient funds, leaving rest of batch to reconciliation")
		}
		return
	}
}

func (bp *BatchProcessor) groupByOrg() map[string][]models.MessageEvent {
	orgEvents := make(map[string][]models.MessageEvent)

	for _, event := range bp.events {
		orgEvents[event.OrgID] = append(orgEvents[event.OrgID], event)
	}

	return orgEvents
}
