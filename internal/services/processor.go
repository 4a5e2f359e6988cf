package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/metering"
	"github.com/diogomanala/chatbot-saas-sub003/internal/metrics"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories"
	"github.com/shopspring/decimal"
)

// Processor bills a single message exactly once.
type Processor struct {
	messages        MessageStore
	ledger          *LedgerService
	tokensPerCredit int64
	metrics         *metrics.Metrics
	logger          logging.Logger
	now             func() time.Time
}

func NewProcessor(
	messages MessageStore,
	ledger *LedgerService,
	tokensPerCredit int64,
	m *metrics.Metrics,
	logger logging.Logger,
) *Processor {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Processor{
		messages:        messages,
		ledger:          ledger,
		tokensPerCredit: tokensPerCredit,
		metrics:         m,
		logger:          logger,
		now:             time.Now,
	}
}

// ProcessByID loads a message and bills it.
func (p *Processor) ProcessByID(ctx context.Context, messageID string) (*models.BillingOutcome, error) {
	if messageID == "" {
		return nil, ErrInvalidMessageID
	}

	msg, err := p.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		return nil, fmt.Errorf("%w: get message %s: %w", ErrTransient, messageID, err)
	}

	return p.Process(ctx, msg)
}

// Process bills msg. Terminal and failed messages are left alone; failed
// messages re-enter billing only through a requeue.
func (p *Processor) Process(ctx context.Context, msg *models.Message) (*models.BillingOutcome, error) {
	out := &models.BillingOutcome{
		MessageID:   msg.ID,
		OrgID:       msg.OrgID,
		Status:      msg.BillingStatus,
		TokensUsed:  msg.TokensUsed,
		CostCredits: msg.CostCredits,
		ChargedAt:   msg.ChargedAt,
	}

	if !msg.BillingStatus.IsValid() {
		return nil, fmt.Errorf("%w: message %s has status %q", ErrIllegalTransition, msg.ID, msg.BillingStatus)
	}
	if msg.BillingStatus.IsTerminal() || msg.BillingStatus == models.BillingStatusFailed {
		out.Noop = true
		p.metrics.MessageProcessed("noop")
		return out, nil
	}

	if msg.Direction == models.DirectionInbound || msg.BillingExempt {
		return p.skip(ctx, msg, out)
	}

	tokens := metering.EstimateTokens(msg.Content, msg.ProviderTokens)
	credits, err := metering.ToCredits(tokens, p.tokensPerCredit)
	if err != nil {
		return nil, err
	}

	res, err := p.ledger.Debit(ctx, msg.OrgID, msg.ID, decimal.NewFromInt(credits), tokens)
	if err != nil {
		p.metrics.MessageProcessed("error")
		return nil, err
	}

	out.Debit = res
	balance := res.NewBalance
	out.NewBalance = &balance

	switch {
	case res.Success:
		return p.charge(ctx, msg, out, tokens, credits)
	case res.Reason == models.DebitReasonAlreadyProcessed:
		return p.replay(ctx, msg, out, res.Entry)
	default:
		return p.fail(ctx, msg, out, tokens, credits)
	}
}

func (p *Processor) skip(ctx context.Context, msg *models.Message, out *models.BillingOutcome) (*models.BillingOutcome, error) {
	changed, err := p.messages.MarkSkipped(ctx, msg.ID)
	if err != nil {
		p.metrics.MessageProcessed("error")
		return nil, fmt.Errorf("%w: mark message %s skipped: %w", ErrTransient, msg.ID, err)
	}

	out.Status = models.BillingStatusSkipped
	out.Noop = !changed
	p.metrics.MessageProcessed(string(models.BillingStatusSkipped))
	return out, nil
}

func (p *Processor) charge(ctx context.Context, msg *models.Message, out *models.BillingOutcome, tokens, credits int64) (*models.BillingOutcome, error) {
	chargedAt := p.now().UTC()

	// The debit is committed. If this write fails the message stays pending
	// and the next attempt resolves through the already-processed path.
	changed, err := p.messages.MarkCharged(ctx, msg.ID, tokens, credits, chargedAt)
	if err != nil {
		p.metrics.MessageProcessed("error")
		return nil, fmt.Errorf("%w: mark message %s charged: %w", ErrTransient, msg.ID, err)
	}
	if !changed {
		return p.settle(ctx, msg, out)
	}

	out.Status = models.BillingStatusCharged
	out.TokensUsed = tokens
	out.CostCredits = credits
	out.ChargedAt = &chargedAt

	p.metrics.MessageProcessed(string(models.BillingStatusCharged))
	p.logger.WithFields(logging.Fields{
		"org_id":     msg.OrgID,
		"message_id": msg.ID,
		"tokens":     tokens,
		"credits":    credits,
	}).Info("message charged")

	return out, nil
}

// settle handles a message whose status moved while its debit was being
// committed. A message failed in the meantime is requeued and charged from the
// ledger entry; otherwise the stored status is reported as is.
func (p *Processor) settle(ctx context.Context, msg *models.Message, out *models.BillingOutcome) (*models.BillingOutcome, error) {
	log := p.logger.WithFields(logging.Fields{
		"org_id":     msg.OrgID,
		"message_id": msg.ID,
	})

	stored, err := p.reload(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	var entry *models.LedgerEntry
	if out.Debit != nil {
		entry = out.Debit.Entry
	}

	if stored.BillingStatus == models.BillingStatusFailed && entry != nil {
		log.Warn("debited message was marked failed concurrently, settling from ledger")

		if _, err := p.messages.Requeue(ctx, msg.ID); err != nil {
			p.metrics.MessageProcessed("error")
			return nil, fmt.Errorf("%w: requeue debited message %s: %w", ErrTransient, msg.ID, err)
		}
		if _, err := p.messages.MarkChargedFromEntry(ctx, msg.ID, entry); err != nil {
			p.metrics.MessageProcessed("error")
			return nil, fmt.Errorf("%w: settle debited message %s: %w", ErrTransient, msg.ID, err)
		}
		if stored, err = p.reload(ctx, msg.ID); err != nil {
			return nil, err
		}
	}

	out.Status = stored.BillingStatus
	out.TokensUsed = stored.TokensUsed
	out.CostCredits = stored.CostCredits
	out.ChargedAt = stored.ChargedAt

	if stored.BillingStatus != models.BillingStatusCharged {
		p.metrics.MessageProcessed("error")
		return nil, fmt.Errorf("%w: debited message %s is %q", ErrTransient, msg.ID, stored.BillingStatus)
	}

	p.metrics.MessageProcessed(string(models.BillingStatusCharged))
	log.WithField("credits", stored.CostCredits).Info("message charged")
	return out, nil
}

func (p *Processor) reload(ctx context.Context, messageID string) (*models.Message, error) {
	stored, err := p.messages.GetMessage(ctx, messageID)
	if err != nil {
		p.metrics.MessageProcessed("error")
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		return nil, fmt.Errorf("%w: reload message %s: %w", ErrTransient, messageID, err)
	}
	return stored, nil
}

func (p *Processor) replay(ctx context.Context, msg *models.Message, out *models.BillingOutcome, entry *models.LedgerEntry) (*models.BillingOutcome, error) {
	out.Replayed = true
	out.Reason = models.DebitReasonAlreadyProcessed
	out.Status = models.BillingStatusCharged

	if entry != nil {
		if _, err := p.messages.MarkChargedFromEntry(ctx, msg.ID, entry); err != nil {
			p.metrics.MessageProcessed("error")
			return nil, fmt.Errorf("%w: settle replayed message %s: %w", ErrTransient, msg.ID, err)
		}
		if out.TokensUsed == 0 {
			out.TokensUsed = entry.Tokens
		}
		if out.CostCredits == 0 {
			out.CostCredits = entry.Amount.Ceil().IntPart()
		}
		if out.ChargedAt == nil {
			chargedAt := entry.CreatedAt
			out.ChargedAt = &chargedAt
		}
	}

	p.metrics.MessageProcessed(string(models.DebitReasonAlreadyProcessed))
	return out, nil
}

func (p *Processor) fail(ctx context.Context, msg *models.Message, out *models.BillingOutcome, tokens, credits int64) (*models.BillingOutcome, error) {
	if _, err := p.messages.MarkFailed(ctx, msg.ID, models.BillingErrorInsufficientFunds); err != nil {
		p.metrics.MessageProcessed("error")
		return nil, fmt.Errorf("%w: mark message %s failed: %w", ErrTransient, msg.ID, err)
	}

	out.Status = models.BillingStatusFailed
	out.Reason = models.DebitReasonInsufficientFunds
	out.TokensUsed = tokens
	out.CostCredits = credits

	p.metrics.MessageProcessed(string(models.BillingStatusFailed))
	p.logger.WithFields(logging.Fields{
		"org_id":     msg.OrgID,
		"message_id": msg.ID,
		"credits":    credits,
	}).Warn("message billing failed: insufficient funds")

	return out, nil
}
