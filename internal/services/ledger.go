package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/metrics"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// LedgerService owns every balance mutation. It never lets a balance go
// negative and applies at most one debit per message.
type LedgerService struct {
	wallets   WalletStore
	cache     BalanceCache
	alerter   *Alerter
	metrics   *metrics.Metrics
	logger    logging.Logger
	currency  string
	threshold decimal.Decimal
}

// NewLedgerService wires the ledger. cache and alerter may be nil.
func NewLedgerService(
	wallets WalletStore,
	cache BalanceCache,
	alerter *Alerter,
	currency string,
	threshold decimal.Decimal,
	m *metrics.Metrics,
	logger logging.Logger,
) *LedgerService {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &LedgerService{
		wallets:   wallets,
		cache:     cache,
		alerter:   alerter,
		metrics:   m,
		logger:    logger,
		currency:  currency,
		threshold: threshold,
	}
}

// GetBalance reads the org balance, cache first. Unknown orgs have a zero
// balance.
func (s *LedgerService) GetBalance(ctx context.Context, orgID string) (*models.BalanceResponse, error) {
	if orgID == "" {
		return nil, ErrInvalidOrgID
	}

	if s.cache != nil {
		balance, err := s.cache.GetBalance(ctx, orgID)
		if err == nil {
			return &models.BalanceResponse{OrgID: orgID, Balance: balance, Currency: s.currency}, nil
		}
		if !errors.Is(err, repositories.ErrCacheMiss) {
			s.logger.WithError(err).WithField("org_id", orgID).Warn("balance cache read failed")
		}
	}

	wallet, err := s.wallets.GetWallet(ctx, orgID)
	if errors.Is(err, repositories.ErrWalletNotFound) {
		return &models.BalanceResponse{OrgID: orgID, Balance: decimal.Zero, Currency: s.currency}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get wallet %s: %w", ErrTransient, orgID, err)
	}

	if s.cache != nil {
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := s.cache.SetBalance(cacheCtx, orgID, wallet.Balance); err != nil {
				s.logger.WithError(err).WithField("org_id", orgID).Warn("failed to update balance cache")
			}
		}()
	}

	return &models.BalanceResponse{OrgID: orgID, Balance: wallet.Balance, Currency: wallet.Currency}, nil
}

// Credit adds funds and clears alerts the top-up resolves.
func (s *LedgerService) Credit(ctx context.Context, orgID string, amount decimal.Decimal, description string) (*models.CreditResult, error) {
	if orgID == "" {
		return nil, ErrInvalidOrgID
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	res, err := s.wallets.Credit(ctx, models.CreditRequest{
		OrgID:       orgID,
		Amount:      amount,
		Description: description,
		Currency:    s.currency,
		Threshold:   s.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: credit org %s: %w", ErrTransient, orgID, err)
	}

	s.invalidate(ctx, orgID)
	s.metrics.Topup()
	s.logger.WithFields(logging.Fields{
		"org_id":      orgID,
		"amount":      amount.String(),
		"new_balance": res.NewBalance.String(),
	}).Info("wallet credited")

	if s.alerter != nil {
		s.alerter.Recovered(ctx, orgID, res.NewBalance, res.Threshold, res.Currency)
	}

	return res, nil
}

// Debit takes amount from the org for messageID. Rejections and replays are
// reported through the result, not as errors; an error means nothing was
// written. A rejection raises the insufficient funds alert.
func (s *LedgerService) Debit(ctx context.Context, orgID, messageID string, amount decimal.Decimal, tokens int64) (*models.DebitResult, error) {
	if orgID == "" {
		return nil, ErrInvalidOrgID
	}
	if messageID == "" {
		return nil, ErrInvalidMessageID
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	res, err := s.wallets.Debit(ctx, models.DebitRequest{
		OrgID:     orgID,
		MessageID: messageID,
		Amount:    amount,
		Tokens:    tokens,
		Currency:  s.currency,
		Threshold: s.threshold,
	})
	if err != nil {
		s.metrics.Debit("error", 0)
		return nil, fmt.Errorf("%w: debit org %s message %s: %w", ErrTransient, orgID, messageID, err)
	}

	log := s.logger.WithFields(logging.Fields{
		"org_id":     orgID,
		"message_id": messageID,
		"amount":     amount.String(),
	})

	switch {
	case res.Success:
		s.invalidate(ctx, orgID)
		s.metrics.Debit("success", amount.IntPart())
		log.WithField("new_balance", res.NewBalance.String()).Debug("wallet debited")

		if s.alerter != nil && crossedBelow(res.PreviousBalance, res.NewBalance, res.Threshold) {
			s.alerter.LowBalance(ctx, orgID, res.NewBalance, res.Threshold, res.Currency)
		}
	case res.Reason == models.DebitReasonInsufficientFunds:
		s.metrics.Debit(string(res.Reason), 0)
		log.WithField("balance", res.NewBalance.String()).Info("debit rejected: insufficient funds")

		if s.alerter != nil {
			s.alerter.InsufficientFunds(ctx, orgID, res.NewBalance, amount, res.Threshold, res.Currency)
		}
	case res.Reason == models.DebitReasonAlreadyProcessed:
		s.metrics.Debit(string(res.Reason), 0)
		log.Debug("debit already applied")
	}

	return res, nil
}

// History returns the newest ledger entries first.
func (s *LedgerService) History(ctx context.Context, orgID string, limit int) ([]models.LedgerEntry, error) {
	if orgID == "" {
		return nil, ErrInvalidOrgID
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := s.wallets.ListEntries(ctx, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries for %s: %w", ErrTransient, orgID, err)
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return entries, nil
}

// VerifyBalance checks that the balance equals credits minus debits.
func (s *LedgerService) VerifyBalance(ctx context.Context, orgID string) (*models.BalanceCheck, error) {
	if orgID == "" {
		return nil, ErrInvalidOrgID
	}

	balance := decimal.Zero
	wallet, err := s.wallets.GetWallet(ctx, orgID)
	switch {
	case err == nil:
		balance = wallet.Balance
	case errors.Is(err, repositories.ErrWalletNotFound):
	default:
		return nil, fmt.Errorf("%w: get wallet %s: %w", ErrTransient, orgID, err)
	}

	totals, err := s.wallets.SumEntries(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: sum entries for %s: %w", ErrTransient, orgID, err)
	}

	return &models.BalanceCheck{
		OrgID:      orgID,
		Balance:    balance,
		Credits:    totals.Credits,
		Debits:     totals.Debits,
		Consistent: balance.Equal(totals.Credits.Sub(totals.Debits)),
	}, nil
}

func (s *LedgerService) invalidate(ctx context.Context, orgID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteBalance(ctx, orgID); err != nil {
		s.logger.WithError(err).WithField("org_id", orgID).Warn("failed to invalidate balance cache")
	}
}

func crossedBelow(previous, current, threshold decimal.Decimal) bool {
	return !previous.LessThan(threshold) && current.LessThan(threshold)
}
