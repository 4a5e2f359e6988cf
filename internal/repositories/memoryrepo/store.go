// Package memoryrepo keeps wallets, messages and alerts in process memory.
// It backs STORAGE_DRIVER=memory and the service tests.
package memoryrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type alertKey struct {
	orgID     string
	alertType string
}

type Store struct {
	mu sync.RWMutex

	wallets map[string]*models.Wallet

	// Ledger entries in insertion order
	entries []models.LedgerEntry

	// Debit entry index by message id
	debits map[string]int

	messages map[string]*models.Message

	alerts map[alertKey]*models.Alert

	now func() time.Time
}

func New() *Store {
	return &Store{
		wallets:  make(map[string]*models.Wallet),
		entries:  make([]models.LedgerEntry, 0),
		debits:   make(map[string]int),
		messages: make(map[string]*models.Message),
		alerts:   make(map[alertKey]*models.Alert),
		now:      time.Now,
	}
}

// Wallet store implementation

func (s *Store) GetWallet(_ context.Context, orgID string) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[orgID]
	if !ok {
		return nil, repositories.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) Credit(_ context.Context, req models.CreditRequest) (*models.CreditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(req.OrgID, req.Currency, req.Threshold)
	previous := w.Balance
	w.Balance = w.Balance.Add(req.Amount)
	w.UpdatedAt = s.now().UTC()

	entry := s.appendEntryLocked(models.LedgerEntry{
		OrgID:        req.OrgID,
		Kind:         models.EntryKindCredit,
		Amount:       req.Amount,
		BalanceAfter: w.Balance,
		Description:  req.Description,
	})

	return &models.CreditResult{
		PreviousBalance: previous,
		NewBalance:      w.Balance,
		Threshold:       w.LowBalanceThreshold,
		Currency:        w.Currency,
		Entry:           &entry,
	}, nil
}

func (s *Store) Debit(_ context.Context, req models.DebitRequest) (*models.DebitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(req.OrgID, req.Currency, req.Threshold)
	res := &models.DebitResult{
		PreviousBalance: w.Balance,
		NewBalance:      w.Balance,
		Threshold:       w.LowBalanceThreshold,
		Currency:        w.Currency,
	}

	if idx, ok := s.debits[req.MessageID]; ok {
		entry := s.entries[idx]
		res.Reason = models.DebitReasonAlreadyProcessed
		res.Entry = &entry
		return res, nil
	}

	if w.Balance.LessThan(req.Amount) {
		res.Reason = models.DebitReasonInsufficientFunds
		return res, nil
	}

	w.Balance = w.Balance.Sub(req.Amount)
	w.UpdatedAt = s.now().UTC()

	messageID := req.MessageID
	entry := s.appendEntryLocked(models.LedgerEntry{
		OrgID:        req.OrgID,
		MessageID:    &messageID,
		Kind:         models.EntryKindDebit,
		Amount:       req.Amount,
		Tokens:       req.Tokens,
		BalanceAfter: w.Balance,
	})
	s.debits[messageID] = len(s.entries) - 1

	res.Success = true
	res.NewBalance = w.Balance
	res.Entry = &entry
	return res, nil
}

func (s *Store) ListEntries(_ context.Context, orgID string, limit int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.LedgerEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].OrgID != orgID {
			continue
		}
		result = append(result, s.entries[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) SumEntries(_ context.Context, orgID string) (*models.LedgerTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := &models.LedgerTotals{Credits: decimal.Zero, Debits: decimal.Zero}
	for _, e := range s.entries {
		if e.OrgID != orgID {
			continue
		}
		switch e.Kind {
		case models.EntryKindCredit:
			totals.Credits = totals.Credits.Add(e.Amount)
		case models.EntryKindDebit:
			totals.Debits = totals.Debits.Add(e.Amount)
		}
	}
	return totals, nil
}

func (s *Store) walletLocked(orgID, currency string, threshold decimal.Decimal) *models.Wallet {
	if w, ok := s.wallets[orgID]; ok {
		return w
	}
	now := s.now().UTC()
	w := &models.Wallet{
		OrgID:               orgID,
		Balance:             decimal.Zero,
		Currency:            currency,
		LowBalanceThreshold: threshold,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.wallets[orgID] = w
	return w
}

func (s *Store) appendEntryLocked(entry models.LedgerEntry) models.LedgerEntry {
	entry.ID = uuid.New().String()
	entry.CreatedAt = s.now().UTC()
	s.entries = append(s.entries, entry)
	return entry
}

// Message store implementation

// SaveMessage inserts or replaces a message.
func (s *Store) SaveMessage(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	s.messages[msg.ID] = &msg
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, repositories.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *Store) MarkCharged(_ context.Context, id string, tokens, credits int64, chargedAt time.Time) (bool, error) {
	return s.transition(id, models.BillingStatusCharged, func(m *models.Message) {
		m.TokensUsed = tokens
		m.CostCredits = credits
		m.ChargedAt = &chargedAt
		m.BillingError = nil
	})
}

func (s *Store) MarkChargedFromEntry(_ context.Context, id string, entry *models.LedgerEntry) (bool, error) {
	return s.transition(id, models.BillingStatusCharged, func(m *models.Message) {
		if m.TokensUsed == 0 {
			m.TokensUsed = entry.Tokens
		}
		if m.CostCredits == 0 {
			m.CostCredits = entry.Amount.Ceil().IntPart()
		}
		if m.ChargedAt == nil {
			chargedAt := entry.CreatedAt
			m.ChargedAt = &chargedAt
		}
		m.BillingError = nil
	})
}

func (s *Store) MarkSkipped(_ context.Context, id string) (bool, error) {
	return s.transition(id, models.BillingStatusSkipped, nil)
}

func (s *Store) MarkFailed(_ context.Context, id, reason string) (bool, error) {
	return s.transition(id, models.BillingStatusFailed, func(m *models.Message) {
		m.BillingError = &reason
	})
}

func (s *Store) Requeue(_ context.Context, id string) (bool, error) {
	return s.transition(id, models.BillingStatusPending, func(m *models.Message) {
		m.BillingError = nil
	})
}

// transition applies to only when the current status allows it.
func (s *Store) transition(id string, to models.BillingStatus, apply func(*models.Message)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return false, repositories.ErrMessageNotFound
	}
	if !models.CanTransition(msg.BillingStatus, to) {
		return false, nil
	}
	if apply != nil {
		apply(msg)
	}
	msg.BillingStatus = to
	return true, nil
}

func (s *Store) ListBillable(_ context.Context, q models.BillableQuery) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Message, 0)
	for _, msg := range s.messages {
		if msg.OrgID != q.OrgID || !billable(msg) {
			continue
		}
		if !q.CreatedBefore.IsZero() && !msg.CreatedAt.Before(q.CreatedBefore) {
			continue
		}
		if q.AfterID != "" && !after(msg, q.AfterCreatedAt, q.AfterID) {
			continue
		}
		result = append(result, *msg)
	}

	sort.Slice(result, func(i, j int) bool {
		return before(&result[i], &result[j])
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *Store) ListBillableOrgs(_ context.Context, createdBefore time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, msg := range s.messages {
		if !billable(msg) {
			continue
		}
		if !createdBefore.IsZero() && !msg.CreatedAt.Before(createdBefore) {
			continue
		}
		seen[msg.OrgID] = struct{}{}
	}

	orgs := make([]string, 0, len(seen))
	for orgID := range seen {
		orgs = append(orgs, orgID)
	}
	sort.Strings(orgs)
	return orgs, nil
}

func (s *Store) GetStats(_ context.Context, orgID string) (*models.BillingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.BillingStats{OrgID: orgID}
	for _, msg := range s.messages {
		if msg.OrgID != orgID {
			continue
		}
		stats.TotalMessages++
		switch msg.BillingStatus {
		case models.BillingStatusUnset, models.BillingStatusPending:
			stats.Pending++
		case models.BillingStatusCharged:
			stats.Charged++
			stats.TotalCreditsCharged += msg.CostCredits
			stats.TotalTokensUsed += msg.TokensUsed
		case models.BillingStatusFailed:
			stats.Failed++
		case models.BillingStatusSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

func billable(msg *models.Message) bool {
	if msg.Direction != models.DirectionOutbound {
		return false
	}
	switch msg.BillingStatus {
	case models.BillingStatusUnset, models.BillingStatusPending, models.BillingStatusFailed:
		return true
	}
	return false
}

func before(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func after(msg *models.Message, createdAt time.Time, id string) bool {
	return before(&models.Message{CreatedAt: createdAt, ID: id}, msg)
}

// Alert store implementation

func (s *Store) UpsertAlert(_ context.Context, alert models.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := alertKey{orgID: alert.OrgID, alertType: alert.AlertType}
	existing, ok := s.alerts[key]
	if ok && existing.IsActive {
		existing.Threshold = alert.Threshold
		existing.CurrentBalance = alert.CurrentBalance
		existing.UpdatedAt = alert.UpdatedAt
		return false, nil
	}

	alert.IsActive = true
	s.alerts[key] = &alert
	return true, nil
}

func (s *Store) DeactivateAlert(_ context.Context, orgID, alertType string, balance decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[alertKey{orgID: orgID, alertType: alertType}]
	if !ok || !alert.IsActive {
		return false, nil
	}
	alert.IsActive = false
	alert.CurrentBalance = balance
	alert.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) ListAlerts(_ context.Context, orgID string) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Alert, 0)
	for key, alert := range s.alerts {
		if key.orgID == orgID {
			result = append(result, *alert)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AlertType < result[j].AlertType
	})
	return result, nil
}
