package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories/memoryrepo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testTokensPerCredit = 1000

var baseTime = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.AlertEvent
}

func (p *recordingPublisher) PublishAlert(_ context.Context, event models.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(alertType string, active bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.AlertType == alertType && e.Active == active {
			n++
		}
	}
	return n
}

type fixture struct {
	store      *memoryrepo.Store
	publisher  *recordingPublisher
	alerter    *Alerter
	ledger     *LedgerService
	processor  *Processor
	reconciler *Reconciler
}

func newFixture(t *testing.T, threshold int64) *fixture {
	t.Helper()

	store := memoryrepo.New()
	publisher := &recordingPublisher{}
	logger := logging.NewDiscardLogger()

	alerter := NewAlerter(store, publisher, nil, logger)
	ledger := NewLedgerService(store, nil, alerter, "CREDITS", decimal.NewFromInt(threshold), nil, logger)
	processor := NewProcessor(store, ledger, testTokensPerCredit, nil, logger)
	processor.now = func() time.Time { return baseTime.Add(time.Hour) }
	reconciler := NewReconciler(store, processor, nil, ReconcilerConfig{BatchSize: 2, Concurrency: 2}, nil, logger)
	reconciler.now = func() time.Time { return baseTime.Add(time.Hour) }

	return &fixture{
		store:      store,
		publisher:  publisher,
		alerter:    alerter,
		ledger:     ledger,
		processor:  processor,
		reconciler: reconciler,
	}
}

func (f *fixture) fund(t *testing.T, orgID string, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), orgID, decimal.NewFromInt(amount), "test funding")
	require.NoError(t, err)
}

// outbound stores an outbound message costing credits at the test rate.
func (f *fixture) outbound(t *testing.T, orgID, id string, credits int64, offset time.Duration) *models.Message {
	t.Helper()
	msg := models.Message{
		ID:             id,
		OrgID:          orgID,
		Direction:      models.DirectionOutbound,
		Content:        "reply",
		ProviderTokens: credits * testTokensPerCredit,
		BillingStatus:  models.BillingStatusPending,
		CreatedAt:      baseTime.Add(offset),
	}
	require.NoError(t, f.store.SaveMessage(context.Background(), msg))
	return &msg
}

func (f *fixture) message(t *testing.T, id string) *models.Message {
	t.Helper()
	msg, err := f.store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func (f *fixture) balance(t *testing.T, orgID string) decimal.Decimal {
	t.Helper()
	res, err := f.ledger.GetBalance(context.Background(), orgID)
	require.NoError(t, err)
	return res.Balance
}

// failingWallets fails every call with a connection error.
type failingWallets struct{}

var errConnection = errors.New("connection refused")

func (failingWallets) GetWallet(context.Context, string) (*models.Wallet, error) {
	return nil, errConnection
}

func (failingWallets) Credit(context.Context, models.CreditRequest) (*models.CreditResult, error) {
	return nil, errConnection
}

func (failingWallets) Debit(context.Context, models.DebitRequest) (*models.DebitResult, error) {
	return nil, errConnection
}

func (failingWallets) ListEntries(context.Context, string, int) ([]models.LedgerEntry, error) {
	return nil, errConnection
}

func (failingWallets) SumEntries(context.Context, string) (*models.LedgerTotals, error) {
	return nil, errConnection
}
