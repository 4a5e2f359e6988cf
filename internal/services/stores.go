package services

import (
	"context"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/shopspring/decimal"
)

// WalletStore persists wallets and their ledger. Debit and Credit run as a
// single atomic unit each.
type WalletStore interface {
	GetWallet(ctx context.Context, orgID string) (*models.Wallet, error)
	Credit(ctx context.Context, req models.CreditRequest) (*models.CreditResult, error)
	Debit(ctx context.Context, req models.DebitRequest) (*models.DebitResult, error)
	ListEntries(ctx context.Context, orgID string, limit int) ([]models.LedgerEntry, error)
	SumEntries(ctx context.Context, orgID string) (*models.LedgerTotals, error)
}

// BalanceCache is a read-through cache in front of WalletStore.
// GetBalance returns repositories.ErrCacheMiss when nothing is cached.
type BalanceCache interface {
	GetBalance(ctx context.Context, orgID string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, orgID string, balance decimal.Decimal) error
	DeleteBalance(ctx context.Context, orgID string) error
}

// MessageStore reads messages and applies conditional billing status updates.
// Every Mark* method reports whether the row was actually changed.
type MessageStore interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	MarkCharged(ctx context.Context, id string, tokens, credits int64, chargedAt time.Time) (bool, error)
	MarkChargedFromEntry(ctx context.Context, id string, entry *models.LedgerEntry) (bool, error)
	MarkSkipped(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	Requeue(ctx context.Context, id string) (bool, error)
	ListBillable(ctx context.Context, q models.BillableQuery) ([]models.Message, error)
	ListBillableOrgs(ctx context.Context, createdBefore time.Time) ([]string, error)
	GetStats(ctx context.Context, orgID string) (*models.BillingStats, error)
}

// AlertStore keeps one row per org and alert type. UpsertAlert reports
// whether the row became active; refreshing an active row returns false.
type AlertStore interface {
	UpsertAlert(ctx context.Context, alert models.Alert) (activated bool, err error)
	DeactivateAlert(ctx context.Context, orgID, alertType string, balance decimal.Decimal) (bool, error)
	ListAlerts(ctx context.Context, orgID string) ([]models.Alert, error)
}

// AlertPublisher fans alerts out to the notification pipeline.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, event models.AlertEvent) error
}

// Locker guards a key across processes. TryLock returns ok=false when another
// holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}
