package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Database model
type Wallet struct {
	OrgID               string          `db:"org_id"`
	Balance             decimal.Decimal `db:"balance"`
	Currency            string          `db:"currency"`
	LowBalanceThreshold decimal.Decimal `db:"low_balance_threshold"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// EntryKind is the direction of a ledger entry.
type EntryKind string

const (
	EntryKindCredit EntryKind = "credit"
	EntryKindDebit  EntryKind = "debit"
)

// LedgerEntry is an immutable audit record of a single balance mutation.
type LedgerEntry struct {
	ID           string          `db:"id" json:"id"`
	OrgID        string          `db:"org_id" json:"org_id"`
	MessageID    *string         `db:"message_id" json:"message_id,omitempty"`
	Kind         EntryKind       `db:"kind" json:"kind"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Tokens       int64           `db:"tokens" json:"tokens"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	Description  string          `db:"description" json:"description,omitempty"`
	Metadata     []byte          `db:"metadata" json:"-"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// DebitReason explains a rejected or replayed debit.
type DebitReason string

const (
	DebitReasonNone              DebitReason = ""
	DebitReasonInsufficientFunds DebitReason = "insufficient_funds"
	DebitReasonAlreadyProcessed  DebitReason = "already_processed"
)

// DebitRequest asks the ledger to take amount from an org for one message.
type DebitRequest struct {
	OrgID     string
	MessageID string
	Amount    decimal.Decimal
	Tokens    int64
	Currency  string
	Threshold decimal.Decimal
}

// DebitResult is the outcome of a debit. Success is false with a reason for
// rejected and replayed debits; Entry carries the committed (or previously
// committed) ledger entry when there is one.
type DebitResult struct {
	Success         bool
	Reason          DebitReason
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	Threshold       decimal.Decimal
	Currency        string
	Entry           *LedgerEntry
}

// CreditRequest asks the ledger to add funds to an org.
type CreditRequest struct {
	OrgID       string
	Amount      decimal.Decimal
	Description string
	Currency    string
	Threshold   decimal.Decimal
}

// CreditResult is the outcome of a credit.
type CreditResult struct {
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	Threshold       decimal.Decimal
	Currency        string
	Entry           *LedgerEntry
}

// LedgerTotals are the per-kind sums of an org's ledger entries.
type LedgerTotals struct {
	Credits decimal.Decimal `db:"credits"`
	Debits  decimal.Decimal `db:"debits"`
}

// BalanceCheck compares a wallet balance with its ledger entries.
type BalanceCheck struct {
	OrgID      string          `json:"org_id"`
	Balance    decimal.Decimal `json:"balance"`
	Credits    decimal.Decimal `json:"credits"`
	Debits     decimal.Decimal `json:"debits"`
	Consistent bool            `json:"consistent"`
}
