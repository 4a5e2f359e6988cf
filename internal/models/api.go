package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconcileScopeAll selects every organization with billable messages.
const ReconcileScopeAll = "all"

type BalanceResponse struct {
	OrgID    string          `json:"org_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type CreditRequestBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

type CreditResponse struct {
	OrgID      string          `json:"org_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Currency   string          `json:"currency"`
	EntryID    string          `json:"entry_id"`
}

type ReconcileRequest struct {
	OrgID string `json:"org_id" validate:"required"`
	Async bool   `json:"async"`
}

type ReconcileAcceptedResponse struct {
	Scope   string `json:"scope"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type LedgerResponse struct {
	OrgID   string        `json:"org_id"`
	Entries []LedgerEntry `json:"entries"`
}

// BillingOutcome is what the processor did with one message. For failed
// outcomes TokensUsed and CostCredits hold the attempted charge.
type BillingOutcome struct {
	MessageID   string           `json:"message_id"`
	OrgID       string           `json:"org_id"`
	Status      BillingStatus    `json:"status"`
	Noop        bool             `json:"noop"`
	Replayed    bool             `json:"replayed"`
	Reason      DebitReason      `json:"reason,omitempty"`
	TokensUsed  int64            `json:"tokens_used"`
	CostCredits int64            `json:"cost_credits"`
	NewBalance  *decimal.Decimal `json:"new_balance,omitempty"`
	ChargedAt   *time.Time       `json:"charged_at,omitempty"`
	Debit       *DebitResult     `json:"-"`
}

// ReconcileSummary reports one reconciliation run. Error is set when the run
// stopped early; the counters then describe the work done so far.
type ReconcileSummary struct {
	Scope               string   `json:"scope"`
	Organizations       int      `json:"organizations"`
	Processed           int      `json:"processed"`
	Charged             int      `json:"charged"`
	Failed              int      `json:"failed"`
	Skipped             int      `json:"skipped"`
	AlreadyProcessed    int      `json:"already_processed"`
	Errors              int      `json:"errors"`
	TotalCreditsCharged int64    `json:"total_credits_charged"`
	LockedOrgs          []string `json:"locked_orgs,omitempty"`
	Error               string   `json:"error,omitempty"`
}

// Add folds another summary into s.
func (s *ReconcileSummary) Add(o ReconcileSummary) {
	s.Organizations += o.Organizations
	s.Processed += o.Processed
	s.Charged += o.Charged
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.AlreadyProcessed += o.AlreadyProcessed
	s.Errors += o.Errors
	s.TotalCreditsCharged += o.TotalCreditsCharged
	s.LockedOrgs = append(s.LockedOrgs, o.LockedOrgs...)
}

// Message constants
const (
	MessageReconcileQueued = "Reconciliation queued"
	StatusAccepted         = "accepted"
)
