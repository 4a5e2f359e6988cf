package models

// BillingStatus is the billing lifecycle state of a single message.
type BillingStatus string

// Billing status values exchanged with collaborators. An empty status means
// the column was never set and is billed like pending.
const (
	BillingStatusUnset    BillingStatus = ""
	BillingStatusReceived BillingStatus = "received"
	BillingStatusPending  BillingStatus = "pending"
	BillingStatusCharged  BillingStatus = "charged"
	BillingStatusSkipped  BillingStatus = "skipped"
	BillingStatusFailed   BillingStatus = "failed"
)

// IsTerminal reports whether the processor must leave the message untouched.
func (s BillingStatus) IsTerminal() bool {
	switch s {
	case BillingStatusCharged, BillingStatusSkipped, BillingStatusReceived:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known values, unset included.
func (s BillingStatus) IsValid() bool {
	switch s {
	case BillingStatusUnset, BillingStatusReceived, BillingStatusPending,
		BillingStatusCharged, BillingStatusSkipped, BillingStatusFailed:
		return true
	}
	return false
}

// normalize maps the unset status onto pending.
func (s BillingStatus) normalize() BillingStatus {
	if s == BillingStatusUnset {
		return BillingStatusPending
	}
	return s
}

// CanTransition reports whether from -> to is a legal billing transition.
func CanTransition(from, to BillingStatus) bool {
	switch from.normalize() {
	case BillingStatusPending:
		return to == BillingStatusCharged || to == BillingStatusSkipped || to == BillingStatusFailed
	case BillingStatusFailed:
		return to == BillingStatusPending
	}
	return false
}

// Failure reasons stored in messages.billing_error.
const (
	BillingErrorInsufficientFunds = "insufficient_funds"
	BillingErrorBacklogBlocked    = "insufficient_funds_backlog"
)
