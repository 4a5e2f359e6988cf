package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Alert types
const (
	AlertTypeLowBalance        = "low_balance"
	AlertTypeInsufficientFunds = "insufficient_funds"
)

// Database model
type Alert struct {
	OrgID          string          `db:"org_id" json:"org_id"`
	AlertType      string          `db:"alert_type" json:"alert_type"`
	Threshold      decimal.Decimal `db:"threshold" json:"threshold"`
	CurrentBalance decimal.Decimal `db:"current_balance" json:"current_balance"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// AlertEvent is published on the alerts topic for the notification consumer.
type AlertEvent struct {
	OrgID          string          `json:"org_id"`
	AlertType      string          `json:"alert_type"`
	Threshold      decimal.Decimal `json:"threshold"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Required       decimal.Decimal `json:"required"`
	Currency       string          `json:"currency"`
	Active         bool            `json:"active"`
	Timestamp      time.Time       `json:"timestamp"`
}
