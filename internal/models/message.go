package models

import "time"

// Direction of a chat message relative to the organization's chatbot.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Database model
type Message struct {
	ID             string        `db:"id" json:"id"`
	OrgID          string        `db:"org_id" json:"org_id"`
	ChatbotID      string        `db:"chatbot_id" json:"chatbot_id"`
	DeviceID       string        `db:"device_id" json:"device_id"`
	Direction      Direction     `db:"direction" json:"direction"`
	Content        string        `db:"content" json:"content"`
	ProviderTokens int64         `db:"provider_tokens" json:"provider_tokens,omitempty"`
	BillingExempt  bool          `db:"billing_exempt" json:"billing_exempt"`
	TokensUsed     int64         `db:"tokens_used" json:"tokens_used"`
	CostCredits    int64         `db:"cost_credits" json:"cost_credits"`
	BillingStatus  BillingStatus `db:"billing_status" json:"billing_status"`
	BillingError   *string       `db:"billing_error" json:"billing_error,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	ChargedAt      *time.Time    `db:"charged_at" json:"charged_at,omitempty"`
}

// MessageEvent is the Kafka payload announcing a persisted outbound message.
type MessageEvent struct {
	MessageID string `json:"message_id"`
	OrgID     string `json:"org_id"`
}

// BillingStats summarizes an organization's message billing.
type BillingStats struct {
	OrgID               string `db:"org_id" json:"org_id"`
	TotalMessages       int64  `db:"total_messages" json:"total_messages"`
	Pending             int64  `db:"pending" json:"pending"`
	Charged             int64  `db:"charged" json:"charged"`
	Failed              int64  `db:"failed" json:"failed"`
	Skipped             int64  `db:"skipped" json:"skipped"`
	TotalCreditsCharged int64  `db:"total_credits_charged" json:"total_credits_charged"`
	TotalTokensUsed     int64  `db:"total_tokens_used" json:"total_tokens_used"`
}

// BillableQuery pages through an org's billable messages in created_at, id
// order. Only messages created before CreatedBefore are returned.
type BillableQuery struct {
	OrgID          string
	CreatedBefore  time.Time
	AfterCreatedAt time.Time
	AfterID        string
	Limit          int
}
