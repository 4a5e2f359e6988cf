package postgresrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories"
	"github.com/jmoiron/sqlx"
)

// Nullable billing columns are read back as zero values.
const messageColumns = `
	id, org_id, chatbot_id, device_id, direction, content,
	COALESCE(provider_tokens, 0) AS provider_tokens,
	billing_exempt,
	COALESCE(tokens_used, 0) AS tokens_used,
	COALESCE(cost_credits, 0) AS cost_credits,
	COALESCE(billing_status, '') AS billing_status,
	billing_error, created_at, charged_at`

const (
	whereChargeable = `(billing_status IS NULL OR billing_status = 'pending')`
	whereBillable   = `direction = 'outbound' AND (billing_status IS NULL OR billing_status IN ('pending', 'failed'))`
)

type MessageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	err := r.db.GetContext(ctx, &msg, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

func (r *MessageRepo) MarkCharged(ctx context.Context, id string, tokens, credits int64, chargedAt time.Time) (bool, error) {
	query := `
		UPDATE messages
		SET billing_status = 'charged', tokens_used = $2, cost_credits = $3, charged_at = $4, billing_error = NULL
		WHERE id = $1 AND ` + whereChargeable
	return r.exec(ctx, query, id, tokens, credits, chargedAt)
}

// MarkChargedFromEntry settles a message whose debit already exists. Fields
// already set on the message are kept.
func (r *MessageRepo) MarkChargedFromEntry(ctx context.Context, id string, entry *models.LedgerEntry) (bool, error) {
	query := `
		UPDATE messages
		SET billing_status = 'charged',
			tokens_used = COALESCE(NULLIF(tokens_used, 0), $2),
			cost_credits = COALESCE(NULLIF(cost_credits, 0), $3),
			charged_at = COALESCE(charged_at, $4),
			billing_error = NULL
		WHERE id = $1 AND ` + whereChargeable
	return r.exec(ctx, query, id, entry.Tokens, entry.Amount.Ceil().IntPart(), entry.CreatedAt)
}

func (r *MessageRepo) MarkSkipped(ctx context.Context, id string) (bool, error) {
	query := `UPDATE messages SET billing_status = 'skipped' WHERE id = $1 AND ` + whereChargeable
	return r.exec(ctx, query, id)
}

func (r *MessageRepo) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	query := `UPDATE messages SET billing_status = 'failed', billing_error = $2 WHERE id = $1 AND ` + whereChargeable
	return r.exec(ctx, query, id, reason)
}

// Requeue moves a failed message back to pending.
func (r *MessageRepo) Requeue(ctx context.Context, id string) (bool, error) {
	query := `UPDATE messages SET billing_status = 'pending', billing_error = NULL WHERE id = $1 AND billing_status = 'failed'`
	return r.exec(ctx, query, id)
}

func (r *MessageRepo) ListBillable(ctx context.Context, q models.BillableQuery) ([]models.Message, error) {
	createdBefore := q.CreatedBefore
	if createdBefore.IsZero() {
		createdBefore = time.Now()
	}

	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE org_id = $1 AND ` + whereBillable + `
			AND created_at < $2
			AND (created_at, id) > ($3, $4)
		ORDER BY created_at, id
		LIMIT $5`

	messages := make([]models.Message, 0, q.Limit)
	err := r.db.SelectContext(ctx, &messages, query, q.OrgID, createdBefore, q.AfterCreatedAt, q.AfterID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list billable messages: %w", err)
	}
	return messages, nil
}

func (r *MessageRepo) ListBillableOrgs(ctx context.Context, createdBefore time.Time) ([]string, error) {
	if createdBefore.IsZero() {
		createdBefore = time.Now()
	}

	query := `SELECT DISTINCT org_id FROM messages WHERE ` + whereBillable + ` AND created_at < $1 ORDER BY org_id`

	orgs := make([]string, 0)
	if err := r.db.SelectContext(ctx, &orgs, query, createdBefore); err != nil {
		return nil, fmt.Errorf("failed to list billable orgs: %w", err)
	}
	return orgs, nil
}

func (r *MessageRepo) GetStats(ctx context.Context, orgID string) (*models.BillingStats, error) {
	stats := models.BillingStats{OrgID: orgID}
	query := `
		SELECT
			COUNT(*) AS total_messages,
			COUNT(*) FILTER (WHERE billing_status IS NULL OR billing_status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE billing_status = 'charged') AS charged,
			COUNT(*) FILTER (WHERE billing_status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE billing_status = 'skipped') AS skipped,
			COALESCE(SUM(cost_credits) FILTER (WHERE billing_status = 'charged'), 0) AS total_credits_charged,
			COALESCE(SUM(tokens_used) FILTER (WHERE billing_status = 'charged'), 0) AS total_tokens_used
		FROM messages
		WHERE org_id = $1
	`
	if err := r.db.GetContext(ctx, &stats, query, orgID); err != nil {
		return nil, fmt.Errorf("failed to get billing stats: %w", err)
	}
	return &stats, nil
}

func (r *MessageRepo) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
