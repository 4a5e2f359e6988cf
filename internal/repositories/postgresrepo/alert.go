package postgresrepo

import (
	"context"
	"fmt"

	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type AlertRepo struct {
	db *sqlx.DB
}

func NewAlertRepo(db *sqlx.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// UpsertAlert activates the (org, type) alert row, creating it when missing.
// It reports whether the row went from missing or inactive to active; an
// already active row only has its balance refreshed.
func (r *AlertRepo) UpsertAlert(ctx context.Context, alert models.Alert) (bool, error) {
	insert := `
		INSERT INTO billing_alerts (org_id, alert_type, threshold, current_balance, is_active, created_at, updated_at)
		VALUES (:org_id, :alert_type, :threshold, :current_balance, TRUE, :created_at, :updated_at)
		ON CONFLICT (org_id, alert_type) DO NOTHING
	`
	activated, err := r.namedExec(ctx, insert, alert)
	if err != nil || activated {
		return activated, err
	}

	activate := `
		UPDATE billing_alerts
		SET is_active = TRUE,
			threshold = :threshold,
			current_balance = :current_balance,
			created_at = :created_at,
			updated_at = :updated_at
		WHERE org_id = :org_id AND alert_type = :alert_type AND NOT is_active
	`
	activated, err = r.namedExec(ctx, activate, alert)
	if err != nil || activated {
		return activated, err
	}

	refresh := `
		UPDATE billing_alerts
		SET threshold = :threshold,
			current_balance = :current_balance,
			updated_at = :updated_at
		WHERE org_id = :org_id AND alert_type = :alert_type
	`
	if _, err := r.namedExec(ctx, refresh, alert); err != nil {
		return false, err
	}
	return false, nil
}

func (r *AlertRepo) DeactivateAlert(ctx context.Context, orgID, alertType string, balance decimal.Decimal) (bool, error) {
	query := `
		UPDATE billing_alerts
		SET is_active = FALSE, current_balance = $3, updated_at = NOW()
		WHERE org_id = $1 AND alert_type = $2 AND is_active
	`
	result, err := r.db.ExecContext(ctx, query, orgID, alertType, balance)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate alert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *AlertRepo) ListAlerts(ctx context.Context, orgID string) ([]models.Alert, error) {
	query := `
		SELECT org_id, alert_type, threshold, current_balance, is_active, created_at, updated_at
		FROM billing_alerts
		WHERE org_id = $1
		ORDER BY alert_type
	`
	alerts := make([]models.Alert, 0)
	if err := r.db.SelectContext(ctx, &alerts, query, orgID); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

func (r *AlertRepo) namedExec(ctx context.Context, query string, alert models.Alert) (bool, error) {
	result, err := r.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		return false, fmt.Errorf("failed to upsert alert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
