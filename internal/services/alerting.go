package services

import (
	"context"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/metrics"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/shopspring/decimal"
)

// Alerter records balance alerts and publishes them. Failures are logged and
// never propagate to the billing operation that triggered the alert.
type Alerter struct {
	store     AlertStore
	publisher AlertPublisher
	metrics   *metrics.Metrics
	logger    logging.Logger
	now       func() time.Time
}

func NewAlerter(store AlertStore, publisher AlertPublisher, m *metrics.Metrics, logger logging.Logger) *Alerter {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Alerter{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// LowBalance fires when a debit moves the balance from at-or-above threshold
// to below it.
func (a *Alerter) LowBalance(ctx context.Context, orgID string, balance, threshold decimal.Decimal, currency string) {
	a.emit(ctx, models.AlertEvent{
		OrgID:          orgID,
		AlertType:      models.AlertTypeLowBalance,
		Threshold:      threshold,
		CurrentBalance: balance,
		Currency:       currency,
		Active:         true,
	})
}

// InsufficientFunds fires when a debit is rejected. Only the first rejection
// after a top-up is published.
func (a *Alerter) InsufficientFunds(ctx context.Context, orgID string, balance, required, threshold decimal.Decimal, currency string) {
	a.emit(ctx, models.AlertEvent{
		OrgID:          orgID,
		AlertType:      models.AlertTypeInsufficientFunds,
		Threshold:      threshold,
		CurrentBalance: balance,
		Required:       required,
		Currency:       currency,
		Active:         true,
	})
}

// Recovered clears alerts after a top-up. The low balance alert is cleared
// only once the balance is back at or above threshold.
func (a *Alerter) Recovered(ctx context.Context, orgID string, balance, threshold decimal.Decimal, currency string) {
	types := []string{models.AlertTypeInsufficientFunds}
	if !balance.LessThan(threshold) {
		types = append(types, models.AlertTypeLowBalance)
	}

	for _, alertType := range types {
		changed, err := a.store.DeactivateAlert(ctx, orgID, alertType, balance)
		if err != nil {
			a.logger.WithError(err).WithFields(logging.Fields{
				"org_id":     orgID,
				"alert_type": alertType,
			}).Warn("failed to deactivate alert")
			continue
		}
		if !changed {
			continue
		}
		a.publish(ctx, models.AlertEvent{
			OrgID:          orgID,
			AlertType:      alertType,
			Threshold:      threshold,
			CurrentBalance: balance,
			Currency:       currency,
			Active:         false,
			Timestamp:      a.now().UTC(),
		})
	}
}

// Alerts returns the org's alert rows.
func (a *Alerter) Alerts(ctx context.Context, orgID string) ([]models.Alert, error) {
	return a.store.ListAlerts(ctx, orgID)
}

// emit stores the alert and publishes it only when the row became active, so
// repeated triggers while an alert is open stay quiet.
func (a *Alerter) emit(ctx context.Context, event models.AlertEvent) {
	now := a.now().UTC()
	event.Timestamp = now

	log := a.logger.WithFields(logging.Fields{
		"org_id":     event.OrgID,
		"alert_type": event.AlertType,
		"balance":    event.CurrentBalance.String(),
		"threshold":  event.Threshold.String(),
	})

	activated, err := a.store.UpsertAlert(ctx, models.Alert{
		OrgID:          event.OrgID,
		AlertType:      event.AlertType,
		Threshold:      event.Threshold,
		CurrentBalance: event.CurrentBalance,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		// Without the stored state the alert cannot be deduplicated; publish it.
		log.WithError(err).Warn("failed to store alert")
		activated = true
	}
	if !activated {
		log.Debug("alert already active")
		return
	}

	a.metrics.Alert(event.AlertType)
	log.Warn("balance alert")

	a.publish(ctx, event)
}

func (a *Alerter) publish(ctx context.Context, event models.AlertEvent) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishAlert(ctx, event); err != nil {
		a.logger.WithError(err).WithField("org_id", event.OrgID).Warn("failed to publish alert")
	}
}
