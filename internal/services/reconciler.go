package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/metrics"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 500
	defaultConcurrency = 4
	defaultLockTTL     = 10 * time.Minute
	lockPrefix         = "billing:reconcile:"
)

// ReconcilerConfig tunes a reconciliation sweep.
type ReconcilerConfig struct {
	BatchSize   int
	Concurrency int
	LockTTL     time.Duration
}

// Reconciler sweeps pending and failed messages back through the processor.
// Messages of one org are billed oldest first and sequentially; orgs run in
// parallel.
type Reconciler struct {
	messages  MessageStore
	processor *Processor
	locker    Locker
	cfg       ReconcilerConfig
	metrics   *metrics.Metrics
	logger    logging.Logger
	now       func() time.Time
}

// NewReconciler wires a reconciler. locker may be nil.
func NewReconciler(
	messages MessageStore,
	processor *Processor,
	locker Locker,
	cfg ReconcilerConfig,
	m *metrics.Metrics,
	logger logging.Logger,
) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Reconciler{
		messages:  messages,
		processor: processor,
		locker:    locker,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Reconcile sweeps one org, or every org with billable messages when scope is
// "all". Only messages created before the sweep started are considered. On
// cancellation the partial summary is returned with ctx.Err().
func (r *Reconciler) Reconcile(ctx context.Context, scope string) (*models.ReconcileSummary, error) {
	if scope == "" {
		return nil, ErrInvalidOrgID
	}

	started := r.now()
	cutoff := started.UTC()
	summary := &models.ReconcileSummary{Scope: scope}

	orgs := []string{scope}
	if scope == models.ReconcileScopeAll {
		var err error
		orgs, err = r.messages.ListBillableOrgs(ctx, cutoff)
		if err != nil {
			r.metrics.ReconcileRun("error", r.now().Sub(started))
			return summary, fmt.Errorf("%w: list billable orgs: %w", ErrTransient, err)
		}
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	for _, orgID := range orgs {
		orgID := orgID
		g.Go(func() error {
			orgSummary, err := r.reconcileOrg(ctx, orgID, cutoff)

			mu.Lock()
			summary.Add(orgSummary)
			mu.Unlock()

			return err
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.ReconcileRun(status, r.now().Sub(started))

	r.logger.WithFields(logging.Fields{
		"scope":             scope,
		"organizations":     summary.Organizations,
		"processed":         summary.Processed,
		"charged":           summary.Charged,
		"failed":            summary.Failed,
		"skipped":           summary.Skipped,
		"already_processed": summary.AlreadyProcessed,
		"errors":            summary.Errors,
		"credits":           summary.TotalCreditsCharged,
	}).Info("reconciliation finished")

	return summary, err
}

func (r *Reconciler) reconcileOrg(ctx context.Context, orgID string, cutoff time.Time) (models.ReconcileSummary, error) {
	s := models.ReconcileSummary{Organizations: 1}
	log := r.logger.WithField("org_id", orgID)

	if err := ctx.Err(); err != nil {
		return s, err
	}

	if r.locker != nil {
		key := lockPrefix + orgID
		token, ok, err := r.locker.TryLock(ctx, key, r.cfg.LockTTL)
		switch {
		case err != nil:
			log.WithError(err).Warn("reconcile lock unavailable, continuing unlocked")
		case !ok:
			s.LockedOrgs = []string{orgID}
			log.Info("org is being reconciled elsewhere, skipping")
			return s, nil
		default:
			defer func() {
				unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := r.locker.Unlock(unlockCtx, key, token); err != nil {
					log.WithError(err).Warn("failed to release reconcile lock")
				}
			}()
		}
	}

	query := models.BillableQuery{
		OrgID:         orgID,
		CreatedBefore: cutoff,
		Limit:         r.cfg.BatchSize,
	}
	blocked := false

	for {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		page, err := r.messages.ListBillable(ctx, query)
		if err != nil {
			s.Errors++
			return s, fmt.Errorf("%w: list billable messages for %s: %w", ErrTransient, orgID, err)
		}

		for i := range page {
			if err := ctx.Err(); err != nil {
				return s, err
			}
			msg := &page[i]

			if blocked {
				r.block(ctx, msg, &s)
				continue
			}

			outcome, err := r.process(ctx, msg)
			if err != nil {
				if ctx.Err() != nil {
					return s, ctx.Err()
				}
				s.Errors++
				log.WithError(err).WithField("message_id", msg.ID).Warn("message reconciliation failed")
				continue
			}

			tally(&s, outcome)

			// The ledger has already raised the insufficient funds alert.
			if outcome.Reason == models.DebitReasonInsufficientFunds {
				blocked = true
			}
		}

		if len(page) < query.Limit {
			break
		}
		last := page[len(page)-1]
		query.AfterCreatedAt = last.CreatedAt
		query.AfterID = last.ID
	}

	return s, nil
}

// process requeues a failed message before billing it.
func (r *Reconciler) process(ctx context.Context, msg *models.Message) (*models.BillingOutcome, error) {
	if msg.BillingStatus == models.BillingStatusFailed {
		changed, err := r.messages.Requeue(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: requeue message %s: %w", ErrTransient, msg.ID, err)
		}
		if !changed {
			return &models.BillingOutcome{MessageID: msg.ID, OrgID: msg.OrgID, Status: msg.BillingStatus, Noop: true}, nil
		}
		requeued := *msg
		requeued.BillingStatus = models.BillingStatusPending
		requeued.BillingError = nil
		msg = &requeued
	}

	return r.processor.Process(ctx, msg)
}

// block marks a message behind an insufficient funds rejection as failed
// without touching the ledger. Already failed messages stay as they are.
func (r *Reconciler) block(ctx context.Context, msg *models.Message, s *models.ReconcileSummary) {
	if msg.BillingStatus != models.BillingStatusFailed {
		if _, err := r.messages.MarkFailed(ctx, msg.ID, models.BillingErrorBacklogBlocked); err != nil {
			s.Errors++
			r.logger.WithError(err).WithField("message_id", msg.ID).Warn("failed to mark backlog message")
			return
		}
	}
	s.Processed++
	s.Failed++
}

func tally(s *models.ReconcileSummary, outcome *models.BillingOutcome) {
	if outcome.Noop {
		return
	}
	s.Processed++

	switch {
	case outcome.Replayed:
		s.AlreadyProcessed++
	case outcome.Status == models.BillingStatusCharged:
		s.Charged++
		s.TotalCreditsCharged += outcome.CostCredits
	case outcome.Status == models.BillingStatusFailed:
		s.Failed++
	case outcome.Status == models.BillingStatusSkipped:
		s.Skipped++
	}
}
