package worker

import (
	"context"
	"fmt"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"

	"github.com/robfig/cron/v3"
)

// Sweeper runs a reconciliation sweep.
type Sweeper interface {
	Reconcile(ctx context.Context, scope string) (*models.ReconcileSummary, error)
}

// ReconcileScheduler runs a sweep of every org on a cron schedule. A sweep
// still running when the next one is due causes that run to be skipped.
type ReconcileScheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewReconcileScheduler(schedule string, sweeper Sweeper, logger logging.Logger) (*ReconcileScheduler, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	cronLogger := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	s := &ReconcileScheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(
				cron.Recover(cronLogger),
				cron.SkipIfStillRunning(cronLogger),
			),
		),
		sweeper: sweeper,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	return s, nil
}

// RunOnce sweeps every org with billable messages.
func (s *ReconcileScheduler) RunOnce() {
	summary, err := s.sweeper.Reconcile(s.ctx, models.ReconcileScopeAll)
	if err != nil {
		s.logger.WithError(err).Error("scheduled reconciliation failed")
		return
	}

	s.logger.WithFields(logging.Fields{
		"organizations": summary.Organizations,
		"charged":       summary.Charged,
		"failed":        summary.Failed,
		"locked_orgs":   len(summary.LockedOrgs),
	}).Info("scheduled reconciliation done")
}

func (s *ReconcileScheduler) Start() {
	s.cron.Start()
}

// Stop cancels a running sweep and waits for it to return.
func (s *ReconcileScheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
