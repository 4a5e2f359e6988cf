package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Worker struct {
	*components
	partitionManager *worker.PartitionManager
	scheduler        *worker.ReconcileScheduler
	metricsServer    *http.Server
}

func NewWorker() (*Worker, error) {
	c, err := newComponents()
	if err != nil {
		return nil, err
	}
	w := &Worker{components: c}

	if len(w.cfg.Kafka.Brokers) == 0 {
		w.Close()
		return nil, errors.New("KAFKA_BROKERS is required for the billing worker")
	}

	// Partition Manager
	w.partitionManager = worker.NewPartitionManager(w.cfg, w.processor, w.logger)

	w.scheduler, err = worker.NewReconcileScheduler(w.cfg.Billing.ReconcileSchedule, w.reconciler, w.logger)
	if err != nil {
		w.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	w.metricsServer = &http.Server{
		Addr:              w.cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return w, nil
}

// Run consumes message events and runs scheduled sweeps until SIGINT or
// SIGTERM.
func (w *Worker) Run() error {
	defer w.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := w.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.WithError(err).Error("metrics server error")
		}
	}()

	w.scheduler.Start()
	defer w.scheduler.Stop()

	err := w.partitionManager.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := w.metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		w.logger.WithError(shutdownErr).Warn("metrics server shutdown error")
	}

	if err != nil {
		return fmt.Errorf("partition manager error: %w", err)
	}
	w.logger.Info("worker stopped")
	return nil
}
