package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/transport/http/handler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	*components
	httpServer *http.Server
}

// @title Billing API
// @version 1.0
// @description Per-organization credit wallets and message billing.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http
func NewAPI() (*API, error) {
	c, err := newComponents()
	if err != nil {
		return nil, err
	}
	a := &API{components: c}

	// Initialize mux and handlers
	mux := http.NewServeMux()

	handler.NewBilling(mux, a.ledger, a.processor, a.reconciler, a.stats, a.alerter, a.logger)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	// Initialize http server
	a.httpServer = &http.Server{
		Addr:         a.cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return a, nil
}

// Run serves until SIGINT or SIGTERM, then shuts the server down gracefully.
func (a *API) Run() error {
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", a.cfg.Server.Port).Info("starting HTTP server")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}
	return nil
}
