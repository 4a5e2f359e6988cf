package app

import (
	"context"
	"fmt"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/broker"
	"github.com/diogomanala/chatbot-saas-sub003/internal/cache"
	"github.com/diogomanala/chatbot-saas-sub003/internal/config"
	"github.com/diogomanala/chatbot-saas-sub003/internal/database"
	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/metrics"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories/kafkarepo"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories/memoryrepo"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories/postgresrepo"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories/redisrepo"
	"github.com/diogomanala/chatbot-saas-sub003/internal/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// components holds everything both binaries share.
type components struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *prometheus.Registry

	ledger     *services.LedgerService
	processor  *services.Processor
	reconciler *services.Reconciler
	stats      *services.StatsService
	alerter    *services.Alerter

	closers []func() error
}

func newComponents() (*components, error) {
	c := new(components)

	// Initialize config
	c.cfg = config.New()
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c.logger = logging.NewLogger(c.cfg.Log.Level)

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(c.registry)

	var (
		wallets  services.WalletStore
		messages services.MessageStore
		alerts   services.AlertStore
	)

	switch c.cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		// Connect to database
		db, err := database.NewPostgres(c.cfg.Postgres.URL, c.cfg.Postgres.MaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("database connection error: %w", err)
		}
		c.closers = append(c.closers, db.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = database.Migrate(ctx, db)
		cancel()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("database migration error: %w", err)
		}

		wallets = postgresrepo.NewWalletRepo(db)
		messages = postgresrepo.NewMessageRepo(db)
		alerts = postgresrepo.NewAlertRepo(db)
	default:
		c.logger.Warn("using in-memory storage, data is lost on restart")
		store := memoryrepo.New()
		wallets, messages, alerts = store, store, store
	}

	var (
		balanceCache services.BalanceCache
		locker       services.Locker
	)
	if c.cfg.Redis.Addr != "" {
		// Connect to cache
		redisClient, err := cache.NewRedis(c.cfg.Redis)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("cache connection error: %w", err)
		}
		c.closers = append(c.closers, redisClient.Close)

		balanceCache = redisrepo.NewWalletRepository(redisClient)
		locker = redisrepo.NewLockRepository(redisClient)
	}

	var publisher services.AlertPublisher
	if len(c.cfg.Kafka.Brokers) > 0 {
		// Connect to broker
		writer, err := broker.NewKafkaWriter(c.cfg.Kafka)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("broker connection error: %w", err)
		}
		c.closers = append(c.closers, writer.Close)

		publisher = kafkarepo.NewAlertRepository(writer)
	}

	// Initialize services
	billing := c.cfg.Billing
	c.alerter = services.NewAlerter(alerts, publisher, m, c.logger)
	c.ledger = services.NewLedgerService(wallets, balanceCache, c.alerter, billing.Currency, billing.LowBalanceThreshold, m, c.logger)
	c.processor = services.NewProcessor(messages, c.ledger, billing.TokensPerCredit, m, c.logger)
	c.reconciler = services.NewReconciler(messages, c.processor, locker, services.ReconcilerConfig{
		BatchSize:   billing.ReconcileBatchSize,
		Concurrency: billing.ReconcileConcurrency,
		LockTTL:     billing.ReconcileLockTTL,
	}, m, c.logger)
	c.stats = services.NewStatsService(messages)

	return c, nil
}

// Close releases connections in reverse order of creation.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.WithError(err).Warn("failed to close resource")
		}
	}
	c.closers = nil
}
