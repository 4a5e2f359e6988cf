package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("LOG_LEVEL", "error")
}

func TestNewComponents_MemoryDriver(t *testing.T) {
	memoryEnv(t)

	c, err := newComponents()
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.ledger.Credit(ctx, "org-1", decimal.NewFromInt(10), "top-up")
	require.NoError(t, err)

	balance, err := c.ledger.GetBalance(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(10)))

	summary, err := c.reconciler.Reconcile(ctx, "all")
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}

func TestNewComponents_InvalidConfig(t *testing.T) {
	memoryEnv(t)
	t.Setenv("STORAGE_DRIVER", "sqlite")

	_, err := newComponents()
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestNewWorker_RequiresBrokers(t *testing.T) {
	memoryEnv(t)

	_, err := NewWorker()
	assert.ErrorContains(t, err, "KAFKA_BROKERS")
}

func TestNewAPI_MemoryDriver(t *testing.T) {
	memoryEnv(t)
	t.Setenv("SERVER_PORT", ":0")

	a, err := NewAPI()
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, ":0", a.httpServer.Addr)
	assert.NotNil(t, a.httpServer.Handler)
}
