package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerService_Debit_ConcurrentNeverOverdraws(t *testing.T) {
	const (
		workers = 50
		balance = 20
		cost    = 3
	)
	f := newFixture(t, 0)
	f.fund(t, "org-1", balance)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.ledger.Debit(context.Background(), "org-1", fmt.Sprintf("m-%d", i), decimal.NewFromInt(cost), 0)
			if !assert.NoError(t, err) {
				return
			}
			if res.Success {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, balance/cost, succeeded)
	assert.True(t, decimal.NewFromInt(balance-int64(succeeded)*cost).Equal(f.balance(t, "org-1")))

	check, err := f.ledger.VerifyBalance(context.Background(), "org-1")
	require.NoError(t, err)
	assert.True(t, check.Consistent)
}

func TestLedgerService_Debit_ConcurrentExactBalance(t *testing.T) {
	const (
		debits = 40
		cost   = 3
	)
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", debits*cost)

	var wg sync.WaitGroup
	for i := 0; i < debits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.ledger.Debit(ctx, "org-1", fmt.Sprintf("m-%d", i), decimal.NewFromInt(cost), 0)
			if assert.NoError(t, err) {
				assert.True(t, res.Success, "m-%d", i)
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, f.balance(t, "org-1").IsZero())

	entries, err := f.ledger.History(ctx, "org-1", maxHistoryLimit)
	require.NoError(t, err)
	debitEntries := 0
	for _, e := range entries {
		if e.Kind == models.EntryKindDebit {
			debitEntries++
		}
	}
	assert.Equal(t, debits, debitEntries)

	check, err := f.ledger.VerifyBalance(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, check.Consistent)
}

func TestLedgerService_Debit_Idempotent(t *testing.T) {
	const attempts = 20
	f := newFixture(t, 0)
	f.fund(t, "org-1", 10)

	var wg sync.WaitGroup
	results := make([]*models.DebitResult, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.ledger.Debit(context.Background(), "org-1", "m-1", decimal.NewFromInt(4), 4000)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	successes, replays := 0, 0
	for _, res := range results {
		require.NotNil(t, res)
		switch {
		case res.Success:
			successes++
		case res.Reason == models.DebitReasonAlreadyProcessed:
			replays++
			require.NotNil(t, res.Entry)
			assert.Equal(t, "m-1", *res.Entry.MessageID)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, replays)
	assert.True(t, decimal.NewFromInt(6).Equal(f.balance(t, "org-1")))
}

func TestLedgerService_Debit_Validation(t *testing.T) {
	f := newFixture(t, 0)

	tests := []struct {
		name      string
		orgID     string
		messageID string
		amount    decimal.Decimal
		wantErr   error
	}{
		{name: "missing org", messageID: "m-1", amount: decimal.NewFromInt(1), wantErr: ErrInvalidOrgID},
		{name: "missing message", orgID: "org-1", amount: decimal.NewFromInt(1), wantErr: ErrInvalidMessageID},
		{name: "zero amount", orgID: "org-1", messageID: "m-1", amount: decimal.Zero, wantErr: ErrInvalidAmount},
		{name: "negative amount", orgID: "org-1", messageID: "m-1", amount: decimal.NewFromInt(-2), wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Debit(context.Background(), tt.orgID, tt.messageID, tt.amount, 0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLedgerService_Debit_InsufficientWritesNothing(t *testing.T) {
	f := newFixture(t, 0)
	f.fund(t, "org-1", 2)

	res, err := f.ledger.Debit(context.Background(), "org-1", "m-1", decimal.NewFromInt(3), 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.DebitReasonInsufficientFunds, res.Reason)
	assert.True(t, decimal.NewFromInt(2).Equal(res.NewBalance))

	entries, err := f.ledger.History(context.Background(), "org-1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the funding credit")
}

func TestLedgerService_LowBalanceAlertOnCrossing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.fund(t, "org-1", 150)

	for i, amount := range []int64{30, 30, 30} {
		_, err := f.ledger.Debit(ctx, "org-1", fmt.Sprintf("m-%d", i), decimal.NewFromInt(amount), 0)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.publisher.count(models.AlertTypeLowBalance, true), "120 -> 90 crosses once, 90 -> 60 does not")

	alerts, err := f.alerter.Alerts(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].IsActive)
	assert.True(t, decimal.NewFromInt(90).Equal(alerts[0].CurrentBalance))

	_, err = f.ledger.Credit(ctx, "org-1", decimal.NewFromInt(20), "partial top-up")
	require.NoError(t, err)
	assert.Equal(t, 0, f.publisher.count(models.AlertTypeLowBalance, false), "80 is still below threshold")

	_, err = f.ledger.Credit(ctx, "org-1", decimal.NewFromInt(50), "top-up")
	require.NoError(t, err)
	assert.Equal(t, 1, f.publisher.count(models.AlertTypeLowBalance, false))

	alerts, err = f.alerter.Alerts(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, alerts[0].IsActive)
}

func TestLedgerService_Credit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.ledger.Credit(ctx, "org-1", decimal.Zero, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	res, err := f.ledger.Credit(ctx, "org-1", decimal.RequireFromString("12.5"), "manual")
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(res.PreviousBalance))
	assert.True(t, decimal.RequireFromString("12.5").Equal(res.NewBalance))
	require.NotNil(t, res.Entry)
	assert.Equal(t, models.EntryKindCredit, res.Entry.Kind)
	assert.Equal(t, "manual", res.Entry.Description)
}

func TestLedgerService_GetBalance_UnknownOrg(t *testing.T) {
	f := newFixture(t, 0)

	res, err := f.ledger.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(res.Balance))
	assert.Equal(t, "CREDITS", res.Currency)
}

func TestLedgerService_TransientErrors(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerService(failingWallets{}, nil, nil, "CREDITS", decimal.Zero, nil, logging.NewDiscardLogger())

	_, err := ledger.Debit(ctx, "org-1", "m-1", decimal.NewFromInt(1), 0)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, errConnection)

	_, err = ledger.Credit(ctx, "org-1", decimal.NewFromInt(1), "")
	assert.True(t, IsRetryable(err))

	_, err = ledger.GetBalance(ctx, "org-1")
	assert.True(t, IsRetryable(err))

	_, err = ledger.VerifyBalance(ctx, "org-1")
	assert.True(t, IsRetryable(err))
}

func TestLedgerService_History_Order(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", 10)

	_, err := f.ledger.Debit(ctx, "org-1", "m-1", decimal.NewFromInt(1), 1000)
	require.NoError(t, err)

	entries, err := f.ledger.History(ctx, "org-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.EntryKindDebit, entries[0].Kind)
	assert.Equal(t, models.EntryKindCredit, entries[1].Kind)
}
