package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories/memoryrepo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestProcessor_ChargesUntilFundsRunOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", 5)

	f.outbound(t, "org-1", "m-1", 1, 0)
	f.outbound(t, "org-1", "m-2", 2, time.Second)
	f.outbound(t, "org-1", "m-3", 3, 2*time.Second)

	want := []struct {
		id      string
		status  models.BillingStatus
		credits int64
		errMsg  *string
	}{
		{id: "m-1", status: models.BillingStatusCharged, credits: 1},
		{id: "m-2", status: models.BillingStatusCharged, credits: 2},
		{id: "m-3", status: models.BillingStatusFailed, errMsg: strptr(models.BillingErrorInsufficientFunds)},
	}

	for _, w := range want {
		out, err := f.processor.ProcessByID(ctx, w.id)
		require.NoError(t, err)
		assert.Equal(t, w.status, out.Status, w.id)

		msg := f.message(t, w.id)
		assert.Equal(t, w.status, msg.BillingStatus, w.id)
		assert.Equal(t, w.credits, msg.CostCredits, w.id)
		assert.Equal(t, w.errMsg, msg.BillingError, w.id)
		if w.status == models.BillingStatusCharged {
			require.NotNil(t, msg.ChargedAt)
			assert.Equal(t, w.credits*testTokensPerCredit, msg.TokensUsed)
		}
	}

	assert.True(t, decimal.NewFromInt(2).Equal(f.balance(t, "org-1")))
}

func TestProcessor_ProviderTokensRoundUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", 10)

	require.NoError(t, f.store.SaveMessage(ctx, models.Message{
		ID:             "m-1",
		OrgID:          "org-1",
		Direction:      models.DirectionOutbound,
		Content:        "short",
		ProviderTokens: 2500,
		CreatedAt:      baseTime,
	}))

	out, err := f.processor.ProcessByID(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), out.TokensUsed)
	assert.Equal(t, int64(3), out.CostCredits)
	assert.True(t, decimal.NewFromInt(7).Equal(f.balance(t, "org-1")))
}

func TestProcessor_Skips(t *testing.T) {
	tests := []struct {
		name string
		msg  models.Message
	}{
		{
			name: "inbound",
			msg:  models.Message{ID: "m-1", OrgID: "org-1", Direction: models.DirectionInbound, Content: "hello there"},
		},
		{
			name: "billing exempt",
			msg:  models.Message{ID: "m-1", OrgID: "org-1", Direction: models.DirectionOutbound, Content: "system notice", BillingExempt: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, 0)
			f.fund(t, "org-1", 5)
			require.NoError(t, f.store.SaveMessage(ctx, tt.msg))

			out, err := f.processor.ProcessByID(ctx, "m-1")
			require.NoError(t, err)
			assert.Equal(t, models.BillingStatusSkipped, out.Status)
			assert.Equal(t, models.BillingStatusSkipped, f.message(t, "m-1").BillingStatus)
			assert.True(t, decimal.NewFromInt(5).Equal(f.balance(t, "org-1")))

			out, err = f.processor.ProcessByID(ctx, "m-1")
			require.NoError(t, err)
			assert.True(t, out.Noop)
		})
	}
}

func TestProcessor_Noop(t *testing.T) {
	statuses := []models.BillingStatus{
		models.BillingStatusCharged,
		models.BillingStatusSkipped,
		models.BillingStatusReceived,
		models.BillingStatusFailed,
	}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, 0)
			f.fund(t, "org-1", 5)
			msg := f.outbound(t, "org-1", "m-1", 1, 0)
			msg.BillingStatus = status
			require.NoError(t, f.store.SaveMessage(ctx, *msg))

			out, err := f.processor.ProcessByID(ctx, "m-1")
			require.NoError(t, err)
			assert.True(t, out.Noop)
			assert.Equal(t, status, f.message(t, "m-1").BillingStatus)
			assert.True(t, decimal.NewFromInt(5).Equal(f.balance(t, "org-1")))
		})
	}
}

func TestProcessor_ReplayAfterLostStatusWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", 5)
	f.outbound(t, "org-1", "m-1", 2, 0)

	// Debit committed but the message row never left pending.
	_, err := f.ledger.Debit(ctx, "org-1", "m-1", decimal.NewFromInt(2), 2000)
	require.NoError(t, err)

	out, err := f.processor.ProcessByID(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, models.BillingStatusCharged, out.Status)
	assert.Equal(t, int64(2), out.CostCredits)

	msg := f.message(t, "m-1")
	assert.Equal(t, models.BillingStatusCharged, msg.BillingStatus)
	assert.Equal(t, int64(2000), msg.TokensUsed)
	assert.Equal(t, int64(2), msg.CostCredits)
	require.NotNil(t, msg.ChargedAt)

	assert.True(t, decimal.NewFromInt(3).Equal(f.balance(t, "org-1")))
}

func TestProcessor_IdempotentRepeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", 5)
	f.outbound(t, "org-1", "m-1", 1, 0)

	for i := 0; i < 3; i++ {
		_, err := f.processor.ProcessByID(ctx, "m-1")
		require.NoError(t, err)
	}

	assert.True(t, decimal.NewFromInt(4).Equal(f.balance(t, "org-1")))
	entries, err := f.ledger.History(ctx, "org-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestProcessor_TransientLeavesPending(t *testing.T) {
	ctx := context.Background()
	store := memoryrepo.New()
	logger := logging.NewDiscardLogger()
	ledger := NewLedgerService(failingWallets{}, nil, nil, "CREDITS", decimal.Zero, nil, logger)
	p := NewProcessor(store, ledger, testTokensPerCredit, nil, logger)

	require.NoError(t, store.SaveMessage(ctx, models.Message{ID: "m-1", OrgID: "org-1", Direction: models.DirectionOutbound, Content: "hi"}))

	_, err := p.ProcessByID(ctx, "m-1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	msg, err := store.GetMessage(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusUnset, msg.BillingStatus)
}

func TestProcessor_ProcessByID_NotFound(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.processor.ProcessByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.False(t, IsRetryable(err))
}

func TestProcessor_ZeroContentBilledAtFloor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", 5)
	require.NoError(t, f.store.SaveMessage(ctx, models.Message{ID: "m-1", OrgID: "org-1", Direction: models.DirectionOutbound}))

	out, err := f.processor.ProcessByID(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCharged, out.Status)
	assert.Equal(t, int64(1), out.TokensUsed)
	assert.Equal(t, int64(1), out.CostCredits)
}

func TestProcessor_InsufficientFundsAlertsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", 1)
	for i := 1; i <= 3; i++ {
		f.outbound(t, "org-1", fmt.Sprintf("m-%d", i), 3, time.Duration(i)*time.Second)
	}

	for i := 1; i <= 3; i++ {
		out, err := f.processor.ProcessByID(ctx, fmt.Sprintf("m-%d", i))
		require.NoError(t, err)
		assert.Equal(t, models.DebitReasonInsufficientFunds, out.Reason)
	}

	// A requeued retry while the alert is still open stays quiet too.
	_, err := f.store.Requeue(ctx, "m-1")
	require.NoError(t, err)
	_, err = f.processor.ProcessByID(ctx, "m-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.publisher.count(models.AlertTypeInsufficientFunds, true))

	alerts, err := f.alerter.Alerts(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTypeInsufficientFunds, alerts[0].AlertType)
	assert.True(t, alerts[0].IsActive)

	// A top-up clears the alert; the next rejection raises it again.
	f.fund(t, "org-1", 1)
	assert.Equal(t, 1, f.publisher.count(models.AlertTypeInsufficientFunds, false))

	f.outbound(t, "org-1", "m-4", 3, 4*time.Second)
	_, err = f.processor.ProcessByID(ctx, "m-4")
	require.NoError(t, err)
	assert.Equal(t, 2, f.publisher.count(models.AlertTypeInsufficientFunds, true))
}

// backlogRace marks a message failed right before the processor records its
// charge, as a concurrent reconciliation blocking the org would.
type backlogRace struct {
	*memoryrepo.Store
}

func (s backlogRace) MarkCharged(ctx context.Context, id string, tokens, credits int64, chargedAt time.Time) (bool, error) {
	if _, err := s.Store.MarkFailed(ctx, id, models.BillingErrorBacklogBlocked); err != nil {
		return false, err
	}
	return s.Store.MarkCharged(ctx, id, tokens, credits, chargedAt)
}

func TestProcessor_SettlesMessageFailedDuringCharge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", 5)
	f.outbound(t, "org-1", "m-1", 2, 0)

	p := NewProcessor(backlogRace{f.store}, f.ledger, testTokensPerCredit, nil, logging.NewDiscardLogger())

	out, err := p.ProcessByID(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCharged, out.Status)
	assert.Equal(t, int64(2), out.CostCredits)
	assert.Equal(t, int64(2000), out.TokensUsed)
	require.NotNil(t, out.ChargedAt)

	msg := f.message(t, "m-1")
	assert.Equal(t, models.BillingStatusCharged, msg.BillingStatus)
	assert.Equal(t, int64(2), msg.CostCredits)
	assert.Equal(t, int64(2000), msg.TokensUsed)
	assert.Nil(t, msg.BillingError)

	stats, err := f.store.GetStats(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalCreditsCharged)
	assert.True(t, decimal.NewFromInt(3).Equal(f.balance(t, "org-1")))
}

// chargedElsewhere settles the message from its ledger entry right before the
// processor records its own charge.
type chargedElsewhere struct {
	*memoryrepo.Store
}

func (s chargedElsewhere) MarkCharged(ctx context.Context, id string, tokens, credits int64, chargedAt time.Time) (bool, error) {
	if _, err := s.Store.MarkChargedFromEntry(ctx, id, &models.LedgerEntry{Tokens: tokens, Amount: decimal.NewFromInt(credits), CreatedAt: baseTime}); err != nil {
		return false, err
	}
	return s.Store.MarkCharged(ctx, id, tokens, credits, chargedAt)
}

func TestProcessor_ReportsStoredChargeWhenSettledElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.fund(t, "org-1", 5)
	f.outbound(t, "org-1", "m-1", 2, 0)

	p := NewProcessor(chargedElsewhere{f.store}, f.ledger, testTokensPerCredit, nil, logging.NewDiscardLogger())

	out, err := p.ProcessByID(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCharged, out.Status)
	require.NotNil(t, out.ChargedAt)
	assert.True(t, baseTime.Equal(*out.ChargedAt), "charge time comes from the stored row")
	assert.True(t, decimal.NewFromInt(3).Equal(f.balance(t, "org-1")))
}
