package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories/memoryrepo"
	"github.com/diogomanala/chatbot-saas-sub003/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orgID = "6f1c1c1e-2b1f-4c55-9a51-0d5f3f6a9c11"

type testServer struct {
	mux    *http.ServeMux
	store  *memoryrepo.Store
	ledger *services.LedgerService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memoryrepo.New()
	logger := logging.NewDiscardLogger()
	alerter := services.NewAlerter(store, nil, nil, logger)
	ledger := services.NewLedgerService(store, nil, alerter, "CREDITS", decimal.NewFromInt(100), nil, logger)
	processor := services.NewProcessor(store, ledger, 1000, nil, logger)
	reconciler := services.NewReconciler(store, processor, nil, services.ReconcilerConfig{}, nil, logger)
	stats := services.NewStatsService(store)

	mux := http.NewServeMux()
	NewBilling(mux, ledger, processor, reconciler, stats, alerter, logger)

	return &testServer{mux: mux, store: store, ledger: ledger}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) outbound(t *testing.T, id string, providerTokens int64) {
	t.Helper()
	require.NoError(t, s.store.SaveMessage(context.Background(), models.Message{
		ID:             id,
		OrgID:          orgID,
		Direction:      models.DirectionOutbound,
		Content:        "reply",
		ProviderTokens: providerTokens,
		CreatedAt:      time.Now().Add(-time.Minute),
	}))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestBilling_GetBalance(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "unknown org has zero balance", path: "/api/v1/orgs/" + orgID + "/balance", wantStatus: http.StatusOK},
		{name: "invalid org id", path: "/api/v1/orgs/not-a-uuid/balance", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			if tt.wantStatus == http.StatusOK {
				var resp models.BalanceResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.True(t, decimal.Zero.Equal(resp.Balance))
				assert.Equal(t, "CREDITS", resp.Currency)
			} else {
				body := decodeError(t, rec)
				assert.Equal(t, http.StatusText(tt.wantStatus), body["error"])
				assert.Equal(t, float64(tt.wantStatus), body["code"])
			}
		})
	}
}

func TestBilling_Credit(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{name: "credits wallet", body: map[string]interface{}{"amount": 250, "description": "invoice 42"}, wantStatus: http.StatusCreated},
		{name: "string amount", body: `{"amount": "10.5"}`, wantStatus: http.StatusCreated},
		{name: "zero amount", body: map[string]interface{}{"amount": 0}, wantStatus: http.StatusBadRequest},
		{name: "negative amount", body: map[string]interface{}{"amount": -5}, wantStatus: http.StatusBadRequest},
		{name: "invalid json", body: `{"amount":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/v1/orgs/"+orgID+"/credits", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus == http.StatusCreated {
				var resp models.CreditResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, orgID, resp.OrgID)
				assert.NotEmpty(t, resp.EntryID)
				assert.True(t, resp.NewBalance.IsPositive())
			}
		})
	}
}

func TestBilling_BillMessage(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.Credit(context.Background(), orgID, decimal.NewFromInt(3), "")
	require.NoError(t, err)

	s.outbound(t, "m-1", 2500)
	s.outbound(t, "m-2", 2500)

	rec := s.do(t, http.MethodPost, "/api/v1/messages/m-1/bill", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome models.BillingOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, models.BillingStatusCharged, outcome.Status)
	assert.Equal(t, int64(3), outcome.CostCredits)

	rec = s.do(t, http.MethodPost, "/api/v1/messages/m-2/bill", nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orgs/"+orgID+"/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTypeInsufficientFunds, alerts[0].AlertType)
	assert.True(t, alerts[0].IsActive)

	rec = s.do(t, http.MethodPost, "/api/v1/messages/missing/bill", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/messages/m-1/bill", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.True(t, outcome.Noop)
}

func TestBilling_Reconcile(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.Credit(context.Background(), orgID, decimal.NewFromInt(10), "")
	require.NoError(t, err)
	s.outbound(t, "m-1", 1000)
	s.outbound(t, "m-2", 1000)

	rec := s.do(t, http.MethodPost, "/api/v1/reconcile", models.ReconcileRequest{OrgID: orgID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary models.ReconcileSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Charged)
	assert.Equal(t, int64(2), summary.TotalCreditsCharged)

	rec = s.do(t, http.MethodPost, "/api/v1/reconcile", models.ReconcileRequest{OrgID: models.ReconcileScopeAll, Async: true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted models.ReconcileAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, models.StatusAccepted, accepted.Status)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing org", body: map[string]interface{}{}},
		{name: "bad org", body: map[string]interface{}{"org_id": "org-1"}},
		{name: "bad json", body: "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/reconcile", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestBilling_Reconcile_ReturnsPartialSummary(t *testing.T) {
	s := newTestServer(t)
	s.outbound(t, "m-1", 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(models.ReconcileRequest{OrgID: orgID}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", &buf).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary models.ReconcileSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Organizations)
	assert.Equal(t, 0, summary.Processed)
	assert.Contains(t, summary.Error, context.Canceled.Error())

	msg, err := s.store.GetMessage(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusUnset, msg.BillingStatus, "left for the next run")
}

func TestBilling_StatsAndLedger(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.Credit(context.Background(), orgID, decimal.NewFromInt(10), "")
	require.NoError(t, err)
	s.outbound(t, "m-1", 1000)

	rec := s.do(t, http.MethodPost, "/api/v1/messages/m-1/bill", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orgs/"+orgID+"/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.BillingStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Charged)
	assert.Equal(t, int64(1), stats.TotalCreditsCharged)

	rec = s.do(t, http.MethodGet, "/api/v1/orgs/"+orgID+"/ledger?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger models.LedgerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ledger))
	require.Len(t, ledger.Entries, 1)
	assert.Equal(t, models.EntryKindDebit, ledger.Entries[0].Kind)

	rec = s.do(t, http.MethodGet, "/api/v1/orgs/"+orgID+"/ledger?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orgs/"+orgID+"/ledger/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var check models.BalanceCheck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.True(t, check.Consistent)
}

func TestBilling_Health(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
