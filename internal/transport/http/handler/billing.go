package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	_ "github.com/diogomanala/chatbot-saas-sub003/docs"
	"github.com/diogomanala/chatbot-saas-sub003/internal/logging"
	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/diogomanala/chatbot-saas-sub003/internal/services"

	"github.com/go-playground/validator"
	httpSwagger "github.com/swaggo/http-swagger"
)

const asyncReconcileTimeout = 30 * time.Minute

type Billing struct {
	ledger     *services.LedgerService
	processor  *services.Processor
	reconciler *services.Reconciler
	stats      *services.StatsService
	alerter    *services.Alerter
	logger     logging.Logger
	validate   *validator.Validate
}

func NewBilling(
	mux *http.ServeMux,
	ledger *services.LedgerService,
	processor *services.Processor,
	reconciler *services.Reconciler,
	stats *services.StatsService,
	alerter *services.Alerter,
	logger logging.Logger,
) *Billing {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	h := &Billing{
		ledger:     ledger,
		processor:  processor,
		reconciler: reconciler,
		stats:      stats,
		alerter:    alerter,
		logger:     logger,
		validate:   validator.New(),
	}

	mux.HandleFunc("GET /api/v1/orgs/{orgId}/balance", h.getBalance)
	mux.HandleFunc("POST /api/v1/orgs/{orgId}/credits", h.creditWallet)
	mux.HandleFunc("GET /api/v1/orgs/{orgId}/stats", h.getStats)
	mux.HandleFunc("GET /api/v1/orgs/{orgId}/ledger", h.getLedger)
	mux.HandleFunc("GET /api/v1/orgs/{orgId}/ledger/verify", h.verifyLedger)
	mux.HandleFunc("GET /api/v1/orgs/{orgId}/alerts", h.getAlerts)
	mux.HandleFunc("POST /api/v1/reconcile", h.reconcile)
	mux.HandleFunc("POST /api/v1/messages/{messageId}/bill", h.billMessage)
	mux.HandleFunc("GET /health", h.health)

	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	return h
}

// @Summary Get organization balance
// @Description Retrieves the current credit balance of an organization
// @Tags wallets
// @Produce json
// @Param orgId path string true "Organization ID (UUID)"
// @Success 200 {object} models.BalanceResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /orgs/{orgId}/balance [get]
func (h *Billing) getBalance(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), orgID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get balance")
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

// @Summary Credit an organization wallet
// @Description Adds credits to an organization wallet and records a credit ledger entry
// @Tags wallets
// @Accept json
// @Produce json
// @Param orgId path string true "Organization ID (UUID)"
// @Param credit body models.CreditRequestBody true "Credit Request"
// @Success 201 {object} models.CreditResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /orgs/{orgId}/credits [post]
func (h *Billing) creditWallet(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	var req models.CreditRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	if !req.Amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}

	res, err := h.ledger.Credit(r.Context(), orgID, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, err, "Failed to credit wallet")
		return
	}

	response := models.CreditResponse{
		OrgID:      orgID,
		NewBalance: res.NewBalance,
		Currency:   res.Currency,
	}
	if res.Entry != nil {
		response.EntryID = res.Entry.ID
	}

	h.writeJSON(w, http.StatusCreated, response)
}

// @Summary Get billing statistics
// @Description Aggregated message billing counters for an organization
// @Tags billing
// @Produce json
// @Param orgId path string true "Organization ID (UUID)"
// @Success 200 {object} models.BillingStats
// @Failure 400 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /orgs/{orgId}/stats [get]
func (h *Billing) getStats(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	stats, err := h.stats.GetStats(r.Context(), orgID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get billing stats")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// @Summary Get ledger history
// @Description Newest-first ledger entries of an organization
// @Tags wallets
// @Produce json
// @Param orgId path string true "Organization ID (UUID)"
// @Param limit query int false "Maximum number of entries (default 50, max 500)"
// @Success 200 {object} models.LedgerResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /orgs/{orgId}/ledger [get]
func (h *Billing) getLedger(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "Limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.ledger.History(r.Context(), orgID, limit)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get ledger history")
		return
	}

	h.writeJSON(w, http.StatusOK, models.LedgerResponse{OrgID: orgID, Entries: entries})
}

// @Summary Verify ledger balance
// @Description Checks that the wallet balance equals credits minus debits
// @Tags wallets
// @Produce json
// @Param orgId path string true "Organization ID (UUID)"
// @Success 200 {object} models.BalanceCheck
// @Failure 400 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /orgs/{orgId}/ledger/verify [get]
func (h *Billing) verifyLedger(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	check, err := h.ledger.VerifyBalance(r.Context(), orgID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to verify ledger")
		return
	}

	h.writeJSON(w, http.StatusOK, check)
}

// @Summary List balance alerts
// @Tags billing
// @Produce json
// @Param orgId path string true "Organization ID (UUID)"
// @Success 200 {array} models.Alert
// @Failure 400 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /orgs/{orgId}/alerts [get]
func (h *Billing) getAlerts(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	alerts, err := h.alerter.Alerts(r.Context(), orgID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list alerts: %v", err))
		return
	}

	h.writeJSON(w, http.StatusOK, alerts)
}

// @Summary Reconcile message billing
// @Description Sweeps pending and failed outbound messages of one organization, or of all of them with org_id "all"
// @Tags billing
// @Accept json
// @Produce json
// @Param reconcile body models.ReconcileRequest true "Reconcile Request"
// @Success 200 {object} models.ReconcileSummary "Summary; error is set when the run stopped early"
// @Success 202 {object} models.ReconcileAcceptedResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /reconcile [post]
func (h *Billing) reconcile(w http.ResponseWriter, r *http.Request) {
	var req models.ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	if req.OrgID != models.ReconcileScopeAll {
		if err := h.validate.Var(req.OrgID, "uuid"); err != nil {
			h.writeError(w, http.StatusBadRequest, `org_id must be a UUID or "all"`)
			return
		}
	}

	if req.Async {
		go h.reconcileAsync(context.WithoutCancel(r.Context()), req.OrgID)

		h.writeJSON(w, http.StatusAccepted, models.ReconcileAcceptedResponse{
			Scope:   req.OrgID,
			Status:  models.StatusAccepted,
			Message: models.MessageReconcileQueued,
		})
		return
	}

	summary, err := h.reconciler.Reconcile(r.Context(), req.OrgID)
	if err != nil {
		if summary == nil || summary.Organizations == 0 {
			h.writeServiceError(w, err, "Reconciliation failed")
			return
		}
		// Work done before the failure is committed; the next run resumes from it.
		h.logger.WithError(err).WithField("scope", req.OrgID).Warn("reconciliation stopped early")
		summary.Error = err.Error()
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Billing) reconcileAsync(ctx context.Context, scope string) {
	ctx, cancel := context.WithTimeout(ctx, asyncReconcileTimeout)
	defer cancel()

	if _, err := h.reconciler.Reconcile(ctx, scope); err != nil {
		h.logger.WithError(err).WithField("scope", scope).Error("async reconciliation failed")
	}
}

// @Summary Bill a message
// @Description Runs the billing processor for one message and returns the outcome
// @Tags billing
// @Produce json
// @Param messageId path string true "Message ID"
// @Success 200 {object} models.BillingOutcome
// @Failure 402 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /messages/{messageId}/bill [post]
func (h *Billing) billMessage(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("messageId")

	if err := h.validate.Var(messageID, "required"); err != nil {
		h.writeError(w, http.StatusBadRequest, "Message ID is required")
		return
	}

	outcome, err := h.processor.ProcessByID(r.Context(), messageID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to bill message")
		return
	}

	if outcome.Reason == models.DebitReasonInsufficientFunds {
		h.writeError(w, http.StatusPaymentRequired,
			fmt.Sprintf("Insufficient funds: message requires %d credits", outcome.CostCredits))
		return
	}

	h.writeJSON(w, http.StatusOK, outcome)
}

func (h *Billing) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Billing) orgID(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := r.PathValue("orgId")

	if err := h.validate.Var(orgID, "required,uuid"); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid organization ID format")
		return "", false
	}
	return orgID, true
}

func (h *Billing) writeServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidOrgID),
		errors.Is(err, services.ErrInvalidMessageID):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrMessageNotFound):
		h.writeError(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), services.IsRetryable(err):
		h.logger.WithError(err).Warn(message)
		h.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("%s: %v", message, err))
	default:
		h.logger.WithError(err).Error(message)
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", message, err))
	}
}

func (h *Billing) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeError sends the JSON error body shared by every endpoint
func (h *Billing) writeError(w http.ResponseWriter, statusCode int, message string) {
	errorResponse := map[string]interface{}{
		"error":   http.StatusText(statusCode),
		"message": message,
		"code":    statusCode,
	}

	h.writeJSON(w, statusCode, errorResponse)
}
