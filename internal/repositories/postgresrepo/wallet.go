package postgresrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/diogomanala/chatbot-saas-sub003/internal/repositories"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const entryColumns = `id, org_id, message_id, kind, amount, tokens, balance_after, description, metadata, created_at`

type WalletRepo struct {
	db *sqlx.DB
}

func NewWalletRepo(db *sqlx.DB) *WalletRepo {
	return &WalletRepo{db: db}
}

// BeginTx starts a transaction and returns a transactional repository
func (r *WalletRepo) BeginTx(ctx context.Context) (*TxWalletRepo, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return NewTxWalletRepo(tx), nil
}

func (r *WalletRepo) GetWallet(ctx context.Context, orgID string) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT org_id, balance, currency, low_balance_threshold, created_at, updated_at FROM wallets WHERE org_id = $1`
	err := r.db.GetContext(ctx, &wallet, query, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

// Credit adds funds and records a credit entry in one transaction.
func (r *WalletRepo) Credit(ctx context.Context, req models.CreditRequest) (*models.CreditResult, error) {
	txRepo, err := r.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer txRepo.Rollback()

	wallet, err := txRepo.LockWallet(ctx, req.OrgID, req.Currency, req.Threshold)
	if err != nil {
		return nil, err
	}

	entry := models.LedgerEntry{
		ID:           uuid.New().String(),
		OrgID:        req.OrgID,
		Kind:         models.EntryKindCredit,
		Amount:       req.Amount,
		BalanceAfter: wallet.Balance.Add(req.Amount),
		Description:  req.Description,
	}
	if _, err := txRepo.InsertEntry(ctx, &entry); err != nil {
		return nil, err
	}

	newBalance, err := txRepo.AddBalance(ctx, req.OrgID, req.Amount)
	if err != nil {
		return nil, err
	}

	if err := txRepo.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &models.CreditResult{
		PreviousBalance: wallet.Balance,
		NewBalance:      newBalance,
		Threshold:       wallet.LowBalanceThreshold,
		Currency:        wallet.Currency,
		Entry:           &entry,
	}, nil
}

// Debit takes funds for one message. The wallet row lock serializes debits
// of the same org; the partial unique index on debit message ids makes a
// second debit for the same message impossible.
func (r *WalletRepo) Debit(ctx context.Context, req models.DebitRequest) (*models.DebitResult, error) {
	txRepo, err := r.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer txRepo.Rollback()

	wallet, err := txRepo.LockWallet(ctx, req.OrgID, req.Currency, req.Threshold)
	if err != nil {
		return nil, err
	}

	res := &models.DebitResult{
		PreviousBalance: wallet.Balance,
		NewBalance:      wallet.Balance,
		Threshold:       wallet.LowBalanceThreshold,
		Currency:        wallet.Currency,
	}

	existing, err := txRepo.GetDebitEntry(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		res.Reason = models.DebitReasonAlreadyProcessed
		res.Entry = existing
		return res, txRepo.commit()
	}

	if wallet.Balance.LessThan(req.Amount) {
		res.Reason = models.DebitReasonInsufficientFunds
		return res, txRepo.commit()
	}

	messageID := req.MessageID
	entry := models.LedgerEntry{
		ID:           uuid.New().String(),
		OrgID:        req.OrgID,
		MessageID:    &messageID,
		Kind:         models.EntryKindDebit,
		Amount:       req.Amount,
		Tokens:       req.Tokens,
		BalanceAfter: wallet.Balance.Sub(req.Amount),
	}
	inserted, err := txRepo.InsertEntry(ctx, &entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := txRepo.GetDebitEntry(ctx, req.MessageID)
		if err != nil {
			return nil, err
		}
		res.Reason = models.DebitReasonAlreadyProcessed
		res.Entry = existing
		return res, txRepo.commit()
	}

	newBalance, err := txRepo.AddBalance(ctx, req.OrgID, req.Amount.Neg())
	if err != nil {
		return nil, err
	}

	if err := txRepo.commit(); err != nil {
		return nil, err
	}

	res.Success = true
	res.NewBalance = newBalance
	res.Entry = &entry
	return res, nil
}

func (r *WalletRepo) ListEntries(ctx context.Context, orgID string, limit int) ([]models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE org_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	entries := make([]models.LedgerEntry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, orgID, limit); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

func (r *WalletRepo) SumEntries(ctx context.Context, orgID string) (*models.LedgerTotals, error) {
	var totals models.LedgerTotals
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'credit'), 0) AS credits,
			COALESCE(SUM(amount) FILTER (WHERE kind = 'debit'), 0) AS debits
		FROM ledger_entries
		WHERE org_id = $1
	`
	if err := r.db.GetContext(ctx, &totals, query, orgID); err != nil {
		return nil, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return &totals, nil
}
