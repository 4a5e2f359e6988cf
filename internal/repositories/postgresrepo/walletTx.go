package postgresrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/diogomanala/chatbot-saas-sub003/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type TxWalletRepo struct {
	tx *sqlx.Tx
}

func NewTxWalletRepo(tx *sqlx.Tx) *TxWalletRepo {
	return &TxWalletRepo{tx: tx}
}

func (r *TxWalletRepo) Commit() error {
	return r.tx.Commit()
}

// Rollback is a no-op after Commit.
func (r *TxWalletRepo) Rollback() error {
	err := r.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (r *TxWalletRepo) commit() error {
	if err := r.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LockWallet creates the wallet on first use and locks its row.
func (r *TxWalletRepo) LockWallet(ctx context.Context, orgID, currency string, threshold decimal.Decimal) (*models.Wallet, error) {
	if err := r.EnsureWallet(ctx, orgID, currency, threshold); err != nil {
		return nil, err
	}
	return r.LockWalletForUpdate(ctx, orgID)
}

func (r *TxWalletRepo) EnsureWallet(ctx context.Context, orgID, currency string, threshold decimal.Decimal) error {
	query := `
		INSERT INTO wallets (org_id, balance, currency, low_balance_threshold)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (org_id) DO NOTHING
	`
	if _, err := r.tx.ExecContext(ctx, query, orgID, currency, threshold); err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (r *TxWalletRepo) LockWalletForUpdate(ctx context.Context, orgID string) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT org_id, balance, currency, low_balance_threshold, created_at, updated_at FROM wallets WHERE org_id = $1 FOR UPDATE`
	err := r.tx.GetContext(ctx, &wallet, query, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet not found: %s", orgID)
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &wallet, nil
}

// GetDebitEntry returns the debit recorded for messageID, or nil.
func (r *TxWalletRepo) GetDebitEntry(ctx context.Context, messageID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE message_id = $1 AND kind = 'debit'`
	err := r.tx.GetContext(ctx, &entry, query, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get debit entry: %w", err)
	}
	return &entry, nil
}

// InsertEntry writes entry and fills its created_at. It reports false when a
// debit for the same message already exists.
func (r *TxWalletRepo) InsertEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	query := `
		INSERT INTO ledger_entries (id, org_id, message_id, kind, amount, tokens, balance_after, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) WHERE kind = 'debit' DO NOTHING
		RETURNING created_at
	`
	err := r.tx.GetContext(ctx, &entry.CreatedAt, query,
		entry.ID,
		entry.OrgID,
		entry.MessageID,
		entry.Kind,
		entry.Amount,
		entry.Tokens,
		entry.BalanceAfter,
		entry.Description,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return true, nil
}

// AddBalance applies delta and returns the new balance.
func (r *TxWalletRepo) AddBalance(ctx context.Context, orgID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	query := `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE org_id = $2 RETURNING balance`
	err := r.tx.GetContext(ctx, &balance, query, delta, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("wallet not found: %s", orgID)
		}
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}
	return balance, nil
}
