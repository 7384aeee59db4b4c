package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/R3E-Network/raffle/internal/gasbank"
)

func (s *Store) GetAccount(ctx context.Context, owner string) (gasbank.Account, error) {
	var account gasbank.Account
	err := s.conn(ctx).GetContext(ctx, &account, `
		SELECT id, owner, balance, frozen, created_at, updated_at
		FROM gasbank_accounts
		WHERE owner = $1
	`, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return gasbank.Account{}, gasbank.ErrAccountNotFound
	}
	if err != nil {
		return gasbank.Account{}, fmt.Errorf("get gasbank account: %w", err)
	}
	return account, nil
}

func (s *Store) UpsertAccount(ctx context.Context, account gasbank.Account) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO gasbank_accounts (id, owner, balance, frozen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET balance = EXCLUDED.balance,
		    frozen = EXCLUDED.frozen,
		    updated_at = EXCLUDED.updated_at
	`, account.ID, account.Owner, account.Balance, account.Frozen, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert gasbank account: %w", err)
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx gasbank.Transaction) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO gasbank_transactions (id, account_id, tx_type, amount, balance_after, reference_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tx.ID, tx.AccountID, tx.TxType, tx.Amount, tx.BalanceAfter, tx.ReferenceID, tx.Status, tx.CreatedAt)
	if isUniqueViolation(err) {
		return gasbank.ErrDuplicateTx
	}
	if err != nil {
		return fmt.Errorf("create gasbank transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransactionByReference(ctx context.Context, txType, referenceID string) (gasbank.Transaction, error) {
	var tx gasbank.Transaction
	err := s.conn(ctx).GetContext(ctx, &tx, `
		SELECT id, account_id, tx_type, amount, balance_after, reference_id, status, created_at
		FROM gasbank_transactions
		WHERE tx_type = $1 AND reference_id = $2
	`, txType, referenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return gasbank.Transaction{}, gasbank.ErrTxNotFound
	}
	if err != nil {
		return gasbank.Transaction{}, fmt.Errorf("get gasbank transaction: %w", err)
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, owner string, limit int) ([]gasbank.Transaction, error) {
	txs := []gasbank.Transaction{}
	err := s.conn(ctx).SelectContext(ctx, &txs, `
		SELECT t.id, t.account_id, t.tx_type, t.amount, t.balance_after, t.reference_id, t.status, t.created_at
		FROM gasbank_transactions t
		JOIN gasbank_accounts a ON a.id = t.account_id
		WHERE a.owner = $1
		ORDER BY t.created_at DESC
		LIMIT $2
	`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list gasbank transactions: %w", err)
	}
	return txs, nil
}
