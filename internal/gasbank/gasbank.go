// Package gasbank keeps the balances that raffle prizes are paid into.
//
// Payout flow:
//  1. The engine settles a round and hands the payout to Manager.Pay.
//  2. Pay credits the winner's account and records a ledger entry keyed by the
//     randomness request id, so a retried settlement never pays twice.
//  3. A frozen account refuses the credit, which the engine reports as a failed transfer.
package gasbank

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Repository persists accounts and transactions. Implementations that support it run
// inside the transaction carried by ctx.
type Repository interface {
	GetAccount(ctx context.Context, owner string) (Account, error)
	UpsertAccount(ctx context.Context, account Account) error
	CreateTransaction(ctx context.Context, tx Transaction) error
	GetTransactionByReference(ctx context.Context, txType, referenceID string) (Transaction, error)
	ListTransactions(ctx context.Context, owner string, limit int) ([]Transaction, error)
}

// Manager handles all balance operations.
type Manager struct {
	repo Repository
	log  *logger.Logger
	mu   sync.Mutex
	now  func() time.Time
}

// NewManager creates a new balance manager.
func NewManager(repo Repository, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("gasbank")
	}
	return &Manager{repo: repo, log: log, now: time.Now}
}

// PayoutReference is the ledger reference used for a payout.
func PayoutReference(requestID lottery.RequestID) string {
	return "raffle-request-" + strconv.FormatUint(uint64(requestID), 10)
}

// Pay credits the winner. Repeating a payout for the same request is a no-op.
func (m *Manager) Pay(ctx context.Context, payout lottery.Payout) error {
	winner := strings.TrimSpace(payout.Winner)
	if winner == "" || payout.Amount < 0 || payout.RequestID == 0 {
		return fmt.Errorf("%w: winner=%q amount=%d request=%d", ErrInvalidPayout, payout.Winner, payout.Amount, payout.RequestID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref := PayoutReference(payout.RequestID)
	if existing, err := m.repo.GetTransactionByReference(ctx, TxTypePayout, ref); err == nil {
		m.log.WithField("reference", ref).WithField("tx_id", existing.ID).Info("payout already recorded")
		return nil
	} else if !errors.Is(err, ErrTxNotFound) {
		return fmt.Errorf("lookup payout: %w", err)
	}

	now := m.now().UTC()
	account, err := m.repo.GetAccount(ctx, winner)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		account = Account{ID: uuid.NewString(), Owner: winner, CreatedAt: now}
	case err != nil:
		return fmt.Errorf("get account: %w", err)
	}
	if account.Frozen {
		return fmt.Errorf("%w: %s", ErrAccountFrozen, winner)
	}

	account.Balance += payout.Amount
	account.UpdatedAt = now
	if err := m.repo.UpsertAccount(ctx, account); err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	if err := m.repo.CreateTransaction(ctx, Transaction{
		ID:           uuid.NewString(),
		AccountID:    account.ID,
		TxType:       TxTypePayout,
		Amount:       payout.Amount,
		BalanceAfter: account.Balance,
		ReferenceID:  ref,
		Status:       TxStatusCompleted,
		CreatedAt:    now,
	}); err != nil {
		return fmt.Errorf("record payout: %w", err)
	}

	m.log.WithFields(map[string]interface{}{
		"winner":     winner,
		"amount":     payout.Amount,
		"round":      payout.Round,
		"request_id": payout.RequestID,
	}).Info("payout credited")
	return nil
}

// GetAccount returns the account held for owner.
func (m *Manager) GetAccount(ctx context.Context, owner string) (Account, error) {
	return m.repo.GetAccount(ctx, strings.TrimSpace(owner))
}

// SetFrozen freezes or unfreezes owner's account, creating it when missing.
func (m *Manager) SetFrozen(ctx context.Context, owner string, frozen bool) (Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Account{}, errors.New("owner is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	account, err := m.repo.GetAccount(ctx, owner)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		account = Account{ID: uuid.NewString(), Owner: owner, CreatedAt: now}
	case err != nil:
		return Account{}, err
	}
	account.Frozen = frozen
	account.UpdatedAt = now
	if err := m.repo.UpsertAccount(ctx, account); err != nil {
		return Account{}, err
	}
	m.log.WithField("owner", owner).WithField("frozen", frozen).Info("gasbank account freeze updated")
	return account, nil
}

// GetTransactions returns recent transactions for owner, newest first.
func (m *Manager) GetTransactions(ctx context.Context, owner string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return m.repo.ListTransactions(ctx, strings.TrimSpace(owner), limit)
}
