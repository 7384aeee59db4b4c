package gasbank

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu           sync.RWMutex
	accounts     map[string]Account // by owner
	transactions []Transaction
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]Account)}
}

func (r *MemoryRepository) GetAccount(_ context.Context, owner string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[owner]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (r *MemoryRepository) UpsertAccount(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.Owner] = account
	return nil
}

func (r *MemoryRepository) CreateTransaction(_ context.Context, tx Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.transactions {
		if existing.TxType == tx.TxType && existing.ReferenceID == tx.ReferenceID {
			return ErrDuplicateTx
		}
	}
	r.transactions = append(r.transactions, tx)
	return nil
}

func (r *MemoryRepository) GetTransactionByReference(_ context.Context, txType, referenceID string) (Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tx := range r.transactions {
		if tx.TxType == txType && tx.ReferenceID == referenceID {
			return tx, nil
		}
	}
	return Transaction{}, ErrTxNotFound
}

func (r *MemoryRepository) ListTransactions(_ context.Context, owner string, limit int) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[owner]
	if !ok {
		return []Transaction{}, nil
	}
	out := make([]Transaction, 0)
	for _, tx := range r.transactions {
		if tx.AccountID == account.ID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
