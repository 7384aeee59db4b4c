package gasbank

import (
	"errors"
	"time"
)

const (
	// Transaction types
	TxTypePayout = "raffle_payout"

	TxStatusCompleted = "completed"
)

var (
	ErrAccountNotFound = errors.New("gasbank account not found")
	ErrAccountFrozen   = errors.New("gasbank account frozen")
	ErrTxNotFound      = errors.New("gasbank transaction not found")
	ErrDuplicateTx     = errors.New("gasbank transaction reference already used")
	ErrInvalidPayout   = errors.New("invalid payout")
)

// Account is a balance held for one participant identity.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Owner     string    `json:"owner" db:"owner"`
	Balance   int64     `json:"balance" db:"balance"`
	Frozen    bool      `json:"frozen" db:"frozen"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is a ledger entry against an account.
type Transaction struct {
	ID           string    `json:"id" db:"id"`
	AccountID    string    `json:"account_id" db:"account_id"`
	TxType       string    `json:"tx_type" db:"tx_type"`
	Amount       int64     `json:"amount" db:"amount"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	ReferenceID  string    `json:"reference_id" db:"reference_id"`
	Status       string    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
