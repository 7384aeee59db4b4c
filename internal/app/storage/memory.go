package storage

import (
	"github.com/R3E-Network/raffle/internal/gasbank"
	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	vrf "github.com/R3E-Network/raffle/packages/com.r3e.services.vrf"
)

// NewMemory returns in-process stores. State is lost on restart.
//
// The memory ledger cannot roll back, so a payout that fails part way through its ledger
// writes is not undone. Payouts fail before writing in practice (frozen account, invalid
// payout), which keeps this adequate for development and tests.
func NewMemory() Stores {
	return Stores{
		Rounds:   lottery.NewMemoryStore(),
		Ledger:   gasbank.NewMemoryRepository(),
		Requests: vrf.NewMemoryStore(),
	}
}
