// Package storage groups the persistence backends the raffle runs on.
package storage

import (
	"github.com/R3E-Network/raffle/internal/gasbank"
	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	vrf "github.com/R3E-Network/raffle/packages/com.r3e.services.vrf"
)

// Stores bundles the persistence each component needs.
type Stores struct {
	// Rounds persists the raffle round. SettleRound on this store must make the ledger
	// writes performed by its pay callback atomic with the round write.
	Rounds   lottery.Store
	Ledger   gasbank.Repository
	Requests vrf.Store
}
