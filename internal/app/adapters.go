package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	automation "github.com/R3E-Network/raffle/packages/com.r3e.services.automation/service"
	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	vrf "github.com/R3E-Network/raffle/packages/com.r3e.services.vrf"
)

// randomnessProvider lets the engine request words from the coordinator.
type randomnessProvider struct {
	coord *vrf.Coordinator
}

func (p randomnessProvider) RequestRandomWords(ctx context.Context, req lottery.RandomnessRequest) (lottery.RequestID, error) {
	id, err := p.coord.RequestRandomWords(ctx, vrf.RequestParams{
		KeyHash:          req.KeyHash,
		SubscriptionID:   req.SubscriptionID,
		MinConfirmations: req.MinConfirmations,
		CallbackGasLimit: req.CallbackGasLimit,
		NumWords:         req.NumWords,
	})
	return lottery.RequestID(id), err
}

// randomnessConsumer delivers coordinator output to the engine.
type randomnessConsumer struct {
	raffle *lottery.Service
}

func (c randomnessConsumer) FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error {
	return c.raffle.FulfillRandomWords(ctx, lottery.RequestID(requestID), words)
}

// raffleUpkeep exposes the engine to the keeper.
func raffleUpkeep(raffle *lottery.Service) automation.UpkeepFuncs {
	return automation.UpkeepFuncs{
		Check: raffle.CheckUpkeep,
		Perform: func(ctx context.Context, performData []byte) error {
			_, err := raffle.PerformUpkeep(ctx, performData)
			if errors.Is(err, lottery.ErrUpkeepNotNeeded) {
				return fmt.Errorf("%w: %w", automation.ErrNotNeeded, err)
			}
			return err
		},
		Pending: func() (time.Time, bool) {
			round := raffle.Snapshot()
			if round.State != lottery.RaffleStateCalculating {
				return time.Time{}, false
			}
			return round.UpdatedAt, true
		},
	}
}
