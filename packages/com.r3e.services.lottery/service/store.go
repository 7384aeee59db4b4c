package lottery

import (
	"context"
	"math/big"
)

// Store defines the persistence interface for the raffle round.
type Store interface {
	// LoadRound returns the persisted round or ErrRoundNotFound.
	LoadRound(ctx context.Context) (Round, error)
	// SaveRound persists the round state and participants.
	SaveRound(ctx context.Context, round Round) error
	// SettleRound persists next and runs pay within one transaction.
	// A pay error must leave the previously persisted round untouched.
	SettleRound(ctx context.Context, next Round, pay func(ctx context.Context) error) error
}

// RandomnessProvider issues asynchronous randomness requests. Implementations must not
// deliver synchronously from RequestRandomWords.
type RandomnessProvider interface {
	RequestRandomWords(ctx context.Context, req RandomnessRequest) (RequestID, error)
}

// Consumer receives randomness deliveries.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, requestID RequestID, randomWords []*big.Int) error
}

// Payer transfers funds to a winner.
type Payer interface {
	Pay(ctx context.Context, payout Payout) error
}

// EventPublisher receives committed raffle events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventPublisherFunc allows a function to satisfy EventPublisher.
type EventPublisherFunc func(ctx context.Context, event Event) error

// Publish calls the underlying function.
func (f EventPublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
