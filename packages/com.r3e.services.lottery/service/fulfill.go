package lottery

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/R3E-Network/raffle/internal/app/metrics"
)

// FulfillRandomWords resolves the pending round: picks words[0] mod N as the winner,
// resets the round and pays the full balance. The reset and the payment commit together.
func (s *Service) FulfillRandomWords(ctx context.Context, requestID RequestID, randomWords []*big.Int) error {
	evt, err := s.fulfill(ctx, requestID, randomWords)
	if err != nil {
		return err
	}
	defer s.pubMu.Unlock()
	s.publish(ctx, evt)
	return nil
}

func (s *Service) fulfill(ctx context.Context, requestID RequestID, words []*big.Int) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestID == 0 || s.round.State != RaffleStateCalculating || requestID != s.round.PendingRequestID {
		metrics.RecordCallbackRejected("unknown_request")
		s.log.WithField("request_id", requestID).
			WithField("pending_request_id", s.round.PendingRequestID).
			Warn("rejected randomness for unknown request")
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownRequest, requestID)
	}
	if len(words) == 0 || words[0] == nil {
		metrics.RecordCallbackRejected("invalid_randomness")
		return Event{}, ErrInvalidRandomness
	}
	n := len(s.round.Participants)
	if n == 0 {
		return Event{}, fmt.Errorf("round %d is calculating without participants", s.round.Number)
	}

	index := new(big.Int).Mod(words[0], big.NewInt(int64(n))).Int64()
	winner := s.round.Participants[index]
	prize := s.round.Balance
	now := s.now().UTC()

	next := Round{
		Number:         s.round.Number + 1,
		State:          RaffleStateOpen,
		Participants:   []string{},
		EntryFee:       s.round.EntryFee,
		Interval:       s.round.Interval,
		LastResolution: now,
		RecentWinner:   winner,
		UpdatedAt:      now,
	}
	payout := Payout{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Round:     s.round.Number,
		Winner:    winner,
		Amount:    prize,
		PaidAt:    now,
	}

	var payErr error
	err := s.store.SettleRound(ctx, next, func(ctx context.Context) error {
		payErr = s.payer.Pay(ctx, payout)
		return payErr
	})
	if payErr != nil {
		metrics.RecordPayoutFailure()
		s.log.WithError(payErr).WithFields(map[string]interface{}{
			"round":      s.round.Number,
			"request_id": requestID,
			"winner":     winner,
			"amount":     prize,
		}).Error("raffle payout failed; round left calculating")
		return Event{}, fmt.Errorf("%w: pay %s: %w", ErrTransferFailed, winner, payErr)
	}
	if err != nil {
		return Event{}, fmt.Errorf("settle round: %w", err)
	}

	settled := s.round.Number
	s.round = next
	metrics.RecordWinner(prize)
	s.observe()

	s.log.WithFields(map[string]interface{}{
		"round":      settled,
		"request_id": requestID,
		"winner":     winner,
		"index":      index,
		"amount":     prize,
	}).Info("raffle winner picked")

	s.pubMu.Lock()
	return Event{
		Type:      EventWinnerPicked,
		Round:     settled,
		RequestID: requestID,
		Winner:    winner,
		Amount:    prize,
		At:        now,
	}, nil
}
