package lottery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/raffle/internal/app/metrics"
)

var errZeroRequestID = errors.New("randomness provider returned request id 0")

// eligibility evaluates the upkeep conditions against now.
func (r Round) eligibility(now time.Time) (bool, UpkeepDiagnostic) {
	var diag UpkeepDiagnostic
	if now.Sub(r.LastResolution) < r.Interval {
		diag |= UpkeepIntervalNotElapsed
	}
	if len(r.Participants) == 0 {
		diag |= UpkeepNoParticipants
	}
	if r.Balance <= 0 {
		diag |= UpkeepNoBalance
	}
	if r.State != RaffleStateOpen {
		diag |= UpkeepNotOpen
	}
	return diag == 0, diag
}

// Eligibility reports whether a winner may be requested now and which conditions failed.
func (s *Service) Eligibility() (bool, UpkeepDiagnostic) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, diag := s.round.eligibility(s.now())
	metrics.RecordUpkeepCheck(ok)
	return ok, diag
}

// CheckUpkeep is the keeper-facing eligibility probe. performData carries the diagnostic byte.
func (s *Service) CheckUpkeep(_ context.Context, _ []byte) (bool, []byte, error) {
	ok, diag := s.Eligibility()
	return ok, diag.Bytes(), nil
}

// PerformUpkeep re-validates eligibility, requests randomness and locks the round.
// performData is ignored.
func (s *Service) PerformUpkeep(ctx context.Context, _ []byte) (RequestID, error) {
	evt, err := s.performUpkeep(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pubMu.Unlock()
	s.publish(ctx, evt)
	return evt.RequestID, nil
}

func (s *Service) performUpkeep(ctx context.Context) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if ok, diag := s.round.eligibility(now); !ok {
		return Event{}, &UpkeepNotNeededError{
			Balance:      s.round.Balance,
			Participants: len(s.round.Participants),
			State:        s.round.State,
			Diagnostic:   diag,
		}
	}

	id, err := s.vrf.RequestRandomWords(ctx, s.cfg.Request)
	if err != nil {
		return Event{}, fmt.Errorf("request randomness: %w", err)
	}
	if id == 0 {
		return Event{}, errZeroRequestID
	}

	next := s.round.Clone()
	next.State = RaffleStateCalculating
	next.PendingRequestID = id
	next.UpdatedAt = now.UTC()

	if err := s.store.SaveRound(ctx, next); err != nil {
		s.log.WithError(err).WithField("request_id", id).Error("persist calculating round failed; request orphaned")
		return Event{}, fmt.Errorf("persist calculating round: %w", err)
	}
	s.round = next
	metrics.RecordUpkeepPerformed()
	s.observe()

	s.log.WithFields(map[string]interface{}{
		"round":        next.Number,
		"request_id":   id,
		"participants": len(next.Participants),
		"balance":      next.Balance,
	}).Info("raffle winner requested")

	s.pubMu.Lock()
	return Event{
		Type:      EventWinnerRequested,
		Round:     next.Number,
		RequestID: id,
		Amount:    next.Balance,
		At:        now.UTC(),
	}, nil
}
