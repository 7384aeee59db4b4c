package lottery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/raffle/internal/app/metrics"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Errors
var (
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrRoundNotOpen        = errors.New("raffle not open")
	ErrUpkeepNotNeeded     = errors.New("upkeep not needed")
	ErrUnknownRequest      = errors.New("unknown randomness request")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrInvalidRandomness   = errors.New("randomness delivery carries no words")
	ErrInvalidParticipant  = errors.New("participant identity is required")
	ErrParticipantIndex    = errors.New("participant index out of range")
	ErrBalanceOverflow     = errors.New("round balance overflow")
	ErrRoundNotFound       = errors.New("round not found")
	ErrInvalidConfig       = errors.New("invalid raffle config")
)

// UpkeepNotNeededError reports why an upkeep was refused.
type UpkeepNotNeededError struct {
	Balance      int64
	Participants int
	State        RaffleState
	Diagnostic   UpkeepDiagnostic
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("%s: balance=%d participants=%d state=%s (%s)",
		ErrUpkeepNotNeeded, e.Balance, e.Participants, e.State, e.Diagnostic)
}

// Unwrap allows errors.Is(err, ErrUpkeepNotNeeded).
func (e *UpkeepNotNeededError) Unwrap() error {
	return ErrUpkeepNotNeeded
}

// Config holds the immutable parameters of a raffle instance.
type Config struct {
	EntryFee int64
	Interval time.Duration
	Request  RandomnessRequest
}

// Normalize fills request defaults and validates the fee and interval.
func (c Config) Normalize() (Config, error) {
	if c.EntryFee <= 0 {
		return c, fmt.Errorf("%w: entry fee must be positive", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return c, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	c.Request.KeyHash = strings.TrimSpace(c.Request.KeyHash)
	if c.Request.MinConfirmations == 0 {
		c.Request.MinConfirmations = DefaultMinConfirmations
	}
	if c.Request.CallbackGasLimit == 0 {
		c.Request.CallbackGasLimit = DefaultCallbackGasLimit
	}
	if c.Request.NumWords == 0 {
		c.Request.NumWords = DefaultNumWords
	}
	return c, nil
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher attaches an event publisher.
func WithPublisher(pub EventPublisher) Option {
	return func(s *Service) {
		s.events = pub
	}
}

// Service is the raffle engine. All transitions are serialized. A committed transition
// takes pubMu before releasing mu and holds it until its event is published, so events
// leave in commit order.
type Service struct {
	mu     sync.RWMutex
	pubMu  sync.Mutex
	round  Round
	cfg    Config
	store  Store
	vrf    RandomnessProvider
	payer  Payer
	events EventPublisher
	log    *logger.Logger
	now    func() time.Time
}

// New constructs the engine, restoring the persisted round when one exists.
func New(ctx context.Context, cfg Config, store Store, vrf RandomnessProvider, payer Payer, log *logger.Logger, opts ...Option) (*Service, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if store == nil || vrf == nil || payer == nil {
		return nil, fmt.Errorf("%w: store, randomness provider and payer are required", ErrInvalidConfig)
	}
	if log == nil {
		log = logger.NewDefault("lottery")
	}

	s := &Service{
		cfg:   cfg,
		store: store,
		vrf:   vrf,
		payer: payer,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	round, err := store.LoadRound(ctx)
	switch {
	case errors.Is(err, ErrRoundNotFound):
		now := s.now().UTC()
		round = Round{
			Number:         1,
			State:          RaffleStateOpen,
			Participants:   []string{},
			EntryFee:       cfg.EntryFee,
			Interval:       cfg.Interval,
			LastResolution: now,
			UpdatedAt:      now,
		}
		if err := store.SaveRound(ctx, round); err != nil {
			return nil, fmt.Errorf("persist initial round: %w", err)
		}
		log.WithFields(map[string]interface{}{
			"entry_fee": cfg.EntryFee,
			"interval":  cfg.Interval.String(),
		}).Info("raffle initialised")
	case err != nil:
		return nil, fmt.Errorf("load round: %w", err)
	default:
		if round.EntryFee != cfg.EntryFee || round.Interval != cfg.Interval {
			return nil, fmt.Errorf("%w: persisted fee=%d interval=%s differ from configured fee=%d interval=%s",
				ErrInvalidConfig, round.EntryFee, round.Interval, cfg.EntryFee, cfg.Interval)
		}
		log.WithFields(map[string]interface{}{
			"round":        round.Number,
			"state":        round.State,
			"participants": len(round.Participants),
			"request_id":   round.PendingRequestID,
		}).Info("raffle restored")
	}

	s.round = round
	s.observe()
	return s, nil
}

// Enter adds participant to the current round after paying at least the entry fee.
// The whole payment is added to the balance. Underpayment is reported before any
// other rejection, then a round that is not open, then a blank participant.
func (s *Service) Enter(ctx context.Context, participant string, amount int64) error {
	evt, err := s.enter(ctx, participant, amount)
	if err != nil {
		return err
	}
	defer s.pubMu.Unlock()
	s.publish(ctx, evt)
	return nil
}

func (s *Service) enter(ctx context.Context, participant string, amount int64) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount < s.round.EntryFee {
		metrics.RecordEntryRejected("insufficient_payment")
		return Event{}, fmt.Errorf("%w: paid %d, entry fee is %d", ErrInsufficientPayment, amount, s.round.EntryFee)
	}
	if s.round.State != RaffleStateOpen {
		metrics.RecordEntryRejected("not_open")
		return Event{}, ErrRoundNotOpen
	}
	participant = strings.TrimSpace(participant)
	if participant == "" {
		metrics.RecordEntryRejected("invalid_participant")
		return Event{}, ErrInvalidParticipant
	}
	if s.round.Balance > math.MaxInt64-amount {
		metrics.RecordEntryRejected("overflow")
		return Event{}, ErrBalanceOverflow
	}

	now := s.now().UTC()
	next := s.round.Clone()
	next.Participants = append(next.Participants, participant)
	next.Balance += amount
	next.UpdatedAt = now

	if err := s.store.SaveRound(ctx, next); err != nil {
		return Event{}, fmt.Errorf("persist entry: %w", err)
	}
	s.round = next
	metrics.RecordEntry()
	s.observe()

	s.log.WithFields(map[string]interface{}{
		"round":        next.Number,
		"participant":  participant,
		"amount":       amount,
		"participants": len(next.Participants),
	}).Debug("raffle entered")

	s.pubMu.Lock()
	return Event{
		Type:        EventEntered,
		Round:       next.Number,
		Participant: participant,
		Amount:      amount,
		At:          now,
	}, nil
}

// State returns the current raffle state.
func (s *Service) State() RaffleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round.State
}

// EntryFee returns the configured per-entry fee.
func (s *Service) EntryFee() int64 {
	return s.cfg.EntryFee
}

// Interval returns the configured resolution interval.
func (s *Service) Interval() time.Duration {
	return s.cfg.Interval
}

// NumberOfParticipants returns the participant count of the current round.
func (s *Service) NumberOfParticipants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.round.Participants)
}

// Participant returns the participant at index in entry order.
func (s *Service) Participant(index int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.round.Participants) {
		return "", fmt.Errorf("%w: %d", ErrParticipantIndex, index)
	}
	return s.round.Participants[index], nil
}

// RecentWinner returns the last paid winner, empty before the first payout.
func (s *Service) RecentWinner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round.RecentWinner
}

// LastResolution returns the time of the last payout or construction.
func (s *Service) LastResolution() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round.LastResolution
}

// Balance returns the funds held for the current round.
func (s *Service) Balance() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round.Balance
}

// PendingRequest returns the outstanding request id while calculating.
func (s *Service) PendingRequest() (RequestID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round.PendingRequestID, s.round.PendingRequestID != 0
}

// Snapshot returns a deep copy of the current round.
func (s *Service) Snapshot() Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round.Clone()
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if s.events == nil {
		return
	}
	evt.ID = uuid.NewString()
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.WithError(err).
			WithField("event", evt.Type).
			WithField("round", evt.Round).
			Warn("publish raffle event failed")
	}
}

// observe must be called with s.mu held.
func (s *Service) observe() {
	metrics.SetRound(s.round.State.Code(), len(s.round.Participants), s.round.Balance)
}
