package vrf

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/raffle/internal/app/metrics"
	"github.com/R3E-Network/raffle/pkg/logger"
)

var (
	ErrInvalidParams    = errors.New("invalid vrf request params")
	ErrNotRedeliverable = errors.New("vrf request is not in failed state")
	ErrNoConsumer       = errors.New("vrf consumer not configured")
)

// Consumer receives random words for a request.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, requestID uint64, randomWords []*big.Int) error
}

// ConsumerFunc allows a function to satisfy Consumer.
type ConsumerFunc func(ctx context.Context, requestID uint64, randomWords []*big.Int) error

// FulfillRandomWords calls the underlying function.
func (f ConsumerFunc) FulfillRandomWords(ctx context.Context, requestID uint64, randomWords []*big.Int) error {
	return f(ctx, requestID, randomWords)
}

// Config tunes delivery timing.
type Config struct {
	// FulfilDelay holds a request back before it is answered.
	FulfilDelay time.Duration
	// PollInterval is how often Run looks for due requests.
	PollInterval time.Duration
}

// Coordinator issues randomness requests and delivers proofs to the consumer
// asynchronously from Run.
type Coordinator struct {
	cfg      Config
	signer   *Signer
	store    Store
	consumer Consumer
	log      *logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	nextID uint64
	due    map[uint64]time.Time
	wake   chan struct{}

	deliverMu sync.Mutex
}

// New constructs a coordinator.
func New(cfg Config, signer *Signer, store Store, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewDefault("vrf")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.FulfilDelay < 0 {
		cfg.FulfilDelay = 0
	}
	return &Coordinator{
		cfg:    cfg,
		signer: signer,
		store:  store,
		log:    log,
		now:    time.Now,
		nextID: 1,
		due:    make(map[uint64]time.Time),
		wake:   make(chan struct{}, 1),
	}
}

// WithConsumer sets the contract that receives random words.
func (c *Coordinator) WithConsumer(consumer Consumer) {
	c.consumer = consumer
}

// WithClock overrides the time source.
func (c *Coordinator) WithClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Start restores the id sequence and the pending queue from the store.
func (c *Coordinator) Start(ctx context.Context) error {
	latest, err := c.store.LatestRequestID(ctx)
	if err != nil {
		return fmt.Errorf("load latest request id: %w", err)
	}
	pending, err := c.store.ListRequestsByStatus(ctx, RequestStatusPending)
	if err != nil {
		return fmt.Errorf("load pending requests: %w", err)
	}

	c.mu.Lock()
	if latest >= c.nextID {
		c.nextID = latest + 1
	}
	for _, req := range pending {
		c.due[req.ID] = req.CreatedAt.Add(c.cfg.FulfilDelay)
	}
	c.mu.Unlock()

	if len(pending) > 0 {
		c.log.WithField("pending", len(pending)).Info("vrf pending requests restored")
		c.signal()
	}
	return nil
}

// PublicKey returns the hex encoded verification key.
func (c *Coordinator) PublicKey() (string, error) {
	return c.signer.PublicKey()
}

// RequestRandomWords records a request and returns its id. Delivery happens later from Run.
func (c *Coordinator) RequestRandomWords(ctx context.Context, params RequestParams) (uint64, error) {
	params.KeyHash = strings.TrimSpace(params.KeyHash)
	if params.NumWords == 0 || params.NumWords > MaxNumWords {
		return 0, fmt.Errorf("%w: num_words must be between 1 and %d", ErrInvalidParams, MaxNumWords)
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return 0, fmt.Errorf("generate nonce: %w", err)
	}

	c.mu.Lock()
	id := c.nextID
	now := c.now().UTC()
	req := Request{
		ID:        id,
		Params:    params,
		Seed:      computeSeed(params.KeyHash, id, nonce),
		Status:    RequestStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateRequest(ctx, req); err != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("store vrf request: %w", err)
	}
	c.nextID++
	c.due[id] = now.Add(c.cfg.FulfilDelay)
	c.mu.Unlock()

	c.signal()
	c.log.WithField("request_id", id).
		WithField("num_words", params.NumWords).
		WithField("key_hash", params.KeyHash).
		Info("vrf request created")
	return id, nil
}

// GetRequest returns a stored request.
func (c *Coordinator) GetRequest(ctx context.Context, id uint64) (Request, error) {
	return c.store.GetRequest(ctx, id)
}

// Run delivers due requests until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-c.wake:
		}
		c.ProcessDue(ctx)
	}
}

// ProcessDue answers every request whose delay has elapsed and returns how many were attempted.
func (c *Coordinator) ProcessDue(ctx context.Context) int {
	now := c.now()
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.due))
	for id, at := range c.due {
		if !now.Before(at) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(c.due, id)
	}
	c.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := c.fulfil(ctx, id); err != nil {
			c.log.WithError(err).WithField("request_id", id).Warn("vrf fulfilment failed")
		}
	}
	return len(ids)
}

// Redeliver replays the stored words of a failed request to the consumer.
func (c *Coordinator) Redeliver(ctx context.Context, id uint64) (Request, error) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	req, err := c.store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.Status != RequestStatusFailed {
		return req, fmt.Errorf("%w: request %d is %s", ErrNotRedeliverable, id, req.Status)
	}
	err = c.deliver(ctx, &req)
	return req, err
}

func (c *Coordinator) fulfil(ctx context.Context, id uint64) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	req, err := c.store.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != RequestStatusPending {
		return nil
	}
	proof, err := c.signer.Prove(req.Seed)
	if err != nil {
		return fmt.Errorf("prove seed: %w", err)
	}
	req.Proof = proof
	req.Words = DeriveWords(proof, req.Params.NumWords)
	return c.deliver(ctx, &req)
}

// deliver must be called with deliverMu held.
func (c *Coordinator) deliver(ctx context.Context, req *Request) error {
	var deliveryErr error
	if c.consumer == nil {
		deliveryErr = ErrNoConsumer
	} else {
		deliveryErr = c.consumer.FulfillRandomWords(ctx, req.ID, req.Clone().Words)
	}

	now := c.now().UTC()
	req.Attempts++
	req.UpdatedAt = now
	if deliveryErr != nil {
		req.Status = RequestStatusFailed
		req.LastError = deliveryErr.Error()
	} else {
		req.Status = RequestStatusFulfilled
		req.LastError = ""
		req.FulfilledAt = &now
	}
	metrics.RecordRandomnessDelivery(deliveryErr == nil)

	if err := c.store.UpdateRequest(ctx, *req); err != nil {
		return fmt.Errorf("update vrf request: %w", err)
	}

	entry := c.log.WithField("request_id", req.ID).WithField("attempts", req.Attempts)
	if deliveryErr != nil {
		entry.WithError(deliveryErr).Warn("vrf consumer rejected random words")
		return deliveryErr
	}
	entry.Info("vrf random words delivered")
	return nil
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
