package lottery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc    *Service
	store  *MemoryStore
	vrf    *MockRandomness
	payer  *MockPayer
	events *EventRecorder
	clock  *fakeClock
}

func newHarness(t *testing.T, fee int64, interval time.Duration) *harness {
	t.Helper()
	h := &harness{
		store:  NewMemoryStore(),
		vrf:    NewMockRandomness(),
		payer:  &MockPayer{},
		events: &EventRecorder{},
		clock:  newFakeClock(),
	}
	svc, err := New(context.Background(), Config{EntryFee: fee, Interval: interval},
		h.store, h.vrf, h.payer, logger.NewNop(),
		WithClock(h.clock.Now), WithPublisher(h.events))
	require.NoError(t, err)
	h.svc = svc
	return h
}

func TestNew_InitialState(t *testing.T) {
	h := newHarness(t, 10, time.Minute)

	round := h.svc.Snapshot()
	assert.Equal(t, int64(1), round.Number)
	assert.Equal(t, RaffleStateOpen, h.svc.State())
	assert.Equal(t, int64(10), h.svc.EntryFee())
	assert.Equal(t, time.Minute, h.svc.Interval())
	assert.Equal(t, 0, h.svc.NumberOfParticipants())
	assert.Equal(t, int64(0), h.svc.Balance())
	assert.Equal(t, "", h.svc.RecentWinner())
	assert.Equal(t, h.clock.Now(), h.svc.LastResolution())
	_, pending := h.svc.PendingRequest()
	assert.False(t, pending)

	persisted, err := h.store.LoadRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RaffleStateOpen, persisted.State)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()
	deps := func() (Store, RandomnessProvider, Payer) {
		return NewMemoryStore(), NewMockRandomness(), &MockPayer{}
	}

	store, vrf, payer := deps()
	_, err := New(ctx, Config{EntryFee: 0, Interval: time.Second}, store, vrf, payer, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	store, vrf, payer = deps()
	_, err = New(ctx, Config{EntryFee: 1, Interval: 0}, store, vrf, payer, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(ctx, Config{EntryFee: 1, Interval: time.Second}, nil, vrf, payer, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_NormalizeDefaults(t *testing.T) {
	cfg, err := Config{EntryFee: 1, Interval: time.Second, Request: RandomnessRequest{KeyHash: " lane "}}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "lane", cfg.Request.KeyHash)
	assert.Equal(t, uint16(DefaultMinConfirmations), cfg.Request.MinConfirmations)
	assert.Equal(t, uint32(DefaultCallbackGasLimit), cfg.Request.CallbackGasLimit)
	assert.Equal(t, uint32(DefaultNumWords), cfg.Request.NumWords)
}

func TestEnter_AccumulatesEntries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5, time.Minute)

	for i := 0; i < 7; i++ {
		require.NoError(t, h.svc.Enter(ctx, fmt.Sprintf("player-%d", i), 5))
	}

	assert.Equal(t, 7, h.svc.NumberOfParticipants())
	assert.Equal(t, int64(35), h.svc.Balance())
	for i := 0; i < 7; i++ {
		p, err := h.svc.Participant(i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("player-%d", i), p)
	}
}

func TestEnter_DuplicatesAreSeparateTickets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, time.Minute)

	require.NoError(t, h.svc.Enter(ctx, "alice", 1))
	require.NoError(t, h.svc.Enter(ctx, "alice", 1))

	assert.Equal(t, 2, h.svc.NumberOfParticipants())
	assert.Equal(t, int64(2), h.svc.Balance())
}

func TestEnter_OverpaymentIsKept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, time.Minute)

	require.NoError(t, h.svc.Enter(ctx, "alice", 25))
	assert.Equal(t, int64(25), h.svc.Balance())
}

func TestEnter_InsufficientPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, time.Minute)
	require.NoError(t, h.svc.Enter(ctx, "alice", 10))
	before := h.svc.Snapshot()

	err := h.svc.Enter(ctx, "bob", 9)
	assert.ErrorIs(t, err, ErrInsufficientPayment)
	assert.Equal(t, before, h.svc.Snapshot())

	err = h.svc.Enter(ctx, "bob", -10)
	assert.ErrorIs(t, err, ErrInsufficientPayment)
	assert.Equal(t, before, h.svc.Snapshot())
}

func TestEnter_RejectsBlankParticipant(t *testing.T) {
	h := newHarness(t, 1, time.Minute)
	err := h.svc.Enter(context.Background(), "   ", 1)
	assert.ErrorIs(t, err, ErrInvalidParticipant)
	assert.Equal(t, 0, h.svc.NumberOfParticipants())
}

func TestEnter_UnderpaymentReportedFirst(t *testing.T) {
	h := newHarness(t, 10, time.Minute)
	err := h.svc.Enter(context.Background(), "  ", 0)
	assert.ErrorIs(t, err, ErrInsufficientPayment)
	assert.NotErrorIs(t, err, ErrInvalidParticipant)
	assert.Zero(t, h.svc.Balance())
}

func TestEnter_WhileCalculating(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, time.Minute)
	require.NoError(t, h.svc.Enter(ctx, "alice", 1))
	h.clock.Advance(time.Minute)
	_, err := h.svc.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	before := h.svc.Snapshot()

	err = h.svc.Enter(ctx, "bob", 1)
	assert.ErrorIs(t, err, ErrRoundNotOpen)
	assert.Equal(t, before, h.svc.Snapshot())

	// Insufficient payment is reported before the state check.
	err = h.svc.Enter(ctx, "bob", 0)
	assert.ErrorIs(t, err, ErrInsufficientPayment)
}

func TestEnter_StoreFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, time.Minute)
	h.store.SaveErr = errors.New("disk full")

	err := h.svc.Enter(ctx, "alice", 1)
	require.Error(t, err)
	assert.Equal(t, 0, h.svc.NumberOfParticipants())
	assert.Equal(t, int64(0), h.svc.Balance())
	assert.Empty(t, h.events.Events())
}

func TestEnter_Concurrent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, h.svc.Enter(ctx, fmt.Sprintf("p%d", i), 2))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, h.svc.NumberOfParticipants())
	assert.Equal(t, int64(100), h.svc.Balance())
}

func TestParticipant_OutOfRange(t *testing.T) {
	h := newHarness(t, 1, time.Minute)
	_, err := h.svc.Participant(0)
	assert.ErrorIs(t, err, ErrParticipantIndex)
	_, err = h.svc.Participant(-1)
	assert.ErrorIs(t, err, ErrParticipantIndex)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, time.Minute)
	require.NoError(t, h.svc.Enter(ctx, "alice", 1))

	snap := h.svc.Snapshot()
	snap.Participants[0] = "mallory"

	p, err := h.svc.Participant(0)
	require.NoError(t, err)
	assert.Equal(t, "alice", p)
}

func TestNew_RestoresPersistedRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3, time.Minute)
	require.NoError(t, h.svc.Enter(ctx, "alice", 3))
	require.NoError(t, h.svc.Enter(ctx, "bob", 3))
	h.clock.Advance(2 * time.Minute)
	id, err := h.svc.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	restored, err := New(ctx, Config{EntryFee: 3, Interval: time.Minute},
		h.store, h.vrf, h.payer, logger.NewNop(), WithClock(h.clock.Now))
	require.NoError(t, err)

	assert.Equal(t, RaffleStateCalculating, restored.State())
	pending, ok := restored.PendingRequest()
	require.True(t, ok)
	assert.Equal(t, id, pending)
	assert.Equal(t, 2, restored.NumberOfParticipants())

	require.NoError(t, restored.FulfillRandomWords(ctx, id, words(1)))
	assert.Equal(t, "bob", restored.RecentWinner())
}

func TestNew_RejectsChangedParameters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3, time.Minute)

	_, err := New(ctx, Config{EntryFee: 4, Interval: time.Minute}, h.store, h.vrf, h.payer, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(ctx, Config{EntryFee: 3, Interval: time.Hour}, h.store, h.vrf, h.payer, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEvents_PublishedAfterCommit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, time.Minute)

	require.NoError(t, h.svc.Enter(ctx, "alice", 1))
	h.clock.Advance(time.Minute)
	id, err := h.svc.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.FulfillRandomWords(ctx, id, words(42)))

	events := h.events.Events()
	require.Len(t, events, 3)

	assert.Equal(t, EventEntered, events[0].Type)
	assert.Equal(t, "alice", events[0].Participant)

	assert.Equal(t, EventWinnerRequested, events[1].Type)
	assert.Equal(t, id, events[1].RequestID)

	assert.Equal(t, EventWinnerPicked, events[2].Type)
	assert.Equal(t, "alice", events[2].Winner)
	assert.Equal(t, int64(1), events[2].Amount)

	for _, evt := range events {
		assert.NotEmpty(t, evt.ID)
		assert.Equal(t, int64(1), evt.Round)
	}
}

func TestEvents_PublishFailureDoesNotFailEntry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	failing := EventPublisherFunc(func(context.Context, Event) error {
		return errors.New("broker down")
	})
	svc, err := New(ctx, Config{EntryFee: 1, Interval: time.Minute},
		NewMemoryStore(), NewMockRandomness(), &MockPayer{}, logger.NewNop(),
		WithClock(clock.Now), WithPublisher(failing))
	require.NoError(t, err)

	require.NoError(t, svc.Enter(ctx, "alice", 1))
	assert.Equal(t, 1, svc.NumberOfParticipants())
}

// gatedPublisher blocks its first Publish until release is closed.
type gatedPublisher struct {
	EventRecorder
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedPublisher) Publish(ctx context.Context, event Event) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.release
	}
	return g.EventRecorder.Publish(ctx, event)
}

func TestPublish_FollowsCommitOrder(t *testing.T) {
	pub := &gatedPublisher{started: make(chan struct{}), release: make(chan struct{})}
	clock := newFakeClock()
	svc, err := New(context.Background(), Config{EntryFee: 10, Interval: time.Minute},
		NewMemoryStore(), NewMockRandomness(), &MockPayer{}, logger.NewNop(),
		WithClock(clock.Now), WithPublisher(pub))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Enter(context.Background(), "alice", 10))
	}()
	<-pub.started
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Enter(context.Background(), "bob", 10))
	}()
	time.Sleep(50 * time.Millisecond)
	close(pub.release)
	wg.Wait()

	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "alice", events[0].Participant)
	assert.Equal(t, "bob", events[1].Participant)
	assert.Equal(t, []string{"alice", "bob"}, svc.Snapshot().Participants)
}
