package gasbank

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	"github.com/R3E-Network/raffle/pkg/logger"
)

func newTestManager() (*Manager, *MemoryRepository) {
	repo := NewMemoryRepository()
	m := NewManager(repo, logger.NewNop())
	m.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	return m, repo
}

func TestPay_CreditsWinner(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	require.NoError(t, m.Pay(ctx, lottery.Payout{RequestID: 1, Round: 1, Winner: "alice", Amount: 30}))
	require.NoError(t, m.Pay(ctx, lottery.Payout{RequestID: 2, Round: 2, Winner: "alice", Amount: 12}))

	account, err := m.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(42), account.Balance)

	txs, err := m.GetTransactions(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, TxTypePayout, txs[0].TxType)
	assert.ElementsMatch(t, []string{PayoutReference(1), PayoutReference(2)}, []string{txs[0].ReferenceID, txs[1].ReferenceID})
}

func TestPay_IdempotentPerRequest(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	payout := lottery.Payout{RequestID: 7, Winner: "bob", Amount: 5}

	require.NoError(t, m.Pay(ctx, payout))
	require.NoError(t, m.Pay(ctx, payout))

	account, err := m.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(5), account.Balance)
}

func TestPay_FrozenAccountFails(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	_, err := m.SetFrozen(ctx, "carol", true)
	require.NoError(t, err)

	err = m.Pay(ctx, lottery.Payout{RequestID: 3, Winner: "carol", Amount: 9})
	assert.ErrorIs(t, err, ErrAccountFrozen)

	account, err := m.GetAccount(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance)

	_, err = m.SetFrozen(ctx, "carol", false)
	require.NoError(t, err)
	require.NoError(t, m.Pay(ctx, lottery.Payout{RequestID: 3, Winner: "carol", Amount: 9}))
}

func TestPay_RejectsInvalidPayout(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	assert.ErrorIs(t, m.Pay(ctx, lottery.Payout{RequestID: 1, Winner: " ", Amount: 1}), ErrInvalidPayout)
	assert.ErrorIs(t, m.Pay(ctx, lottery.Payout{RequestID: 1, Winner: "a", Amount: -1}), ErrInvalidPayout)
	assert.ErrorIs(t, m.Pay(ctx, lottery.Payout{RequestID: 0, Winner: "a", Amount: 1}), ErrInvalidPayout)
}

func TestGetAccount_Missing(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.GetAccount(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

// The engine reports a frozen winner as a failed transfer and keeps the round calculating.
func TestPay_WithEngine(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	_, err := m.SetFrozen(ctx, "dave", true)
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	vrf := lottery.NewMockRandomness()
	svc, err := lottery.New(ctx, lottery.Config{EntryFee: 1, Interval: time.Second},
		lottery.NewMemoryStore(), vrf, m, logger.NewNop(), lottery.WithClock(clock))
	require.NoError(t, err)

	require.NoError(t, svc.Enter(ctx, "dave", 4))
	now = now.Add(time.Second)
	id, err := svc.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	err = svc.FulfillRandomWords(ctx, id, nil)
	assert.ErrorIs(t, err, lottery.ErrInvalidRandomness)

	err = svc.FulfillRandomWords(ctx, id, []*big.Int{big.NewInt(0)})
	assert.ErrorIs(t, err, lottery.ErrTransferFailed)
	assert.ErrorIs(t, err, ErrAccountFrozen)
	assert.Equal(t, lottery.RaffleStateCalculating, svc.State())

	_, err = m.SetFrozen(ctx, "dave", false)
	require.NoError(t, err)
	require.NoError(t, svc.FulfillRandomWords(ctx, id, []*big.Int{big.NewInt(0)}))

	account, err := m.GetAccount(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(4), account.Balance)
}
