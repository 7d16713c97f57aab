package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesu-liquidator/internal/position"
)

var (
	singleton = common.HexToAddress("0x000d8C80ca4a86FdDDc0E3f0B0e3BbB0f46C2a3A")
	ethAddr   = common.HexToAddress("0x0000000000000000000000000000000000000e7e")
	usdcAddr  = common.HexToAddress("0x0000000000000000000000000000000000000d5c")
	poolID    = common.HexToHash("0x2545")
)

type mockBackend struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
	failFor int
}

func (m *mockBackend) BlockNumber(context.Context) (uint64, error) {
	return m.head, nil
}

func (m *mockBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.failFor > 0 {
		m.failFor--
		return nil, errors.New("rpc overloaded")
	}
	var out []types.Log
	for _, entry := range m.logs {
		if entry.BlockNumber >= q.FromBlock.Uint64() && entry.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, entry)
		}
	}
	return out, nil
}

type staticLTV struct {
	calls int
}

func (s *staticLTV) MaxLTV(context.Context, common.Hash, common.Address, common.Address) (decimal.Decimal, error) {
	s.calls++
	return decimal.RequireFromString("0.87"), nil
}

func positionLog(t *testing.T, block uint64, user, collateral, debt common.Address, collateralRaw, debtRaw *big.Int) types.Log {
	t.Helper()
	data, err := positionEvent.Inputs.NonIndexed().Pack(debt, collateralRaw, debtRaw)
	require.NoError(t, err)
	return types.Log{
		Address:     singleton,
		BlockNumber: block,
		Topics: []common.Hash{
			positionEvent.ID,
			poolID,
			common.BytesToHash(user.Bytes()),
			common.BytesToHash(collateral.Bytes()),
		},
		Data: data,
	}
}

func newIndexer(t *testing.T, backend *mockBackend, ltv LTVReader) *Indexer {
	t.Helper()
	idx, err := New(backend, ltv, Options{
		Contract: singleton,
		Assets: []position.Asset{
			{Name: "ETH", Address: ethAddr, Decimals: 18},
			{Name: "USDC", Address: usdcAddr, Decimals: 6},
		},
		PollInterval:  time.Millisecond,
		BatchSize:     10,
		Confirmations: 2,
	}, zerolog.Nop())
	require.NoError(t, err)
	return idx
}

func collect(updates *[]position.Update) func(position.Update) error {
	return func(u position.Update) error {
		*updates = append(*updates, u)
		return nil
	}
}

func TestIndexDecodesPositionUpdates(t *testing.T) {
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	backend := &mockBackend{logs: []types.Log{
		positionLog(t, 5, user, ethAddr, usdcAddr, oneEth, big.NewInt(1_500_250_000)),
		positionLog(t, 15, user, ethAddr, usdcAddr, oneEth, big.NewInt(0)),
	}}
	ltv := &staticLTV{}
	idx := newIndexer(t, backend, ltv)

	var updates []position.Update
	require.NoError(t, idx.Index(context.Background(), 0, 25, collect(&updates)))

	require.Len(t, updates, 2)
	first := updates[0]
	assert.Equal(t, uint64(5), first.Block)
	assert.Equal(t, poolID, first.Position.PoolID)
	assert.Equal(t, user, first.Position.User)
	assert.Equal(t, "ETH", first.Position.Collateral.Name)
	assert.True(t, first.Position.Collateral.Amount.Equal(decimal.NewFromInt(1)))
	assert.True(t, first.Position.Debt.Amount.Equal(decimal.RequireFromString("1500.25")))
	assert.True(t, first.Position.LLTV.Equal(decimal.RequireFromString("0.87")))
	assert.Equal(t, first.Position.Key(), updates[1].Position.Key())
	assert.True(t, updates[1].Position.Debt.Amount.IsZero())

	assert.Equal(t, 1, ltv.calls, "lltv should be cached per pair")
	require.Len(t, backend.queries, 3)
	assert.Equal(t, uint64(20), backend.queries[2].FromBlock.Uint64())
	assert.Equal(t, uint64(25), backend.queries[2].ToBlock.Uint64())
	assert.Equal(t, []common.Address{singleton}, backend.queries[0].Addresses)
}

func TestIndexSkipsUnknownAssetsAndRemovedLogs(t *testing.T) {
	user := common.HexToAddress("0x2222222222222222222222222222222222222222")
	unknown := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	removed := positionLog(t, 3, user, ethAddr, usdcAddr, big.NewInt(1), big.NewInt(1))
	removed.Removed = true
	backend := &mockBackend{logs: []types.Log{
		positionLog(t, 1, user, unknown, usdcAddr, big.NewInt(1), big.NewInt(1)),
		positionLog(t, 2, user, ethAddr, unknown, big.NewInt(1), big.NewInt(1)),
		removed,
	}}
	idx := newIndexer(t, backend, &staticLTV{})

	var updates []position.Update
	require.NoError(t, idx.Index(context.Background(), 0, 9, collect(&updates)))
	assert.Empty(t, updates)
}

func TestIndexPropagatesEmitError(t *testing.T) {
	user := common.HexToAddress("0x3333333333333333333333333333333333333333")
	backend := &mockBackend{logs: []types.Log{
		positionLog(t, 1, user, ethAddr, usdcAddr, big.NewInt(1), big.NewInt(1)),
	}}
	idx := newIndexer(t, backend, &staticLTV{})

	stop := errors.New("stop")
	err := idx.Index(context.Background(), 0, 9, func(position.Update) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestRunFollowsConfirmedHeadAndClosesOutput(t *testing.T) {
	user := common.HexToAddress("0x4444444444444444444444444444444444444444")
	backend := &mockBackend{
		head:    12,
		failFor: 1,
		logs: []types.Log{
			positionLog(t, 4, user, ethAddr, usdcAddr, big.NewInt(1), big.NewInt(1)),
			positionLog(t, 10, user, ethAddr, usdcAddr, big.NewInt(2), big.NewInt(2)),
			positionLog(t, 11, user, ethAddr, usdcAddr, big.NewInt(3), big.NewInt(3)),
		},
	}
	idx := newIndexer(t, backend, &staticLTV{})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan position.Update)
	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx, 3, out) }()

	var blocks []uint64
	for len(blocks) < 2 {
		update := <-out
		blocks = append(blocks, update.Block)
	}
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	_, open := <-out
	assert.False(t, open)
	// block 11 is above the confirmed head (12 - 2).
	assert.Equal(t, []uint64{4, 10}, blocks)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, &staticLTV{}, Options{Contract: singleton}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(&mockBackend{}, &staticLTV{}, Options{}, zerolog.Nop())
	assert.Error(t, err)
}
