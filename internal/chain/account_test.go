package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	nonce    uint64
	gasPrice *big.Int
	gas      uint64
	gasErr   error
	receipts []receiptResult

	estimated []ethereum.CallMsg
	sent      []*types.Transaction
	lookups   int
}

type receiptResult struct {
	receipt *types.Receipt
	err     error
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimated = append(f.estimated, msg)
	return f.gas, f.gasErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.lookups
	f.lookups++
	if idx >= len(f.receipts) {
		return nil, ethereum.NotFound
	}
	return f.receipts[idx].receipt, f.receipts[idx].err
}

var multicallAddr = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

func newTestAccount(t *testing.T, backend *fakeBackend) *Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	account, err := NewAccount(backend, AccountOptions{
		ChainID:          big.NewInt(11155111),
		PrivateKey:       "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		MulticallAddress: multicallAddr,
		GasBufferPct:     20,
		PollInterval:     time.Millisecond,
		MaxAttempts:      3,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), account.Address())
	return account
}

func newBackend() *fakeBackend {
	return &fakeBackend{nonce: 7, gasPrice: big.NewInt(2_000_000_000), gas: 100_000}
}

func TestNewAccountValidation(t *testing.T) {
	_, err := NewAccount(nil, AccountOptions{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewAccount(newBackend(), AccountOptions{PrivateKey: "0x01"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewAccount(newBackend(), AccountOptions{ChainID: big.NewInt(1), PrivateKey: "zz"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestEstimateFeesCostAppliesBuffer(t *testing.T) {
	backend := newBackend()
	account := newTestAccount(t, backend)

	fee, err := account.EstimateFeesCost(context.Background(), []Call{{To: common.HexToAddress("0x01"), Data: []byte{0xaa}}})
	require.NoError(t, err)
	// 120000 gas at 2 gwei
	assert.True(t, fee.Equal(decimal.RequireFromString("0.00024")), fee.String())

	require.Len(t, backend.estimated, 1)
	assert.Equal(t, account.Address(), backend.estimated[0].From)
	assert.Empty(t, backend.sent)
}

func TestEstimateFeesCostErrors(t *testing.T) {
	backend := newBackend()
	account := newTestAccount(t, backend)

	_, err := account.EstimateFeesCost(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoCalls)

	backend.gasErr = errors.New("execution reverted")
	_, err = account.EstimateFeesCost(context.Background(), []Call{{To: common.HexToAddress("0x01")}})
	assert.ErrorContains(t, err, "estimate gas")
}

func TestExecuteSingleCallSignsDirectly(t *testing.T) {
	backend := newBackend()
	account := newTestAccount(t, backend)
	target := common.HexToAddress("0x0000000000000000000000000000000000001234")

	hash, err := account.ExecuteTransactions(context.Background(), []Call{{To: target, Data: []byte{0xde, 0xad}}})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, target, *tx.To())
	assert.Equal(t, []byte{0xde, 0xad}, tx.Data())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), tx)
	require.NoError(t, err)
	assert.Equal(t, account.Address(), sender)
}

func TestExecuteBatchesThroughMulticall(t *testing.T) {
	backend := newBackend()
	account := newTestAccount(t, backend)

	calls := []Call{
		{To: common.HexToAddress("0x01"), Data: []byte{0x01}},
		{To: common.HexToAddress("0x02"), Data: []byte{0x02}},
	}
	_, err := account.ExecuteTransactions(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, multicallAddr, *tx.To())
	assert.Equal(t, multicallABI.Methods["aggregate3"].ID, tx.Data()[:4])

	args, err := multicallABI.Methods["aggregate3"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Len(t, args, 1)
}

func TestBatchedCallsNeedMulticall(t *testing.T) {
	backend := newBackend()
	account := newTestAccount(t, backend)
	account.opts.MulticallAddress = common.Address{}

	calls := []Call{
		{To: common.HexToAddress("0x01"), Data: []byte{0x01}},
		{To: common.HexToAddress("0x02"), Data: []byte{0x02}},
	}
	_, err := account.ExecuteTransactions(context.Background(), calls)
	assert.ErrorContains(t, err, "multicall address required")
	assert.Empty(t, backend.sent)

	_, err = account.ExecuteTransactions(context.Background(), calls[:1])
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, calls[0].To, *backend.sent[0].To())
}

func TestWaitForAcceptance(t *testing.T) {
	ok := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}
	reverted := &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(10)}
	tx := common.HexToHash("0x01")

	t.Run("eventually mined", func(t *testing.T) {
		backend := newBackend()
		backend.receipts = []receiptResult{{err: ethereum.NotFound}, {err: errors.New("timeout")}, {receipt: ok}}
		account := newTestAccount(t, backend)

		require.NoError(t, account.WaitForAcceptance(context.Background(), tx))
		assert.Equal(t, 3, backend.lookups)
	})

	t.Run("reverted", func(t *testing.T) {
		backend := newBackend()
		backend.receipts = []receiptResult{{receipt: reverted}}
		account := newTestAccount(t, backend)

		assert.ErrorIs(t, account.WaitForAcceptance(context.Background(), tx), ErrTransactionReverted)
	})

	t.Run("never mined", func(t *testing.T) {
		backend := newBackend()
		account := newTestAccount(t, backend)

		assert.ErrorIs(t, account.WaitForAcceptance(context.Background(), tx), ErrConfirmationTimeout)
		assert.Equal(t, 3, backend.lookups)
	})

	t.Run("cancelled", func(t *testing.T) {
		backend := newBackend()
		account := newTestAccount(t, backend)
		account.opts.PollInterval = time.Hour
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, account.WaitForAcceptance(ctx, tx), context.Canceled)
	})
}
