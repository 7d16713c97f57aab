package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const multicallABIJSON = `[{"name":"aggregate3","type":"function","stateMutability":"payable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}]}],"outputs":[{"name":"returnData","type":"tuple[]","components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]}]`

const nativeDecimals = 18

var multicallABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(multicallABIJSON))
	if err != nil {
		panic("failed to parse multicall ABI: " + err.Error())
	}
	multicallABI = parsed
}

// Backend is the subset of ethclient.Client the account needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// AccountOptions parameterise the signing account.
type AccountOptions struct {
	ChainID          *big.Int
	PrivateKey       string
	MulticallAddress common.Address
	GasBufferPct     int64
	PollInterval     time.Duration
	MaxAttempts      int
}

// Account signs and submits liquidation transactions.
type Account struct {
	backend Backend
	opts    AccountOptions
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
	logger  zerolog.Logger
}

// NewAccount parses the private key and binds the account to backend.
func NewAccount(backend Backend, opts AccountOptions, logger zerolog.Logger) (*Account, error) {
	if backend == nil {
		return nil, errors.New("chain backend not configured")
	}
	if opts.ChainID == nil || opts.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id must be positive")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(opts.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 60
	}
	if opts.GasBufferPct < 0 {
		opts.GasBufferPct = 0
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	return &Account{
		backend: backend,
		opts:    opts,
		key:     key,
		address: address,
		signer:  types.LatestSignerForChainID(opts.ChainID),
		logger:  logger.With().Str("component", "account").Str("address", address.Hex()).Logger(),
	}, nil
}

// Address is the account's public address.
func (a *Account) Address() common.Address {
	return a.address
}

type multicallCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// envelope turns a call set into a single transaction target and payload.
// More than one call goes through Multicall3 so the set executes atomically.
// Batched targets then see Multicall3 as msg.sender, not the account, so
// calls that act on behalf of the sender must be sent alone.
func (a *Account) envelope(calls []Call) (common.Address, []byte, error) {
	switch len(calls) {
	case 0:
		return common.Address{}, nil, ErrNoCalls
	case 1:
		return calls[0].To, calls[0].Data, nil
	}
	if a.opts.MulticallAddress == (common.Address{}) {
		return common.Address{}, nil, errors.New("multicall address required for batched calls")
	}
	batch := make([]multicallCall, 0, len(calls))
	for _, call := range calls {
		batch = append(batch, multicallCall{Target: call.To, CallData: call.Data})
	}
	payload, err := multicallABI.Pack("aggregate3", batch)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack multicall: %w", err)
	}
	return a.opts.MulticallAddress, payload, nil
}

func (a *Account) estimate(ctx context.Context, calls []Call) (common.Address, []byte, uint64, *big.Int, error) {
	to, data, err := a.envelope(calls)
	if err != nil {
		return common.Address{}, nil, 0, nil, err
	}
	gasPrice, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Address{}, nil, 0, nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := a.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     a.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return common.Address{}, nil, 0, nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * uint64(a.opts.GasBufferPct) / 100
	return to, data, gas, gasPrice, nil
}

// EstimateFeesCost returns the expected fee of executing calls, in native units.
func (a *Account) EstimateFeesCost(ctx context.Context, calls []Call) (decimal.Decimal, error) {
	_, _, gas, gasPrice, err := a.estimate(ctx, calls)
	if err != nil {
		return decimal.Decimal{}, err
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	return decimal.NewFromBigInt(wei, -nativeDecimals), nil
}

// ExecuteTransactions signs and broadcasts calls as one transaction. A single
// call is sent directly from the account; several are wrapped in aggregate3.
func (a *Account) ExecuteTransactions(ctx context.Context, calls []Call) (common.Hash, error) {
	to, data, gas, gasPrice, err := a.estimate(ctx, calls)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := a.backend.PendingNonceAt(ctx, a.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, a.signer, a.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	a.logger.Info().Str("tx", signed.Hash().Hex()).Uint64("nonce", nonce).Int("calls", len(calls)).Msg("transaction sent")
	return signed.Hash(), nil
}

// WaitForAcceptance polls for the receipt until it is mined or attempts run out.
func (a *Account) WaitForAcceptance(ctx context.Context, tx common.Hash) error {
	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		receipt, err := a.backend.TransactionReceipt(ctx, tx)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s", ErrTransactionReverted, tx.Hex())
			}
			a.logger.Debug().Str("tx", tx.Hex()).Uint64("block", receipt.BlockNumber.Uint64()).Msg("transaction accepted")
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			lastErr = err
			a.logger.Debug().Err(err).Str("tx", tx.Hex()).Int("attempt", attempt).Msg("receipt lookup failed")
		}

		if attempt == a.opts.MaxAttempts {
			break
		}
		timer := time.NewTimer(a.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %s: %v", ErrConfirmationTimeout, a.opts.MaxAttempts, tx.Hex(), lastErr)
	}
	return fmt.Errorf("%w after %d attempts: %s", ErrConfirmationTimeout, a.opts.MaxAttempts, tx.Hex())
}

var _ Executor = (*Account)(nil)
