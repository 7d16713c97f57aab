package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const singletonABIJSON = `[
{"name":"liquidationConfig","type":"function","stateMutability":"view","inputs":[{"name":"poolId","type":"bytes32"},{"name":"collateralAsset","type":"address"},{"name":"debtAsset","type":"address"}],"outputs":[{"name":"liquidationFactor","type":"uint64"}]},
{"name":"ltvConfig","type":"function","stateMutability":"view","inputs":[{"name":"poolId","type":"bytes32"},{"name":"collateralAsset","type":"address"},{"name":"debtAsset","type":"address"}],"outputs":[{"name":"maxLtv","type":"uint64"}]}
]`

// Both factors are fixed point with 18 decimals.
const factorScale = 18

var singletonABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(singletonABIJSON))
	if err != nil {
		panic("failed to parse singleton ABI: " + err.Error())
	}
	singletonABI = parsed
}

// Singleton reads pool configuration from the lending protocol's singleton contract.
type Singleton struct {
	caller  ethereum.ContractCaller
	address common.Address
}

// NewSingleton binds a reader to the singleton at address.
func NewSingleton(caller ethereum.ContractCaller, address common.Address) *Singleton {
	return &Singleton{caller: caller, address: address}
}

// LiquidationFactor returns the share of collateral the liquidator must hand back.
func (s *Singleton) LiquidationFactor(ctx context.Context, poolID common.Hash, collateral, debt common.Address) (decimal.Decimal, error) {
	return s.readFactor(ctx, "liquidationConfig", poolID, collateral, debt)
}

// MaxLTV returns the pair's liquidation LTV.
func (s *Singleton) MaxLTV(ctx context.Context, poolID common.Hash, collateral, debt common.Address) (decimal.Decimal, error) {
	return s.readFactor(ctx, "ltvConfig", poolID, collateral, debt)
}

func (s *Singleton) readFactor(ctx context.Context, method string, poolID common.Hash, collateral, debt common.Address) (decimal.Decimal, error) {
	if s.caller == nil || s.address == (common.Address{}) {
		return decimal.Zero, errors.New("singleton contract not configured")
	}
	payload, err := singletonABI.Pack(method, [32]byte(poolID), collateral, debt)
	if err != nil {
		return decimal.Zero, err
	}
	res, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &s.address, Data: payload}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("call %s: %w", method, err)
	}
	outputs, err := singletonABI.Unpack(method, res)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(outputs) != 1 {
		return decimal.Zero, fmt.Errorf("unexpected %s response", method)
	}
	raw, ok := outputs[0].(uint64)
	if !ok {
		return decimal.Zero, fmt.Errorf("failed to decode %s output", method)
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -factorScale), nil
}
