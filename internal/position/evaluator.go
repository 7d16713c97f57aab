package position

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vesu-liquidator/internal/chain"
	"vesu-liquidator/internal/oracle"
)

const liquidateABIJSON = `[{"name":"liquidate","type":"function","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[{"name":"poolId","type":"bytes32"},{"name":"collateralAsset","type":"address"},{"name":"debtAsset","type":"address"},{"name":"user","type":"address"},{"name":"recipient","type":"address"},{"name":"debtToRepay","type":"uint256"},{"name":"minCollateralToReceive","type":"uint256"}]}],"outputs":[]}]`

var (
	liquidateABI abi.ABI

	// ErrPriceUnavailable is returned when sizing needs a price the oracle does not have.
	ErrPriceUnavailable = errors.New("oracle price unavailable")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(liquidateABIJSON))
	if err != nil {
		panic("failed to parse liquidate ABI: " + err.Error())
	}
	liquidateABI = parsed
}

// Evaluator decides liquidability and sizes liquidations for a position.
type Evaluator interface {
	IsLiquidable(ctx context.Context, pos Position, prices oracle.PriceReader) bool
	LiquidableAmount(ctx context.Context, pos Position, mode LiquidationMode, prices oracle.PriceReader) (debt, collateral decimal.Decimal, err error)
	LiquidationFactor(ctx context.Context, pos Position) (decimal.Decimal, error)
	LiquidationCalls(ctx context.Context, pos Position, liquidateAddress common.Address, debtToLiquidate, minCollateral decimal.Decimal) ([]chain.Call, error)
}

// FactorReader reads the protocol liquidation factor for a pool pair.
type FactorReader interface {
	LiquidationFactor(ctx context.Context, poolID common.Hash, collateral, debt common.Address) (decimal.Decimal, error)
}

// VesuEvaluator evaluates positions against oracle prices and the pool's LLTV.
type VesuEvaluator struct {
	factors   FactorReader
	recipient common.Address
}

// NewVesuEvaluator builds an evaluator that pays seized collateral to recipient.
func NewVesuEvaluator(factors FactorReader, recipient common.Address) *VesuEvaluator {
	return &VesuEvaluator{factors: factors, recipient: recipient}
}

type valuation struct {
	debtPrice       decimal.Decimal
	collateralPrice decimal.Decimal
	debtValue       decimal.Decimal
	collateralValue decimal.Decimal
}

func value(pos Position, prices oracle.PriceReader) (valuation, bool) {
	if prices == nil {
		return valuation{}, false
	}
	debtPrice, ok := prices.Price(pos.Debt.Name)
	if !ok || !debtPrice.IsPositive() {
		return valuation{}, false
	}
	collateralPrice, ok := prices.Price(pos.Collateral.Name)
	if !ok || !collateralPrice.IsPositive() {
		return valuation{}, false
	}
	return valuation{
		debtPrice:       debtPrice,
		collateralPrice: collateralPrice,
		debtValue:       pos.Debt.Amount.Mul(debtPrice),
		collateralValue: pos.Collateral.Amount.Mul(collateralPrice),
	}, true
}

// IsLiquidable reports whether the position's LTV exceeds its LLTV.
// Missing or stale-to-zero prices make a position not liquidable.
func (e *VesuEvaluator) IsLiquidable(_ context.Context, pos Position, prices oracle.PriceReader) bool {
	if !pos.Debt.Amount.IsPositive() || !pos.LLTV.IsPositive() {
		return false
	}
	v, ok := value(pos, prices)
	if !ok {
		return false
	}
	if !v.collateralValue.IsPositive() {
		return true
	}
	ltv := v.debtValue.Div(v.collateralValue)
	return ltv.GreaterThan(pos.LLTV)
}

// LiquidableAmount returns the debt that can be repaid and the collateral it is
// worth. Full mode takes the whole debt; partial mode repays just enough to
// bring the position back to its LLTV.
func (e *VesuEvaluator) LiquidableAmount(_ context.Context, pos Position, mode LiquidationMode, prices oracle.PriceReader) (decimal.Decimal, decimal.Decimal, error) {
	v, ok := value(pos, prices)
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("size position %s: %w", pos.Key(), ErrPriceUnavailable)
	}

	debt := pos.Debt.Amount
	if mode == Partial {
		one := decimal.NewFromInt(1)
		if pos.LLTV.GreaterThanOrEqual(one) {
			return decimal.Zero, decimal.Zero, fmt.Errorf("size position %s: lltv %s out of range", pos.Key(), pos.LLTV)
		}
		excess := v.debtValue.Sub(pos.LLTV.Mul(v.collateralValue))
		debt = excess.Div(v.debtPrice.Mul(one.Sub(pos.LLTV)))
		if debt.IsNegative() {
			debt = decimal.Zero
		}
		if debt.GreaterThan(pos.Debt.Amount) {
			debt = pos.Debt.Amount
		}
	}

	collateral := debt.Mul(v.debtPrice).Div(v.collateralPrice)
	if collateral.GreaterThan(pos.Collateral.Amount) {
		collateral = pos.Collateral.Amount
	}
	return debt, collateral, nil
}

// LiquidationFactor reads the factor from chain and checks it lies in [0,1].
func (e *VesuEvaluator) LiquidationFactor(ctx context.Context, pos Position) (decimal.Decimal, error) {
	if e.factors == nil {
		return decimal.Zero, errors.New("liquidation factor reader not configured")
	}
	factor, err := e.factors.LiquidationFactor(ctx, pos.PoolID, pos.Collateral.Address, pos.Debt.Address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch liquidation factor: %w", err)
	}
	if factor.IsNegative() || factor.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("liquidation factor %s out of range", factor)
	}
	return factor, nil
}

type liquidateParams struct {
	PoolId                 [32]byte
	CollateralAsset        common.Address
	DebtAsset              common.Address
	User                   common.Address
	Recipient              common.Address
	DebtToRepay            *big.Int
	MinCollateralToReceive *big.Int
}

// LiquidationCalls builds the call to the flash-loan liquidation contract.
// A zero debtToLiquidate lets the contract repay the full position.
func (e *VesuEvaluator) LiquidationCalls(_ context.Context, pos Position, liquidateAddress common.Address, debtToLiquidate, minCollateral decimal.Decimal) ([]chain.Call, error) {
	if liquidateAddress == (common.Address{}) {
		return nil, errors.New("liquidate contract address not configured")
	}
	debtRaw, err := toRaw(debtToLiquidate, pos.Debt.Decimals)
	if err != nil {
		return nil, fmt.Errorf("debt to liquidate: %w", err)
	}
	collateralRaw, err := toRaw(minCollateral, pos.Collateral.Decimals)
	if err != nil {
		return nil, fmt.Errorf("min collateral: %w", err)
	}

	payload, err := liquidateABI.Pack("liquidate", liquidateParams{
		PoolId:                 pos.PoolID,
		CollateralAsset:        pos.Collateral.Address,
		DebtAsset:              pos.Debt.Address,
		User:                   pos.User,
		Recipient:              e.recipient,
		DebtToRepay:            debtRaw,
		MinCollateralToReceive: collateralRaw,
	})
	if err != nil {
		return nil, fmt.Errorf("pack liquidate call: %w", err)
	}
	return []chain.Call{{To: liquidateAddress, Data: payload}}, nil
}

func toRaw(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", amount)
	}
	return amount.Shift(decimals).Floor().BigInt(), nil
}

var _ Evaluator = (*VesuEvaluator)(nil)
