package monitor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vesu-liquidator/internal/chain"
	"vesu-liquidator/internal/oracle"
	"vesu-liquidator/internal/position"
)

var (
	slippage       = decimal.New(5, -2)
	slippageFactor = decimal.NewFromInt(1).Sub(slippage)
)

// FeeEstimator prices a call set before it is submitted.
type FeeEstimator interface {
	EstimateFeesCost(ctx context.Context, calls []chain.Call) (decimal.Decimal, error)
}

// Profitability is the simulated outcome of liquidating one position.
type Profitability struct {
	LiquidableDebt         decimal.Decimal
	LiquidableCollateral   decimal.Decimal
	LiquidationFactor      decimal.Decimal
	DebtToLiquidate        decimal.Decimal
	MinCollateralToReceive decimal.Decimal
	SimulatedProfit        decimal.Decimal
	ExecutionFees          decimal.Decimal
	Profit                 decimal.Decimal
	Calls                  []chain.Call
}

// Engine simulates the profit of liquidating a position.
type Engine struct {
	mode             position.LiquidationMode
	liquidateAddress common.Address
	prices           oracle.PriceReader
	evaluator        position.Evaluator
	fees             FeeEstimator
}

// NewEngine constructs a profitability engine.
func NewEngine(mode position.LiquidationMode, liquidateAddress common.Address, prices oracle.PriceReader, evaluator position.Evaluator, fees FeeEstimator) *Engine {
	return &Engine{
		mode:             mode,
		liquidateAddress: liquidateAddress,
		prices:           prices,
		evaluator:        evaluator,
		fees:             fees,
	}
}

// Compute returns the profit net of slippage and fees, and the calls that realise it.
// The profit may be negative.
func (e *Engine) Compute(ctx context.Context, pos position.Position) (Profitability, error) {
	debt, collateral, err := e.evaluator.LiquidableAmount(ctx, pos, e.mode, e.prices)
	if err != nil {
		return Profitability{}, fmt.Errorf("liquidable amount: %w", err)
	}

	factor, err := e.evaluator.LiquidationFactor(ctx, pos)
	if err != nil {
		return Profitability{}, err
	}

	// Full liquidations are sized by the liquidation contract itself.
	debtToLiquidate := decimal.Zero
	if e.mode == position.Partial {
		debtToLiquidate = debt.Mul(factor)
	}
	minCollateral := collateral.Mul(factor)
	simulated := debt.Mul(decimal.NewFromInt(1).Sub(factor))

	calls, err := e.evaluator.LiquidationCalls(ctx, pos, e.liquidateAddress, debtToLiquidate, minCollateral)
	if err != nil {
		return Profitability{}, fmt.Errorf("build liquidation calls: %w", err)
	}

	fees, err := e.fees.EstimateFeesCost(ctx, calls)
	if err != nil {
		return Profitability{}, fmt.Errorf("estimate fees: %w", err)
	}

	return Profitability{
		LiquidableDebt:         debt,
		LiquidableCollateral:   collateral,
		LiquidationFactor:      factor,
		DebtToLiquidate:        debtToLiquidate,
		MinCollateralToReceive: minCollateral,
		SimulatedProfit:        simulated,
		ExecutionFees:          fees,
		Profit:                 simulated.Mul(slippageFactor).Sub(fees),
		Calls:                  calls,
	}, nil
}
