package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"vesu-liquidator/internal/chain"
	"vesu-liquidator/internal/monitor"
	"vesu-liquidator/internal/oracle"
	"vesu-liquidator/internal/position"
)

// SimulateOptions describe a hypothetical liquidation.
type SimulateOptions struct {
	CollateralAsset string
	DebtAsset       string
	Collateral      decimal.Decimal
	Debt            decimal.Decimal
	Factor          decimal.Decimal
	Fees            decimal.Decimal
	Mode            string
}

// Simulate runs the profitability engine on explicit amounts and prints the
// outcome against liquidation.min_profit.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (monitor.Profitability, error) {
	opts.Mode = strings.TrimSpace(opts.Mode)
	if opts.Mode == "" {
		opts.Mode = a.Config.Liquidation.Mode
	}
	mode, err := position.ParseLiquidationMode(opts.Mode)
	if err != nil {
		return monitor.Profitability{}, err
	}
	minProfit, err := a.Config.MinProfit()
	if err != nil {
		return monitor.Profitability{}, err
	}

	pos := position.Position{
		Collateral: a.lookupAsset(opts.CollateralAsset, opts.Collateral),
		Debt:       a.lookupAsset(opts.DebtAsset, opts.Debt),
		LLTV:       decimal.NewFromInt(1),
	}
	eval := &staticEvaluator{
		debt:       opts.Debt,
		collateral: opts.Collateral,
		factor:     opts.Factor,
		calls:      position.NewVesuEvaluator(nil, common.Address{}),
	}
	engine := monitor.NewEngine(mode, a.Config.LiquidateAddress(), oracle.NewLatestPrices(), eval, staticFees{fees: opts.Fees})

	result, err := engine.Compute(ctx, pos)
	if err != nil {
		return monitor.Profitability{}, err
	}

	verdict := "execute"
	if result.Profit.LessThan(minProfit) {
		verdict = "skip"
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("mode", mode.String())
	table.Append("liquidation factor", result.LiquidationFactor.String())
	table.Append("debt to liquidate", result.DebtToLiquidate.String())
	table.Append("min collateral to receive", result.MinCollateralToReceive.String())
	table.Append("simulated profit", result.SimulatedProfit.String())
	table.Append("execution fees", result.ExecutionFees.String())
	table.Append("profit", result.Profit.String())
	table.Append("min profit", minProfit.String())
	table.Append("calls", fmt.Sprintf("%d", len(result.Calls)))
	table.Append("verdict", verdict)
	table.Render()

	return result, nil
}

func (a *App) lookupAsset(name string, amount decimal.Decimal) position.Asset {
	for _, asset := range a.assets() {
		if strings.EqualFold(asset.Name, name) {
			asset.Amount = amount
			return asset
		}
	}
	return position.Asset{Name: name, Decimals: 18, Amount: amount}
}

// staticEvaluator returns fixed sizing. Calls are still encoded by the real
// evaluator when a liquidation contract is configured.
type staticEvaluator struct {
	debt       decimal.Decimal
	collateral decimal.Decimal
	factor     decimal.Decimal
	calls      *position.VesuEvaluator
}

func (s *staticEvaluator) IsLiquidable(context.Context, position.Position, oracle.PriceReader) bool {
	return true
}

func (s *staticEvaluator) LiquidableAmount(context.Context, position.Position, position.LiquidationMode, oracle.PriceReader) (decimal.Decimal, decimal.Decimal, error) {
	return s.debt, s.collateral, nil
}

func (s *staticEvaluator) LiquidationFactor(context.Context, position.Position) (decimal.Decimal, error) {
	if s.factor.IsNegative() || s.factor.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("liquidation factor %s out of range", s.factor)
	}
	return s.factor, nil
}

func (s *staticEvaluator) LiquidationCalls(ctx context.Context, pos position.Position, to common.Address, debt, minCollateral decimal.Decimal) ([]chain.Call, error) {
	if to == (common.Address{}) {
		return nil, nil
	}
	return s.calls.LiquidationCalls(ctx, pos, to, debt, minCollateral)
}

type staticFees struct {
	fees decimal.Decimal
}

func (s staticFees) EstimateFeesCost(context.Context, []chain.Call) (decimal.Decimal, error) {
	return s.fees, nil
}

var (
	_ position.Evaluator   = (*staticEvaluator)(nil)
	_ monitor.FeeEstimator = staticFees{}
)
