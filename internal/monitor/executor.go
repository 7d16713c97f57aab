package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vesu-liquidator/internal/alerting"
	"vesu-liquidator/internal/metrics"
	"vesu-liquidator/internal/position"
	"vesu-liquidator/internal/storage"
)

// attemptLiquidation liquidates pos when its estimated profit reaches the
// threshold. The estimated profit is returned whether or not anything was sent.
func (m *Monitor) attemptLiquidation(ctx context.Context, pos position.Position) (decimal.Decimal, error) {
	result, err := m.engine.Compute(ctx, pos)
	if err != nil {
		return decimal.Zero, err
	}

	if result.Profit.LessThan(m.opts.MinProfit) {
		metrics.LiquidationsTotal.WithLabelValues("skipped").Inc()
		m.logger.Info().
			Str("position", pos.Key()).
			Str("profit", result.Profit.String()).
			Str("min_profit", m.opts.MinProfit.String()).
			Msg("position not worth liquidating, skipping")
		return result.Profit, nil
	}

	m.logger.Info().
		Str("position", pos.Key()).
		Str("profit", result.Profit.String()).
		Str("debt_asset", pos.Debt.Name).
		Msg("trying to liquidate position")

	tx, err := m.deps.Executor.ExecuteTransactions(ctx, result.Calls)
	if err != nil {
		return result.Profit, fmt.Errorf("execute liquidation: %w", err)
	}
	if err := m.deps.Executor.WaitForAcceptance(ctx, tx); err != nil {
		return result.Profit, fmt.Errorf("wait for %s: %w", tx.Hex(), err)
	}

	metrics.LiquidationsTotal.WithLabelValues("executed").Inc()
	metrics.EstimatedProfit.Add(result.Profit.InexactFloat64())
	m.logger.Info().
		Str("position", pos.Key()).
		Str("profit", result.Profit.String()).
		Str("tx", tx.Hex()).
		Msg("liquidated position")

	m.report(ctx, pos, result.Profit, tx)
	return result.Profit, nil
}

// report records and announces a confirmed liquidation. Failures here are
// logged only; the liquidation already happened.
func (m *Monitor) report(ctx context.Context, pos position.Position, profit decimal.Decimal, tx common.Hash) {
	executedAt := time.Now().UTC()

	if m.deps.Liquidations != nil {
		rec := storage.LiquidationRecord{
			PositionKey:     pos.Key(),
			User:            pos.User,
			DebtAsset:       pos.Debt.Name,
			CollateralAsset: pos.Collateral.Name,
			Profit:          profit,
			TxHash:          tx,
			ExecutedAt:      executedAt,
		}
		if _, err := m.deps.Liquidations.InsertLiquidation(ctx, rec); err != nil {
			m.logger.Error().Err(err).Str("tx", tx.Hex()).Msg("failed to persist liquidation record")
		}
	}

	if m.deps.Notifier != nil {
		note := alerting.Notification{
			PositionKey:     pos.Key(),
			User:            pos.User.Hex(),
			DebtAsset:       pos.Debt.Name,
			CollateralAsset: pos.Collateral.Name,
			Profit:          profit,
			MinProfit:       m.opts.MinProfit,
			TxHash:          tx.Hex(),
			ExecutedAt:      executedAt,
		}
		if err := m.deps.Notifier.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("tx", tx.Hex()).Msg("failed to dispatch liquidation notification")
		}
	}
}
