package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vesu-liquidator/internal/alerting"
	"vesu-liquidator/internal/chain"
	"vesu-liquidator/internal/metrics"
	"vesu-liquidator/internal/oracle"
	"vesu-liquidator/internal/position"
	"vesu-liquidator/internal/storage"
)

// ErrProducerClosed is returned when the position update stream ends.
var ErrProducerClosed = errors.New("monitoring stopped unexpectedly")

// Options is the immutable protocol configuration of the monitor.
type Options struct {
	CheckInterval    time.Duration
	Mode             position.LiquidationMode
	LiquidateAddress common.Address
	MinProfit        decimal.Decimal
	// IsolateFailures turns a failed liquidation attempt into a logged skip
	// instead of stopping the monitor.
	IsolateFailures bool
}

// Deps are the collaborators the monitor drives. Liquidations and Notifier are optional.
type Deps struct {
	Book         *position.Book
	Updates      <-chan position.Update
	Prices       oracle.PriceReader
	Evaluator    position.Evaluator
	Executor     chain.Executor
	Positions    storage.PositionStore
	Liquidations storage.LiquidationStore
	Notifier     alerting.Notifier
}

// Monitor watches positions and liquidates the profitable ones.
type Monitor struct {
	opts   Options
	deps   Deps
	engine *Engine
	logger zerolog.Logger
}

// New constructs a Monitor.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Monitor, error) {
	if opts.CheckInterval <= 0 {
		return nil, errors.New("check interval must be positive")
	}
	switch {
	case deps.Book == nil:
		return nil, errors.New("position book not configured")
	case deps.Updates == nil:
		return nil, errors.New("position updates not configured")
	case deps.Evaluator == nil:
		return nil, errors.New("position evaluator not configured")
	case deps.Executor == nil:
		return nil, errors.New("chain executor not configured")
	case deps.Positions == nil:
		return nil, errors.New("position store not configured")
	}

	return &Monitor{
		opts:   opts,
		deps:   deps,
		engine: NewEngine(opts.Mode, opts.LiquidateAddress, deps.Prices, deps.Evaluator, deps.Executor),
		logger: logger.With().Str("component", "monitor").Logger(),
	}, nil
}

// Run multiplexes the sweep ticker and the update stream, one event at a time.
// It returns on the first unrecoverable error, when the update stream closes,
// or when ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	metrics.BookSize.Set(float64(m.deps.Book.Len()))
	m.logger.Info().
		Dur("interval", m.opts.CheckInterval).
		Str("mode", m.opts.Mode.String()).
		Str("min_profit", m.opts.MinProfit.String()).
		Int("positions", m.deps.Book.Len()).
		Msg("monitoring started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.sweep(ctx); err != nil {
				return fmt.Errorf("monitor positions: %w", err)
			}
		case update, ok := <-m.deps.Updates:
			if !ok {
				return ErrProducerClosed
			}
			if err := m.apply(ctx, update); err != nil {
				return err
			}
		}
	}
}

func (m *Monitor) apply(ctx context.Context, update position.Update) error {
	snapshot := m.deps.Book.MergeSnapshot(update.Position)
	if err := m.deps.Positions.SavePositions(ctx, snapshot, update.Block); err != nil {
		return fmt.Errorf("save positions at block %d: %w", update.Block, err)
	}
	metrics.BookSize.Set(float64(len(snapshot)))
	m.logger.Debug().
		Uint64("block", update.Block).
		Str("position", update.Position.Key()).
		Int("positions", len(snapshot)).
		Msg("position merged")
	return nil
}

// sweep checks every position once, in book order, under a single read view.
func (m *Monitor) sweep(ctx context.Context) error {
	started := time.Now()
	err := m.deps.Book.View(func(positions []position.Position) error {
		if len(positions) == 0 {
			metrics.SweepsTotal.WithLabelValues("empty").Inc()
			m.logger.Debug().Msg("no positions to monitor")
			return nil
		}

		m.logger.Info().Int("positions", len(positions)).Msg("checking if any position is liquidable")
		found := 0
		for _, pos := range positions {
			if !m.deps.Evaluator.IsLiquidable(ctx, pos, m.deps.Prices) {
				continue
			}
			found++
			metrics.LiquidablePositions.Inc()
			m.logger.Info().Str("position", pos.Key()).Str("pair", pos.String()).Msg("liquidable position found")

			if _, err := m.attemptLiquidation(ctx, pos); err != nil {
				metrics.LiquidationsTotal.WithLabelValues("failed").Inc()
				if !m.opts.IsolateFailures {
					return fmt.Errorf("liquidate position %s: %w", pos.Key(), err)
				}
				m.logger.Error().Err(err).Str("position", pos.Key()).Msg("liquidation attempt failed, skipping")
			}
		}
		if found == 0 {
			m.logger.Info().Msg("no liquidable position found")
		}
		metrics.SweepsTotal.WithLabelValues("ok").Inc()
		return nil
	})
	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.SweepsTotal.WithLabelValues("error").Inc()
	}
	return err
}
