package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"vesu-liquidator/internal/metrics"
	"vesu-liquidator/internal/position"
)

const eventABIJSON = `[{"type":"event","name":"PositionUpdated","anonymous":false,"inputs":[
{"name":"poolId","type":"bytes32","indexed":true},
{"name":"user","type":"address","indexed":true},
{"name":"collateralAsset","type":"address","indexed":true},
{"name":"debtAsset","type":"address","indexed":false},
{"name":"collateral","type":"uint256","indexed":false},
{"name":"debt","type":"uint256","indexed":false}]}]`

var (
	eventABI      abi.ABI
	positionEvent abi.Event
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(eventABIJSON))
	if err != nil {
		panic("failed to parse PositionUpdated ABI: " + err.Error())
	}
	eventABI = parsed
	positionEvent = parsed.Events["PositionUpdated"]
}

// Backend is the log access the indexer needs from an RPC client.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LTVReader returns the liquidation LTV of a pool pair.
type LTVReader interface {
	MaxLTV(ctx context.Context, poolID common.Hash, collateral, debt common.Address) (decimal.Decimal, error)
}

// Options configure the indexer.
type Options struct {
	Contract      common.Address
	Assets        []position.Asset
	PollInterval  time.Duration
	BatchSize     uint64
	Confirmations uint64
	// RateLimit caps RPC requests per second; zero disables throttling.
	RateLimit float64
}

// Indexer turns PositionUpdated logs into position updates.
type Indexer struct {
	backend Backend
	ltv     LTVReader
	opts    Options
	assets  map[common.Address]position.Asset
	lltvs   map[string]decimal.Decimal
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New constructs an Indexer.
func New(backend Backend, ltv LTVReader, opts Options, logger zerolog.Logger) (*Indexer, error) {
	if backend == nil {
		return nil, errors.New("indexer backend not configured")
	}
	if ltv == nil {
		return nil, errors.New("ltv reader not configured")
	}
	if opts.Contract == (common.Address{}) {
		return nil, errors.New("indexer contract address not configured")
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 2000
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}

	assets := make(map[common.Address]position.Asset, len(opts.Assets))
	for _, asset := range opts.Assets {
		asset.Amount = decimal.Zero
		assets[asset.Address] = asset
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Indexer{
		backend: backend,
		ltv:     ltv,
		opts:    opts,
		assets:  assets,
		lltvs:   make(map[string]decimal.Decimal),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "indexer").Logger(),
	}, nil
}

// Run follows the chain from block from, sending every update to out until ctx
// is cancelled. out is closed when Run returns.
func (i *Indexer) Run(ctx context.Context, from uint64, out chan<- position.Update) error {
	defer close(out)

	emit := func(update position.Update) error {
		select {
		case out <- update:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	next := from
	i.logger.Info().Uint64("from_block", from).Msg("indexer started")
	for {
		head, err := i.Head(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			i.logger.Warn().Err(err).Msg("failed to read chain head")
		}

		for err == nil && next <= head {
			to := min(next+i.opts.BatchSize-1, head)
			if err = i.Index(ctx, next, to, emit); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				i.logger.Warn().Err(err).Uint64("from", next).Uint64("to", to).Msg("failed to index block range, retrying")
				break
			}
			next = to + 1
		}

		timer := time.NewTimer(i.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Head returns the latest block with enough confirmations.
func (i *Indexer) Head(ctx context.Context) (uint64, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	head, err := i.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	if head < i.opts.Confirmations {
		return 0, nil
	}
	return head - i.opts.Confirmations, nil
}

// Index emits the updates found in [from, to], in log order.
func (i *Indexer) Index(ctx context.Context, from, to uint64, emit func(position.Update) error) error {
	for start := from; start <= to; {
		end := min(start+i.opts.BatchSize-1, to)
		if err := i.limiter.Wait(ctx); err != nil {
			return err
		}
		logs, err := i.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{i.opts.Contract},
			Topics:    [][]common.Hash{{positionEvent.ID}},
		})
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", start, end, err)
		}

		for _, entry := range logs {
			if entry.Removed {
				continue
			}
			update, ok, err := i.decode(ctx, entry)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := emit(update); err != nil {
				return err
			}
			metrics.IndexedUpdates.Inc()
		}

		metrics.IndexedBlock.Set(float64(end))
		i.logger.Debug().Uint64("from", start).Uint64("to", end).Int("logs", len(logs)).Msg("indexed block range")
		if end == to {
			break
		}
		start = end + 1
	}
	return nil
}

func (i *Indexer) decode(ctx context.Context, entry types.Log) (position.Update, bool, error) {
	if len(entry.Topics) != 4 || entry.Topics[0] != positionEvent.ID {
		return position.Update{}, false, nil
	}
	values, err := eventABI.Unpack(positionEvent.Name, entry.Data)
	if err != nil {
		return position.Update{}, false, fmt.Errorf("decode log %s#%d: %w", entry.TxHash.Hex(), entry.Index, err)
	}
	if len(values) != 3 {
		return position.Update{}, false, fmt.Errorf("decode log %s#%d: unexpected field count", entry.TxHash.Hex(), entry.Index)
	}
	debtAddr, ok1 := values[0].(common.Address)
	collateralRaw, ok2 := values[1].(*big.Int)
	debtRaw, ok3 := values[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return position.Update{}, false, fmt.Errorf("decode log %s#%d: unexpected field types", entry.TxHash.Hex(), entry.Index)
	}

	poolID := entry.Topics[1]
	user := common.BytesToAddress(entry.Topics[2].Bytes())
	collateralAddr := common.BytesToAddress(entry.Topics[3].Bytes())

	collateral, ok := i.assets[collateralAddr]
	if !ok {
		i.logger.Warn().Str("asset", collateralAddr.Hex()).Msg("unknown collateral asset, skipping update")
		return position.Update{}, false, nil
	}
	debt, ok := i.assets[debtAddr]
	if !ok {
		i.logger.Warn().Str("asset", debtAddr.Hex()).Msg("unknown debt asset, skipping update")
		return position.Update{}, false, nil
	}
	collateral.Amount = decimal.NewFromBigInt(collateralRaw, -collateral.Decimals)
	debt.Amount = decimal.NewFromBigInt(debtRaw, -debt.Decimals)

	lltv, err := i.lltv(ctx, poolID, collateralAddr, debtAddr)
	if err != nil {
		return position.Update{}, false, err
	}

	return position.Update{
		Block: entry.BlockNumber,
		Position: position.Position{
			PoolID:     poolID,
			User:       user,
			Collateral: collateral,
			Debt:       debt,
			LLTV:       lltv,
		},
	}, true, nil
}

// lltv is cached per pool pair.
func (i *Indexer) lltv(ctx context.Context, poolID common.Hash, collateral, debt common.Address) (decimal.Decimal, error) {
	key := poolID.Hex() + collateral.Hex() + debt.Hex()
	if cached, ok := i.lltvs[key]; ok {
		return cached, nil
	}
	if err := i.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	value, err := i.ltv.MaxLTV(ctx, poolID, collateral, debt)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read lltv: %w", err)
	}
	i.lltvs[key] = value
	return value, nil
}
