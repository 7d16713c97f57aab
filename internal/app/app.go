package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"vesu-liquidator/internal/alerting"
	"vesu-liquidator/internal/chain"
	"vesu-liquidator/internal/config"
	"vesu-liquidator/internal/indexer"
	"vesu-liquidator/internal/metrics"
	"vesu-liquidator/internal/monitor"
	"vesu-liquidator/internal/oracle"
	"vesu-liquidator/internal/position"
	"vesu-liquidator/internal/scheduler"
	"vesu-liquidator/internal/storage"
	"vesu-liquidator/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

type stores struct {
	positions    storage.PositionStore
	liquidations storage.LiquidationStore
	pg           *storage.Store
}

// openStores wires the configured snapshot backend. Liquidation records need
// PostgreSQL and are disabled without a DSN.
func (a *App) openStores(ctx context.Context) (*stores, func(), error) {
	out := &stores{}
	closer := func() {}

	if a.Config.Database.DSN != "" {
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, err
		}
		out.pg = storage.NewStore(pool)
		out.liquidations = out.pg
		closer = out.pg.Close
	}

	switch a.Config.Storage.Backend {
	case "postgres":
		if out.pg == nil {
			closer()
			return nil, nil, errors.New("postgres storage selected but database.dsn is empty")
		}
		out.positions = out.pg
	default:
		out.positions = storage.NewJSONStore(a.Config.Storage.JSONPath)
	}
	return out, closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
}

func (a *App) newFetcher() *oracle.Fetcher {
	return oracle.NewFetcher(oracle.FetcherOptions{
		BaseURL:   a.Config.Oracle.BaseURL,
		APIKey:    a.Config.Oracle.APIKey,
		Quote:     a.Config.Oracle.Quote,
		Timeout:   a.Config.Oracle.RequestTimeout,
		UserAgent: a.Config.Oracle.UserAgent,
	}, a.Logger)
}

func (a *App) dialChain(ctx context.Context) (*ethclient.Client, error) {
	if a.Config.Ethereum.RPCURL == "" {
		return nil, errors.New("ethereum.rpc_url is required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, a.Config.Ethereum.RequestTimeout)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, a.Config.Ethereum.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return client, nil
}

func (a *App) newAccount(client *ethclient.Client) (*chain.Account, error) {
	cfg := a.Config.Ethereum
	return chain.NewAccount(client, chain.AccountOptions{
		ChainID:          big.NewInt(cfg.ChainID),
		PrivateKey:       cfg.PrivateKey,
		MulticallAddress: common.HexToAddress(cfg.MulticallAddress),
		GasBufferPct:     cfg.GasBufferPct,
		PollInterval:     a.Config.Confirmation.PollInterval,
		MaxAttempts:      a.Config.Confirmation.MaxAttempts,
	}, a.Logger)
}

func (a *App) assets() []position.Asset {
	out := make([]position.Asset, 0, len(a.Config.Assets))
	for _, asset := range a.Config.Assets {
		out = append(out, position.Asset{
			Name:     asset.Name,
			Address:  common.HexToAddress(asset.Address),
			Decimals: asset.Decimals,
		})
	}
	return out
}

func (a *App) newIndexer(client *ethclient.Client, singleton *chain.Singleton) (*indexer.Indexer, error) {
	cfg := a.Config.Indexer
	return indexer.New(client, singleton, indexer.Options{
		Contract:      common.HexToAddress(a.Config.Ethereum.SingletonAddress),
		Assets:        a.assets(),
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
		Confirmations: cfg.Confirmations,
		RateLimit:     cfg.RateLimit,
	}, a.Logger)
}

func (a *App) monitorOptions() (monitor.Options, error) {
	mode, err := a.Config.LiquidationMode()
	if err != nil {
		return monitor.Options{}, err
	}
	minProfit, err := a.Config.MinProfit()
	if err != nil {
		return monitor.Options{}, err
	}
	return monitor.Options{
		CheckInterval:    a.Config.Monitoring.CheckInterval,
		Mode:             mode,
		LiquidateAddress: a.Config.LiquidateAddress(),
		MinProfit:        minProfit,
		IsolateFailures:  a.Config.Monitoring.IsolateFailures,
	}, nil
}

// startBlock resumes at the persisted block, never before the configured start.
// The stored block is replayed since the snapshot may hold only part of it.
func (a *App) startBlock(stored uint64) uint64 {
	return max(stored, a.Config.Indexer.StartBlock)
}

// Run executes the long-running liquidation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Config.ValidateRun(); err != nil {
		return err
	}

	opts, err := a.monitorOptions()
	if err != nil {
		return err
	}

	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	if st.pg != nil {
		unlock, acquired, err := st.pg.TryAdvisoryLock(ctx, a.Config.Database.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			return errors.New("another liquidator instance holds the advisory lock")
		}
		defer unlock()
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; liquidation records disabled")
	}

	snapshot, storedBlock, err := st.positions.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	book := position.NewBook(snapshot)

	client, err := a.dialChain(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	account, err := a.newAccount(client)
	if err != nil {
		return err
	}
	singleton := chain.NewSingleton(client, common.HexToAddress(a.Config.Ethereum.SingletonAddress))
	evaluator := position.NewVesuEvaluator(singleton, account.Address())

	idx, err := a.newIndexer(client, singleton)
	if err != nil {
		return err
	}

	prices := oracle.NewLatestPrices()
	refresher := oracle.NewRefresher(a.newFetcher(), prices, a.Config.AssetNames(), a.Logger)
	sched := scheduler.New(scheduler.Options{
		Name:      "oracle",
		Interval:  a.Config.Oracle.RefreshInterval,
		Immediate: true,
	}, a.Logger)

	updates := make(chan position.Update, a.Config.Indexer.Buffer)
	mon, err := monitor.New(opts, monitor.Deps{
		Book:         book,
		Updates:      updates,
		Prices:       prices,
		Evaluator:    evaluator,
		Executor:     account,
		Positions:    st.positions,
		Liquidations: st.liquidations,
		Notifier:     a.newNotifier(),
	}, a.Logger)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Str("worker", name).Msg("background worker stopped")
			}
		}()
	}

	spawn("oracle", func(ctx context.Context) error { return sched.Run(ctx, refresher.Refresh) })
	from := a.startBlock(storedBlock)
	spawn("indexer", func(ctx context.Context) error { return idx.Run(ctx, from, updates) })
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		spawn("metrics", func(ctx context.Context) error { return metrics.Serve(ctx, addr, a.Logger) })
	}

	a.Logger.Info().
		Str("account", account.Address().Hex()).
		Int("positions", book.Len()).
		Uint64("from_block", from).
		Str("version", version.Version).
		Msg("starting liquidation service")

	err = mon.Run(runCtx)
	stop()
	wg.Wait()

	if ctx.Err() != nil {
		a.Logger.Info().Msg("liquidation service stopped")
		return nil
	}
	a.Logger.Error().Err(err).Msg("liquidation service terminated with error")
	return err
}

// ExportOptions hold parameters for exporting liquidation history.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	Window  time.Duration
	PNGPath string
	CSVPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit      int
	WithPrices bool
}

// ReindexOptions configure a one-shot indexer pass.
type ReindexOptions struct {
	From   uint64
	To     uint64
	Fresh  bool
	DryRun bool
}
