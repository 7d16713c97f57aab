package app

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesu-liquidator/internal/config"
	"vesu-liquidator/internal/position"
	"vesu-liquidator/internal/storage"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Storage:     config.StorageConfig{Backend: "json", JSONPath: filepath.Join(t.TempDir(), "positions.json")},
		Liquidation: config.LiquidationConfig{Mode: "partial", MinProfit: "500"},
		Indexer:     config.IndexerConfig{StartBlock: 100},
		Assets: []config.AssetConfig{
			{Name: "ETH", Address: "0x0000000000000000000000000000000000000e7e", Decimals: 18},
			{Name: "USDC", Address: "0x0000000000000000000000000000000000000d5c", Decimals: 6},
		},
	}
	return NewApp(cfg, zerolog.Nop())
}

func TestStartBlock(t *testing.T) {
	a := testApp(t)
	assert.Equal(t, uint64(100), a.startBlock(0))
	assert.Equal(t, uint64(100), a.startBlock(42))
	assert.Equal(t, uint64(500), a.startBlock(500))
}

func TestRunRejectsMissingLiquidateAddress(t *testing.T) {
	a := testApp(t)
	a.Config.Ethereum = config.EthereumConfig{ChainID: 1, SingletonAddress: "0x00000000000000000000000000000000000000bb"}
	a.Config.Monitoring.CheckInterval = time.Second
	a.Config.Confirmation = config.ConfirmationConfig{PollInterval: time.Second, MaxAttempts: 1}
	a.Config.Oracle.RefreshInterval = time.Second
	a.Config.Indexer.BatchSize = 10
	require.NoError(t, a.Config.Validate())

	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "liquidation.liquidate_address")
}

func TestSimulateUsesEngine(t *testing.T) {
	a := testApp(t)

	result, err := a.Simulate(context.Background(), SimulateOptions{
		CollateralAsset: "ETH",
		DebtAsset:       "USDC",
		Collateral:      decimal.NewFromInt(2000),
		Debt:            decimal.NewFromInt(1000),
		Factor:          decimal.RequireFromString("0.1"),
		Fees:            decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.True(t, result.DebtToLiquidate.Equal(decimal.NewFromInt(100)))
	assert.True(t, result.Profit.Equal(decimal.NewFromInt(845)))
	assert.Empty(t, result.Calls)
}

func TestSimulateEncodesCallsWhenContractConfigured(t *testing.T) {
	a := testApp(t)
	a.Config.Liquidation.LiquidateAddress = "0x00000000000000000000000000000000000000aa"

	result, err := a.Simulate(context.Background(), SimulateOptions{
		CollateralAsset: "eth",
		DebtAsset:       "usdc",
		Collateral:      decimal.NewFromInt(2),
		Debt:            decimal.NewFromInt(1000),
		Factor:          decimal.RequireFromString("0.05"),
		Mode:            "full",
	})
	require.NoError(t, err)
	require.Len(t, result.Calls, 1)
	assert.Equal(t, common.HexToAddress("0xaa"), result.Calls[0].To)
	assert.True(t, result.DebtToLiquidate.IsZero())
}

func TestSimulateRejectsBadFactor(t *testing.T) {
	a := testApp(t)
	_, err := a.Simulate(context.Background(), SimulateOptions{Factor: decimal.RequireFromString("1.5")})
	assert.Error(t, err)
}

func TestOpenStoresJSONBackend(t *testing.T) {
	a := testApp(t)
	st, closeStores, err := a.openStores(context.Background())
	require.NoError(t, err)
	defer closeStores()

	assert.IsType(t, &storage.JSONStore{}, st.positions)
	assert.Nil(t, st.liquidations)

	a.Config.Storage.Backend = "postgres"
	_, _, err = a.openStores(context.Background())
	assert.Error(t, err)
}

func sampleRecords() []storage.LiquidationRecord {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []storage.LiquidationRecord{
		{
			PositionKey:     "0x01",
			User:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
			CollateralAsset: "ETH",
			DebtAsset:       "USDC",
			Profit:          decimal.RequireFromString("1.5"),
			TxHash:          common.HexToHash("0xaa"),
			ExecutedAt:      base,
		},
		{
			PositionKey:     "0x02",
			User:            common.HexToAddress("0x2222222222222222222222222222222222222222"),
			CollateralAsset: "WBTC",
			DebtAsset:       "USDT",
			Profit:          decimal.RequireFromString("2.25"),
			TxHash:          common.HexToHash("0xbb"),
			ExecutedAt:      base.Add(time.Hour),
		},
	}
}

func TestCumulativeProfit(t *testing.T) {
	x, y := cumulativeProfit(sampleRecords())
	require.Len(t, x, 2)
	assert.Equal(t, []float64{1.5, 3.75}, y)
}

func TestWriteLiquidationsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "liquidations.csv")
	require.NoError(t, writeLiquidationsCSV(path, sampleRecords()))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "executed_at", rows[0][0])
	assert.Equal(t, "2024-05-01T12:00:00Z", rows[1][0])
	assert.Equal(t, "2.25", rows[2][5])
}

func TestResumeFromStoredSnapshot(t *testing.T) {
	a := testApp(t)
	store := storage.NewJSONStore(a.Config.Storage.JSONPath)
	pos := position.Position{
		PoolID: common.HexToHash("0x01"),
		User:   common.HexToAddress("0x01"),
		LLTV:   decimal.RequireFromString("0.8"),
	}
	require.NoError(t, store.SavePositions(context.Background(), map[string]position.Position{pos.Key(): pos}, 250))

	snapshot, block, err := store.LoadPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot, 1)
	from := a.startBlock(block)
	assert.Equal(t, uint64(250), from)
	assert.LessOrEqual(t, from, block)
}

func TestReplayingStoredBlockIsIdempotent(t *testing.T) {
	a := testApp(t)
	store := storage.NewJSONStore(a.Config.Storage.JSONPath)
	first := position.Position{
		PoolID: common.HexToHash("0x01"),
		User:   common.HexToAddress("0x01"),
		Debt:   position.Asset{Name: "USDC", Amount: decimal.NewFromInt(10)},
		LLTV:   decimal.RequireFromString("0.8"),
	}
	second := first
	second.User = common.HexToAddress("0x02")
	second.Debt.Amount = decimal.NewFromInt(20)

	// Block 500 carries two updates; the process stopped after persisting the first.
	book := position.NewBook(nil)
	require.NoError(t, store.SavePositions(context.Background(), book.MergeSnapshot(first), 500))

	snapshot, block, err := store.LoadPositions(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(500), a.startBlock(block))

	resumed := position.NewBook(snapshot)
	resumed.Merge(first)
	resumed.Merge(second)
	assert.Equal(t, 2, resumed.Len())
	got, ok := resumed.Get(first.Key())
	require.True(t, ok)
	assert.True(t, got.Debt.Amount.Equal(decimal.NewFromInt(10)))
}
