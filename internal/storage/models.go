package storage

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vesu-liquidator/internal/position"
)

// LiquidationRecord captures an executed liquidation for auditing and export.
type LiquidationRecord struct {
	ID              int64
	PositionKey     string
	User            common.Address
	DebtAsset       string
	CollateralAsset string
	Profit          decimal.Decimal
	TxHash          common.Hash
	ExecutedAt      time.Time
	CreatedAt       time.Time
}

// PositionStore persists full snapshots of the position book.
type PositionStore interface {
	SavePositions(ctx context.Context, positions map[string]position.Position, block uint64) error
	LoadPositions(ctx context.Context) (map[string]position.Position, uint64, error)
}

// LiquidationStore records executed liquidations.
type LiquidationStore interface {
	InsertLiquidation(ctx context.Context, rec LiquidationRecord) (LiquidationRecord, error)
	ListRecentLiquidations(ctx context.Context, limit int) ([]LiquidationRecord, error)
	ListLiquidationsBetween(ctx context.Context, from, to time.Time) ([]LiquidationRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
