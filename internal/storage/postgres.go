package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"vesu-liquidator/internal/position"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	deletePositionsSQL = `DELETE FROM positions;`

	insertPositionSQL = `INSERT INTO positions (
        position_key,
        pool_id,
        user_address,
        payload,
        block_number
    ) VALUES ($1,$2,$3,$4,$5);`

	upsertIndexerStateSQL = `INSERT INTO indexer_state (id, block_number, updated_at)
    VALUES (1, $1, NOW())
    ON CONFLICT (id) DO UPDATE
    SET block_number = EXCLUDED.block_number,
        updated_at   = EXCLUDED.updated_at;`

	listPositionsSQL = `SELECT position_key, payload FROM positions ORDER BY position_key;`

	selectIndexerBlockSQL = `SELECT block_number FROM indexer_state WHERE id = 1;`

	insertLiquidationSQL = `INSERT INTO liquidations (
        position_key,
        user_address,
        debt_asset,
        collateral_asset,
        profit,
        tx_hash,
        executed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (tx_hash) DO UPDATE
    SET profit = EXCLUDED.profit
    RETURNING id, created_at;`

	listRecentLiquidationsSQL = `SELECT
        id,
        position_key,
        user_address,
        debt_asset,
        collateral_asset,
        profit::text,
        tx_hash,
        executed_at,
        created_at
    FROM liquidations
    ORDER BY executed_at DESC
    LIMIT $1;`

	listLiquidationsBetweenSQL = `SELECT
        id,
        position_key,
        user_address,
        debt_asset,
        collateral_asset,
        profit::text,
        tx_hash,
        executed_at,
        created_at
    FROM liquidations
    WHERE executed_at >= $1
      AND executed_at < $2
    ORDER BY executed_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store persists positions and liquidations in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// SavePositions replaces the stored snapshot and block number in one transaction.
func (s *Store) SavePositions(ctx context.Context, positions map[string]position.Position, block uint64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	batch.Queue(deletePositionsSQL)
	for key, pos := range positions {
		payload, err := json.Marshal(pos)
		if err != nil {
			return fmt.Errorf("encode position %s: %w", key, err)
		}
		batch.Queue(insertPositionSQL, key, pos.PoolID.Hex(), pos.User.Hex(), payload, int64(block))
	}
	batch.Queue(upsertIndexerStateSQL, int64(block))

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadPositions returns the stored snapshot and the block it was taken at.
func (s *Store) LoadPositions(ctx context.Context) (map[string]position.Position, uint64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, 0, err
	}

	var block int64
	if err := pool.QueryRow(ctx, selectIndexerBlockSQL).Scan(&block); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, fmt.Errorf("load indexer block: %w", err)
	}

	rows, err := pool.Query(ctx, listPositionsSQL)
	if err != nil {
		return nil, 0, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]position.Position)
	for rows.Next() {
		var (
			key     string
			payload []byte
		)
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, 0, err
		}
		var pos position.Position
		if err := json.Unmarshal(payload, &pos); err != nil {
			return nil, 0, fmt.Errorf("decode position %s: %w", key, err)
		}
		positions[key] = pos
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return positions, uint64(block), nil
}

// InsertLiquidation persists an executed liquidation.
func (s *Store) InsertLiquidation(ctx context.Context, rec LiquidationRecord) (LiquidationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return LiquidationRecord{}, err
	}

	row := pool.QueryRow(ctx, insertLiquidationSQL,
		rec.PositionKey,
		rec.User.Hex(),
		rec.DebtAsset,
		rec.CollateralAsset,
		rec.Profit.String(),
		rec.TxHash.Hex(),
		rec.ExecutedAt,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return LiquidationRecord{}, fmt.Errorf("insert liquidation: %w", err)
	}
	return rec, nil
}

// ListRecentLiquidations lists the most recent liquidations.
func (s *Store) ListRecentLiquidations(ctx context.Context, limit int) ([]LiquidationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentLiquidationsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent liquidations: %w", err)
	}
	return collectLiquidations(rows)
}

// ListLiquidationsBetween lists liquidations executed within a time window.
func (s *Store) ListLiquidationsBetween(ctx context.Context, from, to time.Time) ([]LiquidationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listLiquidationsBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list liquidations between: %w", err)
	}
	return collectLiquidations(rows)
}

func collectLiquidations(rows pgx.Rows) ([]LiquidationRecord, error) {
	defer rows.Close()

	records := make([]LiquidationRecord, 0)
	for rows.Next() {
		var (
			rec       LiquidationRecord
			user      string
			profitStr string
			txHash    string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.PositionKey,
			&user,
			&rec.DebtAsset,
			&rec.CollateralAsset,
			&profitStr,
			&txHash,
			&rec.ExecutedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		profit, err := decimal.NewFromString(profitStr)
		if err != nil {
			return nil, fmt.Errorf("parse profit: %w", err)
		}
		rec.Profit = profit
		rec.User = common.HexToAddress(user)
		rec.TxHash = common.HexToHash(txHash)
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

var (
	_ PositionStore    = (*Store)(nil)
	_ LiquidationStore = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
