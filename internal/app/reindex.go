package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"vesu-liquidator/internal/chain"
	"vesu-liquidator/internal/position"
)

// Reindex scans a block range once and stores the resulting position snapshot.
func (a *App) Reindex(ctx context.Context, opts ReindexOptions) error {
	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	client, err := a.dialChain(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	singleton := chain.NewSingleton(client, common.HexToAddress(a.Config.Ethereum.SingletonAddress))
	idx, err := a.newIndexer(client, singleton)
	if err != nil {
		return err
	}

	book := position.NewBook(nil)
	from := opts.From
	if !opts.Fresh {
		snapshot, stored, err := st.positions.LoadPositions(ctx)
		if err != nil {
			return fmt.Errorf("load positions: %w", err)
		}
		book = position.NewBook(snapshot)
		if from == 0 {
			from = a.startBlock(stored)
		}
	}
	if from == 0 {
		from = a.Config.Indexer.StartBlock
	}

	to := opts.To
	if to == 0 {
		if to, err = idx.Head(ctx); err != nil {
			return err
		}
	}
	if from > to {
		return errors.New("reindex range is empty, check --from/--to")
	}

	updates := 0
	err = idx.Index(ctx, from, to, func(update position.Update) error {
		book.Merge(update.Position)
		updates++
		return nil
	})
	if err != nil {
		return err
	}

	a.Logger.Info().
		Uint64("from", from).
		Uint64("to", to).
		Int("updates", updates).
		Int("positions", book.Len()).
		Msg("reindex completed")

	if opts.DryRun {
		a.Logger.Warn().Msg("reindex dry-run: snapshot not written")
		return nil
	}
	return st.positions.SavePositions(ctx, book.Snapshot(), to)
}
