package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"vesu-liquidator/internal/oracle"
	"vesu-liquidator/internal/position"
)

// Show prints the persisted position book and, when available, recent liquidations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	snapshot, block, err := st.positions.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	var prices oracle.PriceReader
	if opts.WithPrices {
		latest := oracle.NewLatestPrices()
		refresher := oracle.NewRefresher(a.newFetcher(), latest, a.Config.AssetNames(), a.Logger)
		if err := refresher.Refresh(ctx, time.Now().UTC()); err != nil {
			a.Logger.Warn().Err(err).Msg("some prices could not be fetched")
		}
		prices = latest
	}

	fmt.Fprintf(os.Stdout, "positions at block %d: %d\n", block, len(snapshot))
	if len(snapshot) > 0 {
		printPositions(snapshot, prices)
	}

	if st.liquidations == nil {
		return nil
	}
	records, err := st.liquidations.ListRecentLiquidations(ctx, opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nrecent liquidations: %d\n", len(records))
	if len(records) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time (UTC)", "User", "Pair", "Profit", "Tx")
	for _, rec := range records {
		table.Append(
			rec.ExecutedAt.UTC().Format(time.RFC3339),
			shortHex(rec.User.Hex()),
			rec.CollateralAsset+"/"+rec.DebtAsset,
			rec.Profit.StringFixed(6),
			rec.TxHash.Hex(),
		)
	}
	table.Render()
	return nil
}

func printPositions(snapshot map[string]position.Position, prices oracle.PriceReader) {
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	evaluator := position.NewVesuEvaluator(nil, common.Address{})
	table := tablewriter.NewWriter(os.Stdout)
	if prices != nil {
		table.Header("Key", "User", "Collateral", "Debt", "LLTV", "LTV", "Liquidable")
	} else {
		table.Header("Key", "User", "Collateral", "Debt", "LLTV")
	}

	for _, key := range keys {
		pos := snapshot[key]
		row := []any{
			shortHex(key),
			shortHex(pos.User.Hex()),
			pos.Collateral.Amount.String() + " " + pos.Collateral.Name,
			pos.Debt.Amount.String() + " " + pos.Debt.Name,
			pos.LLTV.StringFixed(4),
		}
		if prices != nil {
			row = append(row, currentLTV(pos, prices), fmt.Sprintf("%t", evaluator.IsLiquidable(context.Background(), pos, prices)))
		}
		table.Append(row...)
	}
	table.Render()
}

func currentLTV(pos position.Position, prices oracle.PriceReader) string {
	debtPrice, ok := prices.Price(pos.Debt.Name)
	if !ok {
		return "-"
	}
	collateralPrice, ok := prices.Price(pos.Collateral.Name)
	if !ok {
		return "-"
	}
	collateralValue := pos.Collateral.Amount.Mul(collateralPrice)
	if !collateralValue.IsPositive() {
		return "inf"
	}
	return pos.Debt.Amount.Mul(debtPrice).Div(collateralValue).StringFixed(4)
}

func shortHex(v string) string {
	v = strings.TrimSpace(v)
	if len(v) <= 14 {
		return v
	}
	return v[:8] + "…" + v[len(v)-4:]
}
