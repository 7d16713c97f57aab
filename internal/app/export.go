package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"vesu-liquidator/internal/storage"
)

// Export renders executed liquidations as CSV and/or a cumulative profit PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()
	if st.liquidations == nil {
		return errors.New("database not configured; cannot export liquidations")
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-a.Config.ResolveWindow(opts.Window))
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := st.liquidations.ListLiquidationsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no liquidations found for export window")
		return nil
	}
	a.Logger.Info().Int("records", len(records)).Msg("exporting liquidations")

	if opts.CSVPath != "" {
		if err := writeLiquidationsCSV(opts.CSVPath, records); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeProfitPNG(opts.PNGPath, records); err != nil {
			return err
		}
	}
	return nil
}

func writeLiquidationsCSV(path string, records []storage.LiquidationRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"executed_at", "position_key", "user", "collateral_asset", "debt_asset", "profit", "tx_hash"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		record := []string{
			rec.ExecutedAt.UTC().Format(time.RFC3339),
			rec.PositionKey,
			rec.User.Hex(),
			rec.CollateralAsset,
			rec.DebtAsset,
			rec.Profit.String(),
			rec.TxHash.Hex(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// cumulativeProfit returns the running profit total, one point per record.
func cumulativeProfit(records []storage.LiquidationRecord) ([]time.Time, []float64) {
	x := make([]time.Time, len(records))
	y := make([]float64, len(records))
	total := decimal.Zero
	for i, rec := range records {
		total = total.Add(rec.Profit)
		x[i] = rec.ExecutedAt
		y[i] = total.InexactFloat64()
	}
	return x, y
}

func writeProfitPNG(path string, records []storage.LiquidationRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x, y := cumulativeProfit(records)
	// go-chart needs at least two points to draw a line.
	if len(x) == 1 {
		x = append([]time.Time{x[0].Add(-time.Minute)}, x...)
		y = append([]float64{0}, y...)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Cumulative profit",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Profit",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
