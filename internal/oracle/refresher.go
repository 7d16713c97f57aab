package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vesu-liquidator/internal/metrics"
)

// Refresher keeps LatestPrices current for a fixed asset list.
type Refresher struct {
	fetcher PriceFetcher
	prices  *LatestPrices
	assets  []string
	logger  zerolog.Logger
}

// NewRefresher constructs a Refresher.
func NewRefresher(fetcher PriceFetcher, prices *LatestPrices, assets []string, logger zerolog.Logger) *Refresher {
	return &Refresher{
		fetcher: fetcher,
		prices:  prices,
		assets:  assets,
		logger:  logger.With().Str("component", "oracle_refresher").Logger(),
	}
}

// Refresh fetches every asset once. A failed asset keeps its previous price.
func (r *Refresher) Refresh(ctx context.Context, at time.Time) error {
	var errs []error
	for _, asset := range r.assets {
		price, err := r.fetcher.FetchPrice(ctx, asset)
		if err != nil {
			metrics.OracleRefreshes.WithLabelValues(asset, "error").Inc()
			errs = append(errs, fmt.Errorf("fetch %s: %w", asset, err))
			continue
		}
		r.prices.Set(asset, price, at)
		metrics.OracleRefreshes.WithLabelValues(asset, "success").Inc()
		r.logger.Debug().Str("asset", asset).Str("price", price.String()).Msg("price updated")
	}
	return errors.Join(errs...)
}
