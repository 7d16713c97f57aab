package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PriceFetcher retrieves a single asset price in USD.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// FetcherOptions parameterise the HTTP price API client.
type FetcherOptions struct {
	BaseURL   string
	APIKey    string
	Quote     string
	Timeout   time.Duration
	UserAgent string
}

// Fetcher queries an aggregated price API.
type Fetcher struct {
	opts    FetcherOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFetcher constructs a price fetcher.
func NewFetcher(opts FetcherOptions, logger zerolog.Logger) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Quote == "" {
		opts.Quote = "usd"
	}

	return &Fetcher{
		opts:    opts,
		logger:  logger.With().Str("component", "oracle_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type priceResponse struct {
	Price     string `json:"price"`
	Decimals  int32  `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FetchPrice returns the median price of asset quoted in the configured currency.
func (f *Fetcher) FetchPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if f.baseURL == "" {
		return decimal.Decimal{}, errors.New("oracle base url not configured")
	}
	if strings.TrimSpace(asset) == "" {
		return decimal.Decimal{}, errors.New("asset name required")
	}

	endpoint := fmt.Sprintf("%s/data/%s/%s?aggregation=median",
		f.baseURL, url.PathEscape(strings.ToLower(asset)), url.PathEscape(f.opts.Quote))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if f.opts.APIKey != "" {
		req.Header.Set("x-api-key", f.opts.APIKey)
	}
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, body)
	}

	var res priceResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode price response: %w", err)
	}
	raw, err := hexutil.DecodeBig(res.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", res.Price, err)
	}
	if raw.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("non-positive price for %s", asset)
	}

	return decimal.NewFromBigInt(raw, -res.Decimals), nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("oracle api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("oracle api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("oracle api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("oracle api error (%d)", status)
}

var _ PriceFetcher = (*Fetcher)(nil)
