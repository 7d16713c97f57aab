package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestFetchPriceMissingConfig(t *testing.T) {
	f := NewFetcher(FetcherOptions{}, noopLogger())
	if _, err := f.FetchPrice(context.Background(), "ETH"); err == nil {
		t.Fatal("missing base url should fail")
	}

	f = NewFetcher(FetcherOptions{BaseURL: "http://localhost"}, noopLogger())
	if _, err := f.FetchPrice(context.Background(), " "); err == nil {
		t.Fatal("empty asset should fail")
	}
}

func TestFetchPriceDecodesHexWithDecimals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/eth/usd" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("aggregation"); got != "median" {
			t.Errorf("unexpected aggregation %q", got)
		}
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("unexpected api key %q", got)
		}
		// 2500.12345678 with 8 decimals
		_ = json.NewEncoder(w).Encode(map[string]any{"price": "0x3a35e5a54e", "decimals": 8})
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: time.Second}, noopLogger())
	price, err := f.FetchPrice(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("fetch price: %v", err)
	}
	want := decimal.RequireFromString("2500.12345678")
	if !price.Equal(want) {
		t.Fatalf("price = %s, want %s", price, want)
	}
}

func TestFetchPriceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "unknown pair"})
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := f.FetchPrice(context.Background(), "DOGE")
	if err == nil || !strings.Contains(err.Error(), "unknown pair") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestFetchPriceRejectsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"price": "0x0", "decimals": 8})
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := f.FetchPrice(context.Background(), "ETH"); err == nil {
		t.Fatal("zero price should fail")
	}
}

func TestParseHTTPErrorFallbacks(t *testing.T) {
	if err := parseHTTPError(500, []byte(`{"error":"boom"}`)); !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected error %v", err)
	}
	if err := parseHTTPError(502, []byte("bad gateway\n")); !strings.Contains(err.Error(), "bad gateway") {
		t.Fatalf("unexpected error %v", err)
	}
	if err := parseHTTPError(503, nil); err.Error() != "oracle api error (503)" {
		t.Fatalf("unexpected error %v", err)
	}
}
