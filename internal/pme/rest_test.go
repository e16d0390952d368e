package pme

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"imbalance-sentinel/internal/apperror"
	"imbalance-sentinel/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner("key-id", writeKeyFile(t, testKey(t), false))
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

func TestListOpenMarketsPaginates(t *testing.T) {
	t.Parallel()

	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		for _, header := range []string{HeaderAccessKey, HeaderAccessTimestamp, HeaderAccessSignature} {
			if r.Header.Get(header) == "" {
				t.Errorf("missing header %s", header)
			}
		}
		if got := r.URL.Query().Get("status"); got != "open" {
			t.Errorf("status = %q, want open", got)
		}
		if got := r.URL.Query().Get("series_ticker"); got != "KXETHD" {
			t.Errorf("series_ticker = %q", got)
		}

		cursor := r.URL.Query().Get("cursor")
		requests = append(requests, cursor)

		var page types.MarketsResponse
		switch cursor {
		case "":
			page = types.MarketsResponse{
				Markets: []types.Market{{Ticker: "KXETHD-01"}, {Ticker: "KXETHD-02"}},
				Cursor:  "page2",
			}
		case "page2":
			page = types.MarketsResponse{
				Markets: []types.Market{{Ticker: "KXETHD-03"}},
			}
		default:
			t.Errorf("unexpected cursor %q", cursor)
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, testSigner(t), discardLogger())
	markets, err := client.ListOpenMarkets(context.Background(), "KXETHD")
	if err != nil {
		t.Fatalf("ListOpenMarkets: %v", err)
	}

	if len(markets) != 3 {
		t.Fatalf("markets = %d, want 3", len(markets))
	}
	if markets[0].Ticker != "KXETHD-01" || markets[2].Ticker != "KXETHD-03" {
		t.Errorf("markets = %+v", markets)
	}
	if len(requests) != 2 {
		t.Errorf("requests = %v, want 2 pages", requests)
	}
}

func TestNextOpenMarketSelectsFirst(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.MarketsResponse{
			Markets: []types.Market{{Ticker: "ETH15MDEC31-0X"}, {Ticker: "ETH15MDEC31-1X"}},
		})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, testSigner(t), discardLogger())
	market, err := client.NextOpenMarket(context.Background(), "ETH15M")
	if err != nil {
		t.Fatalf("NextOpenMarket: %v", err)
	}
	if market.Ticker != "ETH15MDEC31-0X" {
		t.Errorf("ticker = %q, want first result", market.Ticker)
	}
}

func TestNextOpenMarketEmptySeries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.MarketsResponse{})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, testSigner(t), discardLogger())
	_, err := client.NextOpenMarket(context.Background(), "EMPTY")
	if !apperror.IsCode(err, apperror.CodeMarketNotFound) {
		t.Errorf("error = %v, want market_not_found", err)
	}
}

func TestListOpenMarketsHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, testSigner(t), discardLogger())
	_, err := client.ListOpenMarkets(context.Background(), "KXETHD")
	if !apperror.IsCode(err, apperror.CodeHTTP) {
		t.Errorf("error = %v, want http", err)
	}
}
