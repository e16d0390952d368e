package pme

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"imbalance-sentinel/internal/apperror"
	"imbalance-sentinel/pkg/types"
)

// RESTClient talks to the PME trade API. Only the markets listing is
// needed: it bootstraps the series' current market and resolves the
// successor on rollover. Requests are rate-limited, retried on 5xx, and
// authenticated with the same signed-header triplet as the WebSocket.
type RESTClient struct {
	http   *resty.Client
	signer *Signer
	rl     *TokenBucket
	logger *slog.Logger
}

// NewRESTClient creates a REST client with rate limiting and retry.
func NewRESTClient(baseURL string, signer *Signer, logger *slog.Logger) *RESTClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &RESTClient{
		http:   httpClient,
		signer: signer,
		rl:     NewTokenBucket(100, 10),
		logger: logger.With("component", "pme_rest"),
	}
}

// ListOpenMarkets returns every open market of a series, following the
// cursor across pages. Any page failure is returned to the caller — a
// broken bootstrap is fatal upstream.
func (c *RESTClient) ListOpenMarkets(ctx context.Context, seriesTicker string) ([]types.Market, error) {
	var all []types.Market
	cursor := ""

	for {
		page, err := c.fetchMarketsPage(ctx, seriesTicker, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Markets...)

		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

func (c *RESTClient) fetchMarketsPage(ctx context.Context, seriesTicker, cursor string) (*types.MarketsResponse, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeHTTP, "rate limit wait")
	}

	headers, err := c.signer.Headers(http.MethodGet, marketsSignPath)
	if err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("series_ticker", seriesTicker).
		SetQueryParam("status", "open")
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	var page types.MarketsResponse
	resp, err := req.SetResult(&page).ForceContentType("application/json").Get("/markets")
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeHTTP, "list markets")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apperror.New(apperror.CodeHTTP, "list markets: status %d: %s",
			resp.StatusCode(), resp.String())
	}
	return &page, nil
}

// NextOpenMarket resolves the series to its next-opening market: the first
// result of the open-status listing.
func (c *RESTClient) NextOpenMarket(ctx context.Context, seriesTicker string) (types.Market, error) {
	markets, err := c.ListOpenMarkets(ctx, seriesTicker)
	if err != nil {
		return types.Market{}, err
	}
	if len(markets) == 0 {
		return types.Market{}, apperror.New(apperror.CodeMarketNotFound,
			"no open markets for series %s", seriesTicker)
	}
	return markets[0], nil
}
