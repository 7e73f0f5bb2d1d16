// Package fetcher pulls market data over HTTP: historical daily bars
// for backtests and live snapshots for the pre-market scanner.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"gaptrade/backtest"
)

const defaultDataURL = "https://data.alpaca.markets"

// barsPerPage is the page size requested from the bars endpoint. The
// server caps at 10000; one request covers decades of daily bars.
const barsPerPage = 10000

// Credentials carries the data API key pair.
type Credentials struct {
	KeyID     string
	SecretKey string
}

// Client fetches bars from the Alpaca Market Data v2 API.
type Client struct {
	baseURL string
	creds   Credentials
	client  *http.Client
	log     zerolog.Logger
}

// Option tweaks a Client.
type Option func(*Client)

// WithBaseURL points the client at a different host, used by tests and
// by proxy setups.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func NewClient(creds Credentials, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultDataURL,
		creds:   creds,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log.With().Str("component", "fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type barJSON struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

type barsPageJSON struct {
	Bars          []barJSON `json:"bars"`
	Symbol        string    `json:"symbol"`
	NextPageToken *string   `json:"next_page_token"`
}

// GetBars returns the daily bars for symbol in [start, end], ascending
// by time, following pagination until the server is exhausted. It
// implements the backtest feed interface.
func (c *Client) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]backtest.Bar, error) {
	var bars []backtest.Bar
	pageToken := ""

	for {
		page, err := c.fetchPage(ctx, symbol, start, end, pageToken)
		if err != nil {
			return nil, &backtest.DataGapError{Symbol: symbol, Start: start, End: end, Err: err}
		}
		for _, b := range page.Bars {
			bars = append(bars, backtest.Bar{
				Symbol: symbol,
				Time:   b.Time.UTC(),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			})
		}
		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		pageToken = *page.NextPageToken
	}

	c.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("fetched daily bars")
	return bars, nil
}

func (c *Client) fetchPage(ctx context.Context, symbol string, start, end time.Time, pageToken string) (*barsPageJSON, error) {
	q := url.Values{}
	q.Set("timeframe", "1Day")
	q.Set("adjustment", "split")
	q.Set("limit", fmt.Sprint(barsPerPage))
	if !start.IsZero() {
		q.Set("start", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		q.Set("end", end.UTC().Format(time.RFC3339))
	}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	u := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.baseURL, url.PathEscape(symbol), q.Encode())
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var page barsPageJSON
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode bars response: %w", err)
	}
	return &page, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.creds.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.creds.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data API returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
