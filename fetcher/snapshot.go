package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Snapshot is the latest state of one symbol: today's (possibly
// partial) session and the previous close the gap is measured against.
type Snapshot struct {
	Symbol    string
	Price     float64
	DailyOpen float64
	DailyHigh float64
	DailyLow  float64
	Volume    float64
	PrevClose float64
	Time      time.Time
}

type snapshotJSON struct {
	LatestTrade *struct {
		Price float64   `json:"p"`
		Time  time.Time `json:"t"`
	} `json:"latestTrade"`
	DailyBar *barJSON `json:"dailyBar"`
	PrevBar  *barJSON `json:"prevDailyBar"`
}

// GetSnapshots fetches snapshots for up to a few hundred symbols in one
// request. Symbols the server has no data for are silently absent from
// the result.
func (c *Client) GetSnapshots(ctx context.Context, symbols []string) (map[string]Snapshot, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	u := fmt.Sprintf("%s/v2/stocks/snapshots?%s", c.baseURL, q.Encode())

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshots: %w", err)
	}

	var raw map[string]snapshotJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}

	snaps := make(map[string]Snapshot, len(raw))
	for sym, s := range raw {
		if s.DailyBar == nil || s.PrevBar == nil {
			continue
		}
		snap := Snapshot{
			Symbol:    sym,
			DailyOpen: s.DailyBar.Open,
			DailyHigh: s.DailyBar.High,
			DailyLow:  s.DailyBar.Low,
			Volume:    s.DailyBar.Volume,
			PrevClose: s.PrevBar.Close,
			Time:      s.DailyBar.Time,
		}
		if s.LatestTrade != nil {
			snap.Price = s.LatestTrade.Price
			snap.Time = s.LatestTrade.Time
		} else {
			snap.Price = s.DailyBar.Close
		}
		snaps[sym] = snap
	}

	c.log.Debug().Int("requested", len(symbols)).Int("returned", len(snaps)).Msg("fetched snapshots")
	return snaps, nil
}
