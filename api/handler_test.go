package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaptrade/backtest"
	"gaptrade/fetcher"
	"gaptrade/store"
)

type mapFeed map[string][]backtest.Bar

func (f mapFeed) GetBars(_ context.Context, symbol string, _, _ time.Time) ([]backtest.Bar, error) {
	return f[symbol], nil
}

type fakeSnaps map[string]fetcher.Snapshot

func (f fakeSnaps) GetSnapshots(_ context.Context, symbols []string) (map[string]fetcher.Snapshot, error) {
	out := make(map[string]fetcher.Snapshot)
	for _, s := range symbols {
		if snap, ok := f[s]; ok {
			out[s] = snap
		}
	}
	return out, nil
}

func gapBars(sym string, opens []float64) []backtest.Bar {
	bars := make([]backtest.Bar, len(opens))
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, o := range opens {
		bars[i] = backtest.Bar{Symbol: sym, Time: base.AddDate(0, 0, i), Open: o, High: o + 1, Low: o - 1, Close: o, Volume: 1e6}
	}
	return bars
}

func testServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewServer(Config{
		Port:  0,
		Store: st,
		Feed:  mapFeed{"IWM": gapBars("IWM", []float64{100, 100, 105, 105, 99.75})},
		Snaps: fakeSnaps{
			"NVDA": {Symbol: "NVDA", DailyOpen: 105, PrevClose: 100, Price: 106},
			"AMD":  {Symbol: "AMD", DailyOpen: 101, PrevClose: 100, Price: 101},
		},
		Defaults: backtest.DefaultSettings(),
		Log:      zerolog.Nop(),
	})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, testServer(t), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	rec := do(t, testServer(t), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "market_open")
}

func TestBacktestEndpointRunsAndSaves(t *testing.T) {
	s := testServer(t)

	rec := do(t, s, http.MethodPost, "/api/backtest", `{
		"strategy": "gap_up",
		"params": {"gap_pct": 3.0, "exit_gap_pct": 3.0, "order_dollar_size": 10000},
		"symbols": ["IWM"]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data backtest.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.RunID)
	assert.Equal(t, "gap_up", body.Data.Strategy)
	assert.Len(t, body.Data.Trades, 1)

	// run is listed and retrievable
	rec = do(t, s, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), body.Data.RunID)

	rec = do(t, s, http.MethodGet, "/api/runs/"+body.Data.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBacktestEndpointBadStrategy(t *testing.T) {
	rec := do(t, testServer(t), http.MethodPost, "/api/backtest", `{
		"strategy": "momentum",
		"symbols": ["IWM"]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBacktestEndpointMissingBody(t *testing.T) {
	rec := do(t, testServer(t), http.MethodPost, "/api/backtest", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	rec := do(t, testServer(t), http.MethodGet, "/api/runs/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanEndpoint(t *testing.T) {
	s := testServer(t)

	rec := do(t, s, http.MethodPost, "/api/scan", `{
		"symbols": ["NVDA", "AMD"],
		"direction": "up",
		"gap_pct": 3.0
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Count int `json:"count"`
		Data  []struct {
			Symbol string  `json:"symbol"`
			GapPct float64 `json:"gap_pct"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "NVDA", body.Data[0].Symbol)

	// hit was recorded
	rec = do(t, s, http.MethodGet, "/api/scans", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "NVDA")
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, testServer(t), http.MethodOptions, "/api/runs", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
