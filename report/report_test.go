package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaptrade/backtest"
)

func day(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func sampleResult() *backtest.Result {
	return &backtest.Result{
		RunID:          "0f9a2a1c-4a57-4a8e-9a8f-7f2b1e3c5d6e",
		Strategy:       "gap_up",
		Symbols:        []string{"AAPL"},
		Start:          day(0),
		End:            day(9),
		InitialCapital: 100_000,
		EquityCurve: []backtest.EquityPoint{
			{Time: day(0), Equity: 100_000},
			{Time: day(1), Equity: 101_000},
			{Time: day(2), Equity: 99_500},
			{Time: day(3), Equity: 100_200},
		},
		Trades: []backtest.Trade{
			{Symbol: "AAPL", Qty: 50, Long: true, EntryTime: day(0), EntryPrice: 100, ExitTime: day(1), ExitPrice: 120, NetPnL: 1000, ReasonExit: "max_hold"},
			{Symbol: "AAPL", Qty: 50, Long: true, EntryTime: day(1), EntryPrice: 120, ExitTime: day(2), ExitPrice: 90, NetPnL: -1500, ReasonExit: "adverse_gap -4.00%"},
		},
		Metrics: backtest.Metrics{FinalEquity: 100_200, TotalReturnPct: 0.2, MaxDrawdownPct: 1.49, TotalTrades: 2},
	}
}

func TestWriterLaysOutRunDirectory(t *testing.T) {
	w := NewWriter(t.TempDir())
	res := sampleResult()

	dir, err := w.WriteResult(res)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(dir), "gap_up_20240301_0f9a2a1c")

	b, err := os.ReadFile(filepath.Join(dir, "result.json"))
	require.NoError(t, err)
	var got backtest.Result
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, res.RunID, got.RunID)
	assert.Len(t, got.Trades, 2)

	f, err := os.Open(filepath.Join(dir, "trades.csv"))
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3) // header + 2 trades
	assert.Equal(t, "symbol", recs[0][0])
	assert.Equal(t, "long", recs[1][1])

	eq, err := os.ReadFile(filepath.Join(dir, "equity.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(eq), "2024-03-02,101000")
}

func TestWriterEmitsMonitorArtifact(t *testing.T) {
	w := NewWriter(t.TempDir()).WithMonitor(Monitor{MaxDailyLoss: 1000})
	res := sampleResult()

	dir, err := w.WriteResult(res)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "monitor.json"))
	require.NoError(t, err)
	var got struct {
		Daily  []DailyStat `json:"daily"`
		Alerts []Alert     `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(b, &got))

	require.Len(t, got.Daily, 2, "one stat per exit date")
	assert.InDelta(t, -1500.0, got.Daily[1].PnL, 1e-9)

	require.Len(t, got.Alerts, 1, "the -1500 day breaches the -1000 threshold")
	assert.Equal(t, AlertDailyLoss, got.Alerts[0].Kind)
}

func TestWriterRejectsEmptyRunID(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, err := w.WriteResult(&backtest.Result{})
	require.Error(t, err)
}

func TestDailyStats(t *testing.T) {
	stats := DailyStats(sampleResult().Trades)
	require.Len(t, stats, 2)
	assert.Equal(t, day(1), stats[0].Date)
	assert.Equal(t, 1000.0, stats[0].PnL)
	assert.Equal(t, 1.0, stats[0].WinRate)
	assert.Equal(t, -1500.0, stats[1].PnL)
	assert.Equal(t, 0.0, stats[1].WinRate)
}

func TestMonitorDailyLossAlert(t *testing.T) {
	m := Monitor{MaxDailyLoss: 1200}
	alerts := m.Check(sampleResult())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDailyLoss, alerts[0].Kind)
	assert.Contains(t, alerts[0].Message, "-1500.00")
}

func TestMonitorDrawdownAlert(t *testing.T) {
	m := Monitor{MaxDrawdownPct: 1.0}
	alerts := m.Check(sampleResult())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDrawdown, alerts[0].Kind)
	assert.Equal(t, day(2), alerts[0].Time)
}

func TestMonitorZeroThresholdsNoAlerts(t *testing.T) {
	assert.Empty(t, Monitor{}.Check(sampleResult()))
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, sampleResult()))
	s := buf.String()
	assert.Contains(t, s, "gap_up equity")
	assert.Contains(t, s, "Drawdown")
}

func TestRenderHTMLEmptyCurve(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, RenderHTML(&buf, &backtest.Result{}))
}

func TestTradeMarkers(t *testing.T) {
	pts := TradeMarkers(sampleResult().Trades, "AAPL")
	require.Len(t, pts, 4)
	assert.Equal(t, "LONG", pts[0].Label)
	assert.Equal(t, "2024-03-01", pts[0].Date)
	assert.Equal(t, "#22c55e", pts[1].Color)
	assert.Equal(t, "#ef4444", pts[3].Color)
	assert.Empty(t, TradeMarkers(sampleResult().Trades, "MSFT"))
}

func TestRenderCandlesSVGWithMarkers(t *testing.T) {
	bars := []backtest.Bar{
		{Symbol: "AAPL", Time: day(0), Open: 100, High: 121, Low: 99, Close: 120, Volume: 1e6},
		{Symbol: "AAPL", Time: day(1), Open: 120, High: 122, Low: 118, Close: 121, Volume: 1.2e6},
		{Symbol: "AAPL", Time: day(2), Open: 90, High: 95, Low: 88, Close: 92, Volume: 2e6},
	}
	pts := TradeMarkers(sampleResult().Trades, "AAPL")

	svg, err := RenderCandlesSVG("AAPL", bars, nil, pts, SVGChartOptions{})
	require.NoError(t, err)
	s := string(svg)
	assert.True(t, strings.HasPrefix(s, `<?xml`))
	assert.Contains(t, s, "AAPL")
	assert.Contains(t, s, "<circle")
}

func TestRenderCandlesWithVolumeSVGIncludesVolumePanel(t *testing.T) {
	bars := []backtest.Bar{
		{Time: day(0), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Time: day(1), Open: 10.5, High: 12, Low: 10, Close: 11.5, Volume: 200},
		{Time: day(2), Open: 11.5, High: 12, Low: 11, Close: 11.0, Volume: 150},
	}

	svg, err := RenderCandlesWithVolumeSVG("AAPL", bars, nil, nil, 2, SVGChartOptions{})
	require.NoError(t, err)
	s := string(svg)
	assert.Contains(t, s, "VOLUME")
	assert.Contains(t, s, "MA2")
	assert.Contains(t, s, "<polyline")
}

func TestRenderCandlesSVGTooFewBars(t *testing.T) {
	_, err := RenderCandlesSVG("AAPL", []backtest.Bar{{Time: day(0), Open: 1, High: 1, Low: 1, Close: 1}}, nil, nil, SVGChartOptions{})
	require.Error(t, err)
}
