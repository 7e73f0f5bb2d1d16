package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gaptrade/backtest"
)

// Writer lays a run's artifacts out on disk, one directory per run:
//
//	<base>/<strategy>_<start>_<runid8>/
//	    result.json
//	    trades.csv
//	    equity.csv
//	    monitor.json
type Writer struct {
	base    string
	monitor Monitor
}

func NewWriter(base string) *Writer {
	return &Writer{base: base}
}

// WithMonitor sets the thresholds behind the monitor.json artifact. The
// zero Monitor still produces daily stats, just no alerts.
func (w *Writer) WithMonitor(m Monitor) *Writer {
	w.monitor = m
	return w
}

// monitorSummary is the monitor.json layout.
type monitorSummary struct {
	Daily  []DailyStat `json:"daily"`
	Alerts []Alert     `json:"alerts"`
}

// WriteResult writes all artifacts and returns the run directory.
func (w *Writer) WriteResult(res *backtest.Result) (string, error) {
	if res == nil || res.RunID == "" {
		return "", fmt.Errorf("result has no run id")
	}

	id := res.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	dir := filepath.Join(w.base, fmt.Sprintf("%s_%s_%s",
		sanitize(res.Strategy), res.Start.Format("20060102"), id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(dir, "result.json"), res); err != nil {
		return "", err
	}
	if err := writeTradesCSV(filepath.Join(dir, "trades.csv"), res.Trades); err != nil {
		return "", err
	}
	if err := writeEquityCSV(filepath.Join(dir, "equity.csv"), res.EquityCurve); err != nil {
		return "", err
	}
	summary := monitorSummary{Daily: DailyStats(res.Trades), Alerts: w.monitor.Check(res)}
	if err := writeJSON(filepath.Join(dir, "monitor.json"), summary); err != nil {
		return "", err
	}
	return dir, nil
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "run"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	// Atomic-ish write.
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".result-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(b); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func writeTradesCSV(path string, trades []backtest.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{
		"symbol", "side", "qty", "entry_time", "entry_price",
		"exit_time", "exit_price", "gross_pnl", "fees", "net_pnl",
		"return_pct", "reason_entry", "reason_exit",
	}); err != nil {
		return err
	}
	for _, t := range trades {
		side := "long"
		if !t.Long {
			side = "short"
		}
		rec := []string{
			t.Symbol,
			side,
			fmtNum(t.Qty),
			t.EntryTime.Format("2006-01-02"),
			fmtNum(t.EntryPrice),
			t.ExitTime.Format("2006-01-02"),
			fmtNum(t.ExitPrice),
			fmtNum(t.GrossPnL),
			fmtNum(t.Fees),
			fmtNum(t.NetPnL),
			fmtNum(t.ReturnPct),
			t.ReasonEntry,
			t.ReasonExit,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeEquityCSV(path string, curve []backtest.EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"time", "equity"}); err != nil {
		return err
	}
	for _, p := range curve {
		if err := cw.Write([]string{p.Time.Format("2006-01-02"), fmtNum(p.Equity)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func fmtNum(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
