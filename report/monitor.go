package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gaptrade/backtest"
)

// DailyStat aggregates the trades that closed on one session.
type DailyStat struct {
	Date       time.Time `json:"date"`
	TradeCount int       `json:"trade_count"`
	PnL        float64   `json:"pnl"`
	WinRate    float64   `json:"win_rate"`
}

type AlertKind string

const (
	AlertDailyLoss AlertKind = "daily_loss"
	AlertDrawdown  AlertKind = "drawdown"
)

type Alert struct {
	Time    time.Time `json:"time"`
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
}

// Monitor checks a finished run against operating thresholds that are
// looser than the engine's own risk limits, meant to flag days worth a
// closer look rather than to veto orders.
type Monitor struct {
	// MaxDailyLoss flags sessions whose closed PnL is below this
	// (negative) dollar amount. 0 disables.
	MaxDailyLoss float64
	// MaxDrawdownPct flags the first equity point that breaches this
	// peak-to-trough percentage. 0 disables.
	MaxDrawdownPct float64
}

// DailyStats groups trades by exit date, ascending.
func DailyStats(trades []backtest.Trade) []DailyStat {
	byDay := make(map[time.Time]*DailyStat)
	wins := make(map[time.Time]int)
	for _, t := range trades {
		d := t.ExitTime.UTC().Truncate(24 * time.Hour)
		s, ok := byDay[d]
		if !ok {
			s = &DailyStat{Date: d}
			byDay[d] = s
		}
		s.TradeCount++
		s.PnL += t.NetPnL
		if t.NetPnL > 0 {
			wins[d]++
		}
	}

	stats := make([]DailyStat, 0, len(byDay))
	for d, s := range byDay {
		if s.TradeCount > 0 {
			s.WinRate = float64(wins[d]) / float64(s.TradeCount)
		}
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date.Before(stats[j].Date) })
	return stats
}

// Check returns the alerts a run triggers, chronological.
func (m Monitor) Check(res *backtest.Result) []Alert {
	var alerts []Alert

	if m.MaxDailyLoss != 0 {
		limit := -math.Abs(m.MaxDailyLoss)
		for _, s := range DailyStats(res.Trades) {
			if s.PnL < limit {
				alerts = append(alerts, Alert{
					Time: s.Date,
					Kind: AlertDailyLoss,
					Message: fmt.Sprintf("%s closed %.2f, below the %.2f daily loss threshold",
						s.Date.Format("2006-01-02"), s.PnL, limit),
				})
			}
		}
	}

	if m.MaxDrawdownPct > 0 {
		peak := 0.0
		for _, p := range res.EquityCurve {
			if p.Equity > peak {
				peak = p.Equity
			}
			if peak <= 0 {
				continue
			}
			dd := (peak - p.Equity) / peak * 100
			if dd > m.MaxDrawdownPct {
				alerts = append(alerts, Alert{
					Time: p.Time,
					Kind: AlertDrawdown,
					Message: fmt.Sprintf("drawdown %.2f%% exceeds %.2f%% at %s",
						dd, m.MaxDrawdownPct, p.Time.Format("2006-01-02")),
				})
				break
			}
		}
	}

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Time.Before(alerts[j].Time) })
	return alerts
}
