package backtest

import "math"

const (
	tradingDaysPerYear = 252
	riskFreeRate       = 0.02 // annual, for Sharpe
)

// Metrics are the headline numbers computed from a finished (or
// partial) run.
type Metrics struct {
	FinalEquity      float64 `json:"final_equity"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	AnnualReturnPct  float64 `json:"annual_return_pct"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	WinRatePct       float64 `json:"win_rate_pct"`
	ProfitFactor     float64 `json:"profit_factor"`
	TotalTrades      int     `json:"total_trades"`
	ProfitableTrades int     `json:"profitable_trades"`
}

func computeMetrics(initial float64, curve []EquityPoint, trades []Trade) Metrics {
	m := Metrics{FinalEquity: round2(initial), TotalTrades: len(trades)}
	if len(curve) > 0 {
		m.FinalEquity = round2(curve[len(curve)-1].Equity)
	}
	if initial > 0 {
		m.TotalReturnPct = round2((m.FinalEquity - initial) / initial * 100)
	}

	returns := dailyReturns(initial, curve)
	if len(returns) > 0 {
		mean := meanOf(returns)
		m.AnnualReturnPct = round2(mean * tradingDaysPerYear * 100)

		if sd := stddevOf(returns, mean); sd > 0 {
			excess := mean - riskFreeRate/tradingDaysPerYear
			m.SharpeRatio = round2(math.Sqrt(tradingDaysPerYear) * excess / sd)
		}
	}

	peak := initial
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	m.MaxDrawdownPct = round2(maxDD * 100)

	var wins int
	var grossWin, grossLoss float64
	for _, t := range trades {
		if t.NetPnL > 0 {
			wins++
			grossWin += t.NetPnL
		} else {
			grossLoss += -t.NetPnL
		}
	}
	m.ProfitableTrades = wins
	if len(trades) > 0 {
		m.WinRatePct = round2(float64(wins) / float64(len(trades)) * 100)
	}
	if grossLoss > 0 {
		m.ProfitFactor = round2(grossWin / grossLoss)
	}
	return m
}

func dailyReturns(initial float64, curve []EquityPoint) []float64 {
	if len(curve) == 0 {
		return nil
	}
	out := make([]float64, 0, len(curve))
	prev := initial
	for _, p := range curve {
		if prev > 0 {
			out = append(out, (p.Equity-prev)/prev)
		}
		prev = p.Equity
	}
	return out
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
