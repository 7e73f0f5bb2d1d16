// Package scanner finds open-versus-prior-close price gaps across a
// symbol universe. Gap detection itself is a stateless filter over bar
// history; the strategies in this package replay the same filter
// bar-by-bar inside a backtest.
package scanner

import (
	"fmt"
	"sort"
	"time"

	talib "github.com/markcheno/go-talib"

	"gaptrade/backtest"
)

type Direction string

const (
	GapUp   Direction = "up"
	GapDown Direction = "down"
)

// Params configures one gap scan. MAWindow of 0 disables the trend
// filter; with it set, gap-ups must open above the moving average and
// gap-downs below it.
type Params struct {
	Direction       Direction `yaml:"direction"`
	GapPct          float64   `yaml:"gap_pct"`
	MAWindow        int       `yaml:"ma_window"`
	OrderDollarSize float64   `yaml:"order_dollar_size"`
}

func (p Params) withDefaults() Params {
	if p.Direction == "" {
		p.Direction = GapUp
	}
	if p.GapPct <= 0 {
		p.GapPct = 3.0
	}
	if p.MAWindow < 0 {
		p.MAWindow = 0
	}
	return p
}

func (p Params) validate() error {
	switch p.Direction {
	case GapUp, GapDown:
	default:
		return fmt.Errorf("unknown gap direction: %s", p.Direction)
	}
	return nil
}

// GapPercent is the session gap: open versus prior close, in percent.
func GapPercent(open, prevClose float64) float64 {
	if prevClose <= 0 {
		return 0
	}
	return (open - prevClose) / prevClose * 100
}

// Candidate is one symbol passing the gap filter on a session.
type Candidate struct {
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	Open      float64   `json:"open"`
	PrevClose float64   `json:"prev_close"`
	GapPct    float64   `json:"gap_pct"`
	MA        float64   `json:"ma,omitempty"`
	// SuggestedQty is the fixed-dollar order size converted at the
	// open; zero when no dollar size is configured.
	SuggestedQty float64 `json:"suggested_qty,omitempty"`
}

// Scan filters the latest session of each symbol's history. Histories
// must be chronological, one entry per session; symbols with fewer than
// two bars (or too few for the MA window) are skipped. Results are
// ordered by gap magnitude, largest first, ties by symbol.
func Scan(history map[string][]backtest.Bar, params Params) ([]Candidate, error) {
	p := params.withDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}

	syms := make([]string, 0, len(history))
	for s := range history {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	var out []Candidate
	for _, sym := range syms {
		bars := history[sym]
		if len(bars) < 2 {
			continue
		}
		last := bars[len(bars)-1]
		prev := bars[len(bars)-2]

		gap := GapPercent(last.Open, prev.Close)
		switch p.Direction {
		case GapUp:
			if gap <= p.GapPct {
				continue
			}
		case GapDown:
			if gap >= -p.GapPct {
				continue
			}
		}

		c := Candidate{
			Symbol:    sym,
			Date:      last.Time,
			Open:      last.Open,
			PrevClose: prev.Close,
			GapPct:    gap,
		}

		if p.MAWindow > 0 {
			ma, ok := movingAverage(bars[:len(bars)-1], p.MAWindow)
			if !ok {
				continue
			}
			c.MA = ma
			if p.Direction == GapUp && last.Open <= ma {
				continue
			}
			if p.Direction == GapDown && last.Open >= ma {
				continue
			}
		}

		if p.OrderDollarSize > 0 && last.Open > 0 {
			c.SuggestedQty = float64(int(p.OrderDollarSize / last.Open))
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := abs(out[i].GapPct), abs(out[j].GapPct)
		if a != b {
			return a > b
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// movingAverage is the simple MA of the closes ending at the last bar
// given, the trend reference the open is compared against.
func movingAverage(bars []backtest.Bar, window int) (float64, bool) {
	if len(bars) < window {
		return 0, false
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	sma := talib.Sma(closes, window)
	return sma[len(sma)-1], true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
