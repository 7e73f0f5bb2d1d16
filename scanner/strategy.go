package scanner

import (
	"fmt"
	"time"

	"gaptrade/backtest"
)

// StrategyParams extends the scan filter with the exit rules needed for
// replay: how long to hold and which opposite gap forces a liquidation.
type StrategyParams struct {
	Params `yaml:",inline"`
	// ExitGapPct closes positions when a gap of at least this size in
	// the adverse direction prints (longs exit on gap-downs, shorts on
	// gap-ups). 0 disables.
	ExitGapPct float64 `yaml:"exit_gap_pct"`
	// MaxHoldBars force-closes a position after this many sessions.
	// 0 disables.
	MaxHoldBars int `yaml:"max_hold_bars"`
}

func (p StrategyParams) withDefaults() StrategyParams {
	p.Params = p.Params.withDefaults()
	if p.ExitGapPct < 0 {
		p.ExitGapPct = 0
	}
	if p.MaxHoldBars < 0 {
		p.MaxHoldBars = 0
	}
	return p
}

// GapStrategy trades the scan signal inside a backtest: enter on a
// qualifying gap (long for gap-ups, short for gap-downs), exit on the
// opposite gap or after the holding period. It keeps only derived
// per-symbol bar history, never the snapshot it is handed.
type GapStrategy struct {
	p StrategyParams

	prevClose map[string]float64
	closes    map[string][]float64
	heldBars  map[string]int
}

func NewGapStrategy(p StrategyParams) (*GapStrategy, error) {
	p = p.withDefaults()
	if err := p.Params.validate(); err != nil {
		return nil, err
	}
	return &GapStrategy{
		p:         p,
		prevClose: make(map[string]float64),
		closes:    make(map[string][]float64),
		heldBars:  make(map[string]int),
	}, nil
}

func (s *GapStrategy) Name() string {
	return fmt.Sprintf("gap_%s", s.p.Direction)
}

func (s *GapStrategy) OnStep(step backtest.Step, snap backtest.PortfolioState) ([]backtest.OrderIntent, error) {
	var intents []backtest.OrderIntent

	for _, bar := range step.Bars {
		pos, held := snap.Positions[bar.Symbol]
		if held {
			s.heldBars[bar.Symbol]++
		} else {
			s.heldBars[bar.Symbol] = 0
		}

		prev := s.prevClose[bar.Symbol]
		gap := GapPercent(bar.Open, prev)
		if prev > 0 {
			if held {
				if intent, ok := s.exitIntent(bar, pos, gap, step.Time); ok {
					intents = append(intents, intent)
					s.record(bar)
					continue
				}
			} else if intent, ok := s.entryIntent(bar, gap, step.Time); ok {
				intents = append(intents, intent)
			}
		}
		s.record(bar)
	}
	return intents, nil
}

func (s *GapStrategy) entryIntent(bar backtest.Bar, gap float64, t time.Time) (backtest.OrderIntent, bool) {
	switch s.p.Direction {
	case GapUp:
		if gap <= s.p.GapPct {
			return backtest.OrderIntent{}, false
		}
	case GapDown:
		if gap >= -s.p.GapPct {
			return backtest.OrderIntent{}, false
		}
	}

	if s.p.MAWindow > 0 {
		hist := s.closes[bar.Symbol]
		if len(hist) < s.p.MAWindow {
			return backtest.OrderIntent{}, false
		}
		ma := mean(hist[len(hist)-s.p.MAWindow:])
		if s.p.Direction == GapUp && bar.Open <= ma {
			return backtest.OrderIntent{}, false
		}
		if s.p.Direction == GapDown && bar.Open >= ma {
			return backtest.OrderIntent{}, false
		}
	}

	side := backtest.SideBuy
	if s.p.Direction == GapDown {
		side = backtest.SideSell // fade the gap with a short
	}
	return backtest.OrderIntent{
		Symbol:     bar.Symbol,
		Side:       side,
		DollarSize: s.p.OrderDollarSize,
		Type:       backtest.OrderMarket,
		Time:       t,
		Reason:     fmt.Sprintf("gap_%s %.2f%%", s.p.Direction, gap),
	}, true
}

func (s *GapStrategy) exitIntent(bar backtest.Bar, pos backtest.Position, gap float64, t time.Time) (backtest.OrderIntent, bool) {
	long := pos.Qty > 0
	qty := pos.Qty
	if !long {
		qty = -qty
	}

	adverseGap := s.p.ExitGapPct > 0 &&
		((long && gap < -s.p.ExitGapPct) || (!long && gap > s.p.ExitGapPct))
	expired := s.p.MaxHoldBars > 0 && s.heldBars[bar.Symbol] >= s.p.MaxHoldBars
	if !adverseGap && !expired {
		return backtest.OrderIntent{}, false
	}

	reason := "max_hold"
	if adverseGap {
		reason = fmt.Sprintf("adverse_gap %.2f%%", gap)
	}
	side := backtest.SideSell
	if !long {
		side = backtest.SideBuy
	}
	return backtest.OrderIntent{
		Symbol: bar.Symbol,
		Side:   side,
		Qty:    qty,
		Type:   backtest.OrderMarket,
		Time:   t,
		Reason: reason,
	}, true
}

func (s *GapStrategy) record(bar backtest.Bar) {
	s.prevClose[bar.Symbol] = bar.Close
	s.closes[bar.Symbol] = append(s.closes[bar.Symbol], bar.Close)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// FromSettings builds the strategy named in a run definition.
func FromSettings(s backtest.Settings) (backtest.Strategy, error) {
	p := StrategyParams{}
	switch s.StrategyType {
	case "gap_up":
		p.Direction = GapUp
	case "gap_down":
		p.Direction = GapDown
	default:
		return nil, fmt.Errorf("unknown strategy.type: %s", s.StrategyType)
	}

	if v, ok := numParam(s.StrategyParams, "gap_pct"); ok {
		p.GapPct = v
	}
	if v, ok := numParam(s.StrategyParams, "ma_window"); ok {
		p.MAWindow = int(v)
	}
	if v, ok := numParam(s.StrategyParams, "order_dollar_size"); ok {
		p.OrderDollarSize = v
	}
	if v, ok := numParam(s.StrategyParams, "exit_gap_pct"); ok {
		p.ExitGapPct = v
	}
	if v, ok := numParam(s.StrategyParams, "max_hold_bars"); ok {
		p.MaxHoldBars = int(v)
	}
	return NewGapStrategy(p)
}

func numParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
