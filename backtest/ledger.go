package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Ledger is the sole owner of portfolio state. All mutation funnels
// through ApplyFill and MarkToMarket, called by the engine in a fixed
// order each step (fills before mark-to-market).
type Ledger struct {
	initial   float64
	cash      float64
	positions map[string]*Position
	lastPrice map[string]float64
	realized  float64

	curve  []EquityPoint
	trades []Trade

	// entry fees accumulated per open position, folded into the Trade
	// when the position closes.
	openFees    map[string]float64
	entryReason map[string]string

	day      time.Time
	dayStart float64
}

func NewLedger(initialCapital float64) *Ledger {
	return &Ledger{
		initial:     initialCapital,
		cash:        initialCapital,
		positions:   make(map[string]*Position),
		lastPrice:   make(map[string]float64),
		openFees:    make(map[string]float64),
		entryReason: make(map[string]string),
		dayStart:    initialCapital,
	}
}

// ApplyFill adjusts cash and positions for one fill. Weighted-average
// cost basis on additions, average-cost realized P&L on reductions.
// A fill that drives cash negative is an integrity violation: the
// execution simulator should have refused it.
func (l *Ledger) ApplyFill(f Fill) error {
	if f.Qty <= 0 || f.Price <= 0 {
		return &LedgerIntegrityError{Op: "apply_fill", Time: f.Time,
			Detail: fmt.Sprintf("non-positive fill qty=%v price=%v for %s", f.Qty, f.Price, f.Intent.Symbol)}
	}

	signed := f.Qty
	if f.Intent.Side == SideSell {
		signed = -f.Qty
	}

	notional := f.Price * f.Qty
	if f.Intent.Side == SideBuy {
		l.cash -= notional + f.Commission
	} else {
		l.cash += notional - f.Commission
	}
	if l.cash < -cashEpsilon {
		return &LedgerIntegrityError{Op: "apply_fill", Time: f.Time,
			Detail: fmt.Sprintf("cash went negative (%.4f) on %s %s", l.cash, f.Intent.Side, f.Intent.Symbol)}
	}
	if l.cash < 0 {
		l.cash = 0 // float dust only; anything real is caught above
	}

	sym := f.Intent.Symbol
	pos := l.positions[sym]
	l.lastPrice[sym] = f.Price

	switch {
	case pos == nil:
		l.positions[sym] = &Position{Symbol: sym, Qty: signed, AvgPrice: f.Price, OpenedAt: f.Time}
		l.openFees[sym] = f.Commission
		l.entryReason[sym] = f.Intent.Reason

	case sameDirection(pos.Qty, signed):
		oldAbs := math.Abs(pos.Qty)
		addAbs := math.Abs(signed)
		pos.AvgPrice = (pos.AvgPrice*oldAbs + f.Price*addAbs) / (oldAbs + addAbs)
		pos.Qty += signed
		l.openFees[sym] += f.Commission

	default:
		reduce := math.Min(math.Abs(signed), math.Abs(pos.Qty))
		dir := 1.0
		if pos.Qty < 0 {
			dir = -1
		}
		gross := (f.Price - pos.AvgPrice) * reduce * dir
		l.realized += gross

		remaining := pos.Qty + signed
		if math.Abs(remaining) < qtyEpsilon {
			l.closeTrade(pos, f, reduce, gross, l.openFees[sym]+f.Commission)
			delete(l.positions, sym)
			delete(l.openFees, sym)
			delete(l.entryReason, sym)
		} else if sameDirection(pos.Qty, remaining) {
			// partial reduction; realized P&L booked, basis unchanged
			pos.Qty = remaining
			l.openFees[sym] += f.Commission
		} else {
			// full close plus flip into the opposite direction
			l.closeTrade(pos, f, reduce, gross, l.openFees[sym]+f.Commission)
			l.positions[sym] = &Position{Symbol: sym, Qty: remaining, AvgPrice: f.Price, OpenedAt: f.Time}
			l.openFees[sym] = 0
			l.entryReason[sym] = f.Intent.Reason
		}
	}

	return nil
}

func (l *Ledger) closeTrade(pos *Position, f Fill, qty, gross, fees float64) {
	entryNotional := pos.AvgPrice * qty
	ret := 0.0
	if entryNotional > 0 {
		ret = (gross - fees) / entryNotional * 100
	}
	l.trades = append(l.trades, Trade{
		Symbol:      pos.Symbol,
		Qty:         qty,
		Long:        pos.Qty > 0,
		EntryTime:   pos.OpenedAt,
		EntryPrice:  pos.AvgPrice,
		ExitTime:    f.Time,
		ExitPrice:   f.Price,
		GrossPnL:    gross,
		Fees:        fees,
		NetPnL:      gross - fees,
		ReturnPct:   ret,
		ReasonEntry: l.entryReason[pos.Symbol],
		ReasonExit:  f.Intent.Reason,
	})
}

// BeginStep rolls the day-start equity anchor when the calendar day
// changes. The engine calls it before evaluating a step's intents, so
// the daily-loss limit measures against the previous session's close
// (the overnight gap counts toward today's P&L, yesterday's losses do
// not carry over).
func (l *Ledger) BeginStep(t time.Time) {
	day := t.Truncate(24 * time.Hour)
	if day.Equal(l.day) {
		return
	}
	l.day = day
	if n := len(l.curve); n > 0 {
		l.dayStart = l.curve[n-1].Equity
	} else {
		l.dayStart = l.equity()
	}
}

// MarkToMarket revalues open positions at the given prices and appends
// the resulting equity point. Timestamps must be non-decreasing.
func (l *Ledger) MarkToMarket(t time.Time, prices map[string]float64) (EquityPoint, error) {
	if n := len(l.curve); n > 0 && t.Before(l.curve[n-1].Time) {
		return EquityPoint{}, &LedgerIntegrityError{Op: "mark_to_market", Time: t,
			Detail: fmt.Sprintf("timestamp regression: %s before %s",
				t.Format("2006-01-02"), l.curve[n-1].Time.Format("2006-01-02"))}
	}

	for sym, px := range prices {
		if px > 0 {
			l.lastPrice[sym] = px
		}
	}

	pt := EquityPoint{Time: t, Equity: l.equity()}
	l.curve = append(l.curve, pt)
	return pt, nil
}

// DayStartEquity is the equity at the previous session close, the
// reference the daily loss limit measures against.
func (l *Ledger) DayStartEquity() float64 {
	return l.dayStart
}

// equity sums position values in sorted symbol order so repeated runs
// accumulate floats identically.
func (l *Ledger) equity() float64 {
	syms := make([]string, 0, len(l.positions))
	for s := range l.positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	eq := l.cash
	for _, s := range syms {
		eq += l.positions[s].Qty * l.lastPrice[s]
	}
	return eq
}

func (l *Ledger) Cash() float64           { return l.cash }
func (l *Ledger) Equity() float64         { return l.equity() }
func (l *Ledger) Trades() []Trade         { return l.trades }
func (l *Ledger) EquityCurve() []EquityPoint { return l.curve }

// Snapshot returns a read-only copy of the current portfolio state.
func (l *Ledger) Snapshot() PortfolioState {
	positions := make(map[string]Position, len(l.positions))
	for s, p := range l.positions {
		positions[s] = *p
	}
	return PortfolioState{
		Cash:           l.cash,
		Positions:      positions,
		Equity:         l.equity(),
		RealizedPnL:    l.realized,
		DayStartEquity: l.dayStart,
	}
}

// Price returns the last marked price for a symbol.
func (l *Ledger) Price(symbol string) float64 { return l.lastPrice[symbol] }

func sameDirection(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

const (
	cashEpsilon = 1e-6
	qtyEpsilon  = 1e-9
)
