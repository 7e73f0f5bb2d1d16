package backtest

import (
	"context"
	"time"
)

// Bar is one daily OHLCV observation for a symbol. Bars are immutable
// once produced by a Feed.
type Bar struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderIntent is what a strategy asks for. Either Qty or DollarSize may
// be set; with both zero the risk manager sizes the order from the
// configured sizing rule. Consumed exactly once by the risk manager.
type OrderIntent struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        float64   `json:"qty,omitempty"`
	DollarSize float64   `json:"dollar_size,omitempty"`
	Type       OrderType `json:"type"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	Time       time.Time `json:"time"`
	Reason     string    `json:"reason,omitempty"`
}

// Fill is the realized execution of an accepted intent. One intent
// yields at most one fill; there are no partial fills.
type Fill struct {
	Intent     OrderIntent `json:"intent"`
	Price      float64     `json:"price"`
	Qty        float64     `json:"qty"`
	Time       time.Time   `json:"time"`
	Commission float64     `json:"commission"`
}

// Position quantity sign encodes direction: positive is long, negative
// is short. Removed from the portfolio when quantity returns to zero.
type Position struct {
	Symbol   string    `json:"symbol"`
	Qty      float64   `json:"qty"`
	AvgPrice float64   `json:"avg_price"`
	OpenedAt time.Time `json:"opened_at"`
}

// Trade is a closed round trip, derived from the fills that opened and
// closed a position. Entry price is the average cost at close time.
type Trade struct {
	Symbol      string    `json:"symbol"`
	Qty         float64   `json:"qty"`
	Long        bool      `json:"long"`
	EntryTime   time.Time `json:"entry_time"`
	EntryPrice  float64   `json:"entry_price"`
	ExitTime    time.Time `json:"exit_time"`
	ExitPrice   float64   `json:"exit_price"`
	GrossPnL    float64   `json:"gross_pnl"`
	Fees        float64   `json:"fees"`
	NetPnL      float64   `json:"net_pnl"`
	ReturnPct   float64   `json:"return_pct"`
	ReasonEntry string    `json:"reason_entry,omitempty"`
	ReasonExit  string    `json:"reason_exit,omitempty"`
}

type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// PortfolioState is a read-only snapshot of the ledger. Strategies and
// the risk manager receive copies and must not retain them across steps.
type PortfolioState struct {
	Cash           float64             `json:"cash"`
	Positions      map[string]Position `json:"positions"`
	Equity         float64             `json:"equity"`
	RealizedPnL    float64             `json:"realized_pnl"`
	DayStartEquity float64             `json:"day_start_equity"`
}

// Exposure returns the absolute market value of the named position at
// the last marked price, zero when the symbol is not held.
func (s PortfolioState) Exposure(symbol string, price float64) float64 {
	p, ok := s.Positions[symbol]
	if !ok {
		return 0
	}
	v := p.Qty * price
	if v < 0 {
		return -v
	}
	return v
}

type SizingMode string

const (
	SizingFixedDollar     SizingMode = "fixed_dollar"
	SizingFixedFractional SizingMode = "fixed_fractional"
)

// RiskLimits is immutable for the duration of a run.
type RiskLimits struct {
	MaxPositions    int        `json:"max_positions" yaml:"max_positions"`
	MaxDailyLossPct float64    `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxExposurePct  float64    `json:"max_exposure_pct" yaml:"max_exposure_pct"`
	Sizing          SizingMode `json:"sizing" yaml:"sizing"`
	// SizeValue is dollars for fixed_dollar and a fraction of current
	// equity for fixed_fractional.
	SizeValue float64 `json:"size_value" yaml:"size_value"`
}

// Decision is the risk manager's answer for one intent. A rejection is
// a normal outcome, not an error; it is recorded for audit.
type Decision struct {
	Accept  bool    `json:"accept"`
	Qty     float64 `json:"qty"`
	Resized bool    `json:"resized"`
	Reason  string  `json:"reason,omitempty"`
}

// Step is one time slice of the merged bar sequence: every bar sharing
// a timestamp, ordered by symbol.
type Step struct {
	Time time.Time
	Bars []Bar
}

// Bar returns the step's bar for a symbol, if present.
func (s Step) Bar(symbol string) (Bar, bool) {
	for i := range s.Bars {
		if s.Bars[i].Symbol == symbol {
			return s.Bars[i], true
		}
	}
	return Bar{}, false
}

// Feed supplies deduplicated, chronologically sorted daily bars per
// symbol. Gaps (holidays, halts) are absent entries, never zero-filled.
type Feed interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// Strategy turns the current step and a portfolio snapshot into zero or
// more order intents. Implementations must not mutate the snapshot. A
// returned error aborts the run as a StrategyError.
type Strategy interface {
	Name() string
	OnStep(step Step, snap PortfolioState) ([]OrderIntent, error)
}

type RejectionStage string

const (
	StageRisk      RejectionStage = "risk"
	StageExecution RejectionStage = "execution"
)

// Rejection records an intent that did not become a fill: a risk veto
// or an execution no-fill (unmet limit, cash guard, missing bar).
type Rejection struct {
	Time   time.Time      `json:"time"`
	Stage  RejectionStage `json:"stage"`
	Intent OrderIntent    `json:"intent"`
	Reason string         `json:"reason"`
}

// Result is the sole artifact a run produces; downstream reporting and
// persistence consume it and nothing else reaches back into the engine.
type Result struct {
	RunID          string        `json:"run_id"`
	Strategy       string        `json:"strategy"`
	Symbols        []string      `json:"symbols"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	InitialCapital float64       `json:"initial_capital"`
	Final          PortfolioState `json:"final"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	Trades         []Trade       `json:"trades"`
	Rejections     []Rejection   `json:"rejections,omitempty"`
	DataGaps       []string      `json:"data_gaps,omitempty"`
	Metrics        Metrics       `json:"metrics"`
	Steps          int           `json:"steps"`
	Incomplete     bool          `json:"incomplete"`
}
