package store

import (
	"time"

	"gorm.io/datatypes"
)

// RunModel maps to the 'runs' table: one row per completed backtest,
// with the bulky curve and rejection data as JSON blobs.
type RunModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	RunID          string         `gorm:"column:run_id;uniqueIndex"`
	Strategy       string         `gorm:"column:strategy;index"`
	Symbols        string         `gorm:"column:symbols"`
	Start          time.Time      `gorm:"column:start"`
	End            time.Time      `gorm:"column:end"`
	InitialCapital float64        `gorm:"column:initial_capital"`
	FinalEquity    float64        `gorm:"column:final_equity"`
	TotalReturnPct float64        `gorm:"column:total_return_pct"`
	SharpeRatio    float64        `gorm:"column:sharpe_ratio"`
	MaxDrawdownPct float64        `gorm:"column:max_drawdown_pct"`
	TotalTrades    int            `gorm:"column:total_trades"`
	Steps          int            `gorm:"column:steps"`
	Incomplete     bool           `gorm:"column:incomplete"`
	Metrics        datatypes.JSON `gorm:"column:metrics"`
	EquityCurve    datatypes.JSON `gorm:"column:equity_curve"`
	Rejections     datatypes.JSON `gorm:"column:rejections"`
	DataGaps       datatypes.JSON `gorm:"column:data_gaps"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
}

func (RunModel) TableName() string { return "runs" }

// TradeModel maps to the 'trades' table, one row per round trip.
type TradeModel struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	RunID       string    `gorm:"column:run_id;index"`
	Symbol      string    `gorm:"column:symbol;index"`
	Qty         float64   `gorm:"column:qty"`
	Long        bool      `gorm:"column:long"`
	EntryTime   time.Time `gorm:"column:entry_time"`
	EntryPrice  float64   `gorm:"column:entry_price"`
	ExitTime    time.Time `gorm:"column:exit_time"`
	ExitPrice   float64   `gorm:"column:exit_price"`
	GrossPnL    float64   `gorm:"column:gross_pnl"`
	Fees        float64   `gorm:"column:fees"`
	NetPnL      float64   `gorm:"column:net_pnl"`
	ReturnPct   float64   `gorm:"column:return_pct"`
	ReasonEntry string    `gorm:"column:reason_entry"`
	ReasonExit  string    `gorm:"column:reason_exit"`
}

func (TradeModel) TableName() string { return "trades" }

// BarModel maps to the 'bars' table, the local daily-bar cache.
type BarModel struct {
	ID     int64     `gorm:"column:id;primaryKey"`
	Symbol string    `gorm:"column:symbol;uniqueIndex:idx_bars_symbol_time"`
	Time   time.Time `gorm:"column:time;uniqueIndex:idx_bars_symbol_time"`
	Open   float64   `gorm:"column:open"`
	High   float64   `gorm:"column:high"`
	Low    float64   `gorm:"column:low"`
	Close  float64   `gorm:"column:close"`
	Volume float64   `gorm:"column:volume"`
}

func (BarModel) TableName() string { return "bars" }

// ScanModel maps to the 'scans' table, one row per live scan hit.
type ScanModel struct {
	ID           int64     `gorm:"column:id;primaryKey"`
	Time         time.Time `gorm:"column:time;index"`
	Symbol       string    `gorm:"column:symbol"`
	Direction    string    `gorm:"column:direction"`
	GapPct       float64   `gorm:"column:gap_pct"`
	Open         float64   `gorm:"column:open"`
	PrevClose    float64   `gorm:"column:prev_close"`
	SuggestedQty float64   `gorm:"column:suggested_qty"`
}

func (ScanModel) TableName() string { return "scans" }
