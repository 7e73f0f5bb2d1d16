package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"gaptrade/backtest"
)

// RunSummary is the list view of a saved run.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Strategy       string    `json:"strategy"`
	Symbols        []string  `json:"symbols"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	FinalEquity    float64   `json:"final_equity"`
	TotalReturnPct float64   `json:"total_return_pct"`
	TotalTrades    int       `json:"total_trades"`
	Incomplete     bool      `json:"incomplete"`
	CreatedAt      time.Time `json:"created_at"`
}

// SaveRun persists a result and its trades in one transaction.
func (s *Store) SaveRun(ctx context.Context, res *backtest.Result) error {
	if res == nil || res.RunID == "" {
		return errors.New("result has no run id")
	}

	row, err := runRow(res)
	if err != nil {
		return err
	}
	trades := make([]TradeModel, 0, len(res.Trades))
	for _, t := range res.Trades {
		trades = append(trades, TradeModel{
			RunID:       res.RunID,
			Symbol:      t.Symbol,
			Qty:         t.Qty,
			Long:        t.Long,
			EntryTime:   t.EntryTime,
			EntryPrice:  t.EntryPrice,
			ExitTime:    t.ExitTime,
			ExitPrice:   t.ExitPrice,
			GrossPnL:    t.GrossPnL,
			Fees:        t.Fees,
			NetPnL:      t.NetPnL,
			ReturnPct:   t.ReturnPct,
			ReasonEntry: t.ReasonEntry,
			ReasonExit:  t.ReasonExit,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("save run %s: %w", res.RunID, err)
		}
		if len(trades) > 0 {
			if err := tx.Create(&trades).Error; err != nil {
				return fmt.Errorf("save trades for %s: %w", res.RunID, err)
			}
		}
		return nil
	})
}

func runRow(res *backtest.Result) (*RunModel, error) {
	metrics, err := json.Marshal(res.Metrics)
	if err != nil {
		return nil, err
	}
	curve, err := json.Marshal(res.EquityCurve)
	if err != nil {
		return nil, err
	}
	rejections, err := json.Marshal(res.Rejections)
	if err != nil {
		return nil, err
	}
	gaps, err := json.Marshal(res.DataGaps)
	if err != nil {
		return nil, err
	}
	return &RunModel{
		RunID:          res.RunID,
		Strategy:       res.Strategy,
		Symbols:        strings.Join(res.Symbols, ","),
		Start:          res.Start,
		End:            res.End,
		InitialCapital: res.InitialCapital,
		FinalEquity:    res.Metrics.FinalEquity,
		TotalReturnPct: res.Metrics.TotalReturnPct,
		SharpeRatio:    res.Metrics.SharpeRatio,
		MaxDrawdownPct: res.Metrics.MaxDrawdownPct,
		TotalTrades:    res.Metrics.TotalTrades,
		Steps:          res.Steps,
		Incomplete:     res.Incomplete,
		Metrics:        metrics,
		EquityCurve:    curve,
		Rejections:     rejections,
		DataGaps:       gaps,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// ListRuns returns summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []RunModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]RunSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, RunSummary{
			RunID:          r.RunID,
			Strategy:       r.Strategy,
			Symbols:        splitSymbols(r.Symbols),
			Start:          r.Start,
			End:            r.End,
			FinalEquity:    r.FinalEquity,
			TotalReturnPct: r.TotalReturnPct,
			TotalTrades:    r.TotalTrades,
			Incomplete:     r.Incomplete,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out, nil
}

// GetRun reconstructs a full result from its saved row and trades. It
// returns nil when the run id is unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (*backtest.Result, error) {
	var row RunModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := &backtest.Result{
		RunID:          row.RunID,
		Strategy:       row.Strategy,
		Symbols:        splitSymbols(row.Symbols),
		Start:          row.Start,
		End:            row.End,
		InitialCapital: row.InitialCapital,
		Steps:          row.Steps,
		Incomplete:     row.Incomplete,
	}
	if err := json.Unmarshal(row.Metrics, &res.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics for %s: %w", runID, err)
	}
	if err := json.Unmarshal(row.EquityCurve, &res.EquityCurve); err != nil {
		return nil, fmt.Errorf("decode equity curve for %s: %w", runID, err)
	}
	if len(row.Rejections) > 0 {
		if err := json.Unmarshal(row.Rejections, &res.Rejections); err != nil {
			return nil, fmt.Errorf("decode rejections for %s: %w", runID, err)
		}
	}
	if len(row.DataGaps) > 0 {
		if err := json.Unmarshal(row.DataGaps, &res.DataGaps); err != nil {
			return nil, fmt.Errorf("decode data gaps for %s: %w", runID, err)
		}
	}

	var trades []TradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("exit_time ASC, id ASC").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	for _, t := range trades {
		res.Trades = append(res.Trades, backtest.Trade{
			Symbol:      t.Symbol,
			Qty:         t.Qty,
			Long:        t.Long,
			EntryTime:   t.EntryTime,
			EntryPrice:  t.EntryPrice,
			ExitTime:    t.ExitTime,
			ExitPrice:   t.ExitPrice,
			GrossPnL:    t.GrossPnL,
			Fees:        t.Fees,
			NetPnL:      t.NetPnL,
			ReturnPct:   t.ReturnPct,
			ReasonEntry: t.ReasonEntry,
			ReasonExit:  t.ReasonExit,
		})
	}
	return res, nil
}

func splitSymbols(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
