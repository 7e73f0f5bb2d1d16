package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunConfig fully describes one independent backtest run. Runs share no
// state; callers may execute several concurrently with distinct
// configs.
type RunConfig struct {
	Strategy       Strategy
	Symbols        []string
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Limits         RiskLimits
}

func (c RunConfig) validate() error {
	if c.Strategy == nil {
		return errors.New("no strategy configured")
	}
	if len(c.Symbols) == 0 {
		return errors.New("no symbols configured")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("invalid initial capital: %v", c.InitialCapital)
	}
	if !c.Start.IsZero() && !c.End.IsZero() && c.End.Before(c.Start) {
		return fmt.Errorf("end %s before start %s",
			c.End.Format("2006-01-02"), c.Start.Format("2006-01-02"))
	}
	return nil
}

// Engine drives the time-step loop: feed, strategy, risk manager,
// execution simulator and ledger, wired in that order every step.
type Engine struct {
	feed Feed
	exec *ExecutionSimulator
	log  zerolog.Logger
}

func NewEngine(feed Feed, execCfg ExecConfig, log zerolog.Logger) *Engine {
	return &Engine{
		feed: feed,
		exec: NewExecutionSimulator(execCfg),
		log:  log.With().Str("component", "engine").Logger(),
	}
}

// Run replays the merged bar history through the strategy. Identical
// inputs produce bit-identical results: intents are processed in the
// order the strategy returned them, bars are merged by (timestamp,
// symbol), and no wall clock or randomness enters the loop.
//
// Cancellation via ctx is checked once per step and yields the partial
// result with Incomplete set, not an error. Strategy failures and
// ledger integrity violations abort the run; the partial result is
// still returned alongside the error.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:          uuid.NewString(),
		Strategy:       cfg.Strategy.Name(),
		Symbols:        append([]string(nil), cfg.Symbols...),
		Start:          cfg.Start,
		End:            cfg.End,
		InitialCapital: cfg.InitialCapital,
	}

	steps, gaps := e.loadSteps(ctx, cfg)
	res.DataGaps = gaps

	ledger := NewLedger(cfg.InitialCapital)
	risk := NewRiskManager(cfg.Limits, cfg.InitialCapital)

	executed := len(steps)
	for i, step := range steps {
		if ctx.Err() != nil {
			e.log.Warn().Int("step", i).Msg("run cancelled, returning partial result")
			res.Incomplete = true
			executed = i
			break
		}

		ledger.BeginStep(step.Time)

		intents, err := callStrategy(cfg.Strategy, step, ledger.Snapshot())
		if err != nil {
			res.Incomplete = true
			e.finish(res, ledger, i)
			return res, &StrategyError{Step: i, Time: step.Time, Err: err}
		}

		for _, intent := range intents {
			bar, ok := step.Bar(intent.Symbol)
			if !ok {
				// expected with holey daily data; skip the intent, keep the run
				e.log.Warn().Str("symbol", intent.Symbol).Time("step", step.Time).
					Msg("no bar for intent at step")
				res.Rejections = append(res.Rejections, Rejection{
					Time: step.Time, Stage: StageExecution, Intent: intent,
					Reason: (&DataGapError{Symbol: intent.Symbol, Start: step.Time, End: step.Time}).Error(),
				})
				continue
			}

			decision := risk.Evaluate(intent, bar.Open, ledger.Snapshot())
			if !decision.Accept {
				res.Rejections = append(res.Rejections, Rejection{
					Time: step.Time, Stage: StageRisk, Intent: intent, Reason: decision.Reason,
				})
				continue
			}

			fill, noFill := e.exec.Execute(intent, decision.Qty, bar, ledger.Cash())
			if fill == nil {
				res.Rejections = append(res.Rejections, Rejection{
					Time: step.Time, Stage: StageExecution, Intent: intent, Reason: noFill,
				})
				continue
			}

			if err := ledger.ApplyFill(*fill); err != nil {
				res.Incomplete = true
				e.finish(res, ledger, i)
				return res, fmt.Errorf("step %d (%s), intent %s %s: %w",
					i, step.Time.Format("2006-01-02"), intent.Side, intent.Symbol, err)
			}
		}

		closes := make(map[string]float64, len(step.Bars))
		for _, b := range step.Bars {
			closes[b.Symbol] = b.Close
		}
		if _, err := ledger.MarkToMarket(step.Time, closes); err != nil {
			res.Incomplete = true
			e.finish(res, ledger, i)
			return res, fmt.Errorf("step %d: %w", i, err)
		}
	}

	// Completed runs liquidate whatever is still open at the final mark
	// price, so every round trip shows up in the trade list. Cancelled
	// partial runs keep their open positions.
	if len(steps) > 0 && !res.Incomplete && len(ledger.Snapshot().Positions) > 0 {
		last := steps[len(steps)-1].Time
		if err := e.closeOut(ledger, last); err != nil {
			res.Incomplete = true
			e.finish(res, ledger, executed)
			return res, err
		}
		// re-mark so the curve's final point reflects the liquidation
		if _, err := ledger.MarkToMarket(last, nil); err != nil {
			res.Incomplete = true
			e.finish(res, ledger, executed)
			return res, err
		}
	}

	e.finish(res, ledger, executed)
	return res, nil
}

func (e *Engine) closeOut(ledger *Ledger, t time.Time) error {
	snap := ledger.Snapshot()
	syms := make([]string, 0, len(snap.Positions))
	for s := range snap.Positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	for _, sym := range syms {
		pos := snap.Positions[sym]
		price := ledger.Price(sym)
		if price <= 0 {
			price = pos.AvgPrice
		}
		side := SideSell
		if pos.Qty < 0 {
			side = SideBuy
		}
		qty := math.Abs(pos.Qty)
		fill := Fill{
			Intent: OrderIntent{Symbol: sym, Side: side, Qty: qty,
				Type: OrderMarket, Time: t, Reason: "end of run"},
			Price:      price,
			Qty:        qty,
			Time:       t,
			Commission: price * qty * (e.exec.cfg.CommissionBps / 10000.0),
		}
		if err := ledger.ApplyFill(fill); err != nil {
			return fmt.Errorf("final liquidation of %s: %w", sym, err)
		}
	}
	return nil
}

func (e *Engine) finish(res *Result, ledger *Ledger, steps int) {
	res.Steps = steps
	res.Final = ledger.Snapshot()
	res.EquityCurve = ledger.EquityCurve()
	res.Trades = ledger.Trades()
	res.Metrics = computeMetrics(res.InitialCapital, res.EquityCurve, res.Trades)
}

// loadSteps fetches per-symbol bars and merges them into one
// chronological sequence, stable-sorted by timestamp then symbol, then
// grouped into steps of equal timestamps. Symbols the feed cannot serve
// become data-gap annotations, never a failed run.
func (e *Engine) loadSteps(ctx context.Context, cfg RunConfig) ([]Step, []string) {
	var merged []Bar
	var gaps []string

	for _, sym := range cfg.Symbols {
		bars, err := e.feed.GetBars(ctx, sym, cfg.Start, cfg.End)
		if err != nil {
			gapErr := &DataGapError{Symbol: sym, Start: cfg.Start, End: cfg.End, Err: err}
			e.log.Warn().Err(gapErr).Msg("skipping symbol")
			gaps = append(gaps, gapErr.Error())
			continue
		}
		if len(bars) == 0 {
			gapErr := &DataGapError{Symbol: sym, Start: cfg.Start, End: cfg.End}
			e.log.Warn().Err(gapErr).Msg("feed returned no bars")
			gaps = append(gaps, gapErr.Error())
			continue
		}
		for _, b := range bars {
			if b.Symbol == "" {
				b.Symbol = sym
			}
			merged = append(merged, b)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Time.Equal(merged[j].Time) {
			return merged[i].Time.Before(merged[j].Time)
		}
		return merged[i].Symbol < merged[j].Symbol
	})

	var steps []Step
	for _, b := range merged {
		if n := len(steps); n > 0 && steps[n-1].Time.Equal(b.Time) {
			steps[n-1].Bars = append(steps[n-1].Bars, b)
			continue
		}
		steps = append(steps, Step{Time: b.Time, Bars: []Bar{b}})
	}
	return steps, gaps
}

// callStrategy shields the loop from a panicking callback; the panic
// surfaces as an ordinary strategy failure.
func callStrategy(s Strategy, step Step, snap PortfolioState) (intents []OrderIntent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return s.OnStep(step, snap)
}
