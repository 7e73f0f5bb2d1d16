package backtest

import (
	"fmt"
	"time"
)

// DataGapError reports missing feed data for a symbol. It is
// recoverable: the engine logs it, annotates the result and keeps
// going, since holes in multi-year daily history are expected.
type DataGapError struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Err    error
}

func (e *DataGapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data gap for %s (%s..%s): %v",
			e.Symbol, e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"), e.Err)
	}
	return fmt.Sprintf("data gap for %s (%s..%s)",
		e.Symbol, e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"))
}

func (e *DataGapError) Unwrap() error { return e.Err }

// StrategyError wraps a strategy callback failure (returned error or
// recovered panic). Fatal: the run aborts and the partial result is
// returned alongside it.
type StrategyError struct {
	Step int
	Time time.Time
	Err  error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy failed at step %d (%s): %v",
		e.Step, e.Time.Format("2006-01-02"), e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// LedgerIntegrityError indicates an accounting invariant was violated.
// Fatal and never silently corrected: it means a logic defect, not
// recoverable market-data noise.
type LedgerIntegrityError struct {
	Op     string
	Time   time.Time
	Detail string
}

func (e *LedgerIntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation in %s at %s: %s",
		e.Op, e.Time.Format("2006-01-02"), e.Detail)
}
