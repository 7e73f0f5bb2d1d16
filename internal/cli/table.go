package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"gaptrade/backtest"
	"gaptrade/scanner"
)

// en formats dollar amounts and share counts with thousands separators.
var en = message.NewPrinter(language.AmericanEnglish)

func printMetrics(w io.Writer, res *backtest.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	m := res.Metrics
	fmt.Fprintf(tw, "run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "strategy\t%s\n", res.Strategy)
	fmt.Fprintf(tw, "period\t%s ~ %s (%d steps)\n",
		res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"), res.Steps)
	en.Fprintf(tw, "initial capital\t$%.2f\n", res.InitialCapital)
	en.Fprintf(tw, "final equity\t$%.2f\n", m.FinalEquity)
	fmt.Fprintf(tw, "total return\t%.2f%%\n", m.TotalReturnPct)
	fmt.Fprintf(tw, "annual return\t%.2f%%\n", m.AnnualReturnPct)
	fmt.Fprintf(tw, "sharpe\t%.2f\n", m.SharpeRatio)
	fmt.Fprintf(tw, "max drawdown\t%.2f%%\n", m.MaxDrawdownPct)
	fmt.Fprintf(tw, "trades\t%d (%d wins, %.1f%% win rate)\n",
		m.TotalTrades, m.ProfitableTrades, m.WinRatePct)
	fmt.Fprintf(tw, "profit factor\t%.2f\n", m.ProfitFactor)
	if len(res.Rejections) > 0 {
		fmt.Fprintf(tw, "rejections\t%d\n", len(res.Rejections))
	}
	if len(res.DataGaps) > 0 {
		fmt.Fprintf(tw, "data gaps\t%d\n", len(res.DataGaps))
	}
	if res.Incomplete {
		fmt.Fprintf(tw, "note\trun was cancelled before the last step\n")
	}
}

func printTrades(w io.Writer, trades []backtest.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "no trades")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "SYMBOL\tSIDE\tQTY\tENTRY\tEXIT\tNET PNL\tRETURN\tEXIT REASON")
	for _, t := range trades {
		side := "long"
		if !t.Long {
			side = "short"
		}
		en.Fprintf(tw, "%s\t%s\t%.0f\t%s @ %.2f\t%s @ %.2f\t$%.2f\t%.2f%%\t%s\n",
			t.Symbol, side, t.Qty,
			t.EntryTime.Format("01-02"), t.EntryPrice,
			t.ExitTime.Format("01-02"), t.ExitPrice,
			t.NetPnL, t.ReturnPct, t.ReasonExit)
	}
}

func printCandidates(w io.Writer, hits []scanner.Candidate) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "no candidates")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "SYMBOL\tGAP\tOPEN\tPREV CLOSE\tQTY")
	for _, h := range hits {
		en.Fprintf(tw, "%s\t%+.2f%%\t%.2f\t%.2f\t%.0f\n",
			h.Symbol, h.GapPct, h.Open, h.PrevClose, h.SuggestedQty)
	}
}
