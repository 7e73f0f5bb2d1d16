package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gaptrade/backtest"
	"gaptrade/fetcher"
	"gaptrade/report"
	"gaptrade/scanner"
	"gaptrade/store"
)

var (
	btSettingsPath string
	btSymbols      []string
	btUniverse     string
	btStart        string
	btEnd          string
	btOut          string
	btNoSave       bool
	btShowTrades   bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay a gap strategy against historical daily bars",
	Long: `Replay a gap strategy over the configured period. Bars come from the
local cache, falling through to the data feed on a miss. The run is
saved to the database and its artifacts written to the output
directory.

Example:
  gaptrade backtest --settings backtest.yaml
  gaptrade backtest --universe bigtech --start 2023-01-01 --end 2024-01-01`,
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&btSettingsPath, "settings", "", "backtest settings YAML (strategy, risk, execution)")
	backtestCmd.Flags().StringSliceVar(&btSymbols, "symbols", nil, "symbols to trade, overrides the settings file")
	backtestCmd.Flags().StringVar(&btUniverse, "universe", "", "named universe from the config file")
	backtestCmd.Flags().StringVar(&btStart, "start", "", "start date (2006-01-02)")
	backtestCmd.Flags().StringVar(&btEnd, "end", "", "end date (2006-01-02)")
	backtestCmd.Flags().StringVar(&btOut, "out", "", "artifact directory, overrides the config file")
	backtestCmd.Flags().BoolVar(&btNoSave, "no-save", false, "skip writing the run to the database")
	backtestCmd.Flags().BoolVar(&btShowTrades, "trades", false, "print the trade list")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	settings, err := loadSettings(btSettingsPath)
	if err != nil {
		return err
	}
	if len(btSymbols) > 0 {
		settings.Symbols = btSymbols
	}
	if btUniverse != "" {
		syms := cfg.Universe(btUniverse)
		if len(syms) == 0 {
			return fmt.Errorf("unknown universe: %s", btUniverse)
		}
		settings.Symbols = syms
	}
	if err := applyDates(&settings, btStart, btEnd); err != nil {
		return err
	}

	strat, err := scanner.FromSettings(settings)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	client := fetcher.NewClient(fetcher.Credentials{
		KeyID:     cfg.FeedKeyID,
		SecretKey: cfg.FeedSecretKey,
	}, log, feedOptions(cfg)...)
	feed := store.NewCachedFeed(st, client, log)

	eng := backtest.NewEngine(feed, settings.Exec, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := eng.Run(ctx, settings.RunConfig(strat))
	if err != nil {
		if res == nil {
			return err
		}
		log.Error().Err(err).Msg("run aborted, reporting the partial result")
	}

	printMetrics(os.Stdout, res)
	if btShowTrades {
		fmt.Println()
		printTrades(os.Stdout, res.Trades)
	}

	if !btNoSave {
		if err := st.SaveRun(ctx, res); err != nil {
			log.Error().Err(err).Msg("save run failed")
		}
	}

	mon := report.Monitor{MaxDailyLoss: settings.Limits.MaxDailyLossPct * settings.InitialCapital}
	for _, a := range mon.Check(res) {
		log.Warn().Str("kind", string(a.Kind)).Msg(a.Message)
	}

	outDir := cfg.OutputDir
	if btOut != "" {
		outDir = btOut
	}
	w := report.NewWriter(outDir).WithMonitor(mon)
	dir, err := w.WriteResult(res)
	if err != nil {
		return err
	}
	if _, err := w.WriteHTML(dir, res); err != nil {
		log.Warn().Err(err).Msg("html report failed")
	}
	log.Info().Str("dir", dir).Msg("artifacts written")
	return nil
}

func loadSettings(path string) (backtest.Settings, error) {
	if path == "" {
		return backtest.DefaultSettings(), nil
	}
	return backtest.LoadSettings(path)
}

func applyDates(s *backtest.Settings, start, end string) error {
	if start != "" {
		t, err := parseDate(start)
		if err != nil {
			return err
		}
		s.Start = t
	}
	if end != "" {
		t, err := parseDate(end)
		if err != nil {
			return err
		}
		s.End = t
	}
	return nil
}
