package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gaptrade/fetcher"
	"gaptrade/report"
	"gaptrade/store"
)

var (
	repOut    string
	repCharts bool
)

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Rebuild artifacts for a saved run",
	Long: `Load a saved run from the database, print its metrics and write the
report files. With --charts a per-symbol candle chart with trade
markers is rendered from cached bars.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&repOut, "out", "", "artifact directory, overrides the config file")
	reportCmd.Flags().BoolVar(&repCharts, "charts", false, "render per-symbol SVG candle charts")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx := cmd.Context()

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("run not found: %s", args[0])
	}

	printMetrics(os.Stdout, res)
	fmt.Println()
	printTrades(os.Stdout, res.Trades)

	outDir := cfg.OutputDir
	if repOut != "" {
		outDir = repOut
	}
	w := report.NewWriter(outDir)
	dir, err := w.WriteResult(res)
	if err != nil {
		return err
	}
	if _, err := w.WriteHTML(dir, res); err != nil {
		log.Warn().Err(err).Msg("html report failed")
	}

	if repCharts {
		client := fetcher.NewClient(fetcher.Credentials{
			KeyID:     cfg.FeedKeyID,
			SecretKey: cfg.FeedSecretKey,
		}, log, feedOptions(cfg)...)
		feed := store.NewCachedFeed(st, client, log)

		for _, sym := range res.Symbols {
			bars, err := feed.GetBars(ctx, sym, res.Start, res.End)
			if err != nil || len(bars) < 2 {
				log.Warn().Err(err).Str("symbol", sym).Msg("no bars for chart")
				continue
			}
			svg, err := report.RenderCandlesWithVolumeSVG(sym, bars, nil,
				report.TradeMarkers(res.Trades, sym), 20, report.SVGChartOptions{})
			if err != nil {
				log.Warn().Err(err).Str("symbol", sym).Msg("chart failed")
				continue
			}
			path := filepath.Join(dir, fmt.Sprintf("%s.svg", sym))
			if err := os.WriteFile(path, svg, 0o644); err != nil {
				return err
			}
		}
	}

	log.Info().Str("dir", dir).Msg("artifacts written")
	return nil
}
