package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gaptrade/config"
	"gaptrade/fetcher"
	"gaptrade/market"
	"gaptrade/scanner"
	"gaptrade/store"
)

var (
	scanUniverse  string
	scanDirection string
	scanGapPct    float64
	scanSize      float64
	scanNoRecord  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan live snapshots for overnight gaps",
	Long: `Fetch snapshots for a universe and list the symbols gapping beyond the
threshold, largest gap first. Hits are recorded in the scan log unless
--no-record is given.

Example:
  gaptrade scan --universe smallcaps --direction up --gap 3
  gaptrade scan --universe bigtech --direction down`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanUniverse, "universe", "", "named universe from the config file (default from config)")
	scanCmd.Flags().StringVar(&scanDirection, "direction", "up", "gap direction: up or down")
	scanCmd.Flags().Float64Var(&scanGapPct, "gap", 0, "minimum gap percent (default from config)")
	scanCmd.Flags().Float64Var(&scanSize, "size", 0, "dollar size used to suggest share counts")
	scanCmd.Flags().BoolVar(&scanNoRecord, "no-record", false, "do not write hits to the scan log")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	universe := scanUniverse
	if universe == "" {
		universe = cfg.ScanUniverse
	}
	symbols := cfg.Universe(universe)
	if len(symbols) == 0 {
		return fmt.Errorf("unknown universe: %s", universe)
	}

	gapPct := scanGapPct
	if gapPct <= 0 {
		gapPct = cfg.ScanGapPct
	}
	params := scanner.Params{
		Direction:       scanner.Direction(scanDirection),
		GapPct:          gapPct,
		OrderDollarSize: scanSize,
	}

	client := fetcher.NewClient(fetcher.Credentials{
		KeyID:     cfg.FeedKeyID,
		SecretKey: cfg.FeedSecretKey,
	}, log, feedOptions(cfg)...)

	ctx := cmd.Context()
	snaps, err := client.GetSnapshots(ctx, symbols)
	if err != nil {
		return err
	}

	quotes := make([]scanner.Quote, 0, len(snaps))
	for _, s := range snaps {
		quotes = append(quotes, scanner.Quote{Symbol: s.Symbol, Open: s.DailyOpen, PrevClose: s.PrevClose})
	}
	now := time.Now()
	if !market.IsMarketOpen() && !market.IsPreMarketAt(now) {
		log.Warn().
			Time("prev_session", market.PrevTradingDay(now)).
			Msg("market closed; snapshot gaps reflect the previous session")
	}

	at := now.UTC()
	hits, err := scanner.ScanQuotes(quotes, at, params)
	if err != nil {
		return err
	}

	printCandidates(os.Stdout, hits)

	if !scanNoRecord && len(hits) > 0 {
		st, err := store.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SaveScan(ctx, at, scanner.Direction(scanDirection), hits); err != nil {
			log.Error().Err(err).Msg("record scan failed")
		}
	}
	return nil
}

func feedOptions(cfg *config.Config) []fetcher.Option {
	var opts []fetcher.Option
	if cfg.FeedBaseURL != "" {
		opts = append(opts, fetcher.WithBaseURL(cfg.FeedBaseURL))
	}
	return opts
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return t, nil
}
