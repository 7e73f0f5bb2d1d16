package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gaptrade/api"
	"gaptrade/backtest"
	"gaptrade/config"
	"gaptrade/fetcher"
	"gaptrade/market"
	"gaptrade/scanner"
	"gaptrade/store"
)

var serveNoScan bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the pre-market scan daemon",
	Long: `Serve the API (saved runs, on demand backtests, scans) and poll
snapshots for gaps during the pre-market and regular session. When a
config file is in use it is watched and changes take effect without a
restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoScan, "no-scan", false, "disable the periodic scan loop")
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	// Static config unless a file exists to watch.
	var watcher *config.Watcher
	cfg := config.GetConfig(path)
	if path != "" {
		w, err := config.Watch(path, log)
		if err != nil {
			log.Warn().Err(err).Msg("config watch failed, using a static config")
		} else {
			watcher = w
			defer watcher.Close()
			cfg = watcher.Snapshot()
		}
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

	srv := api.NewServer(api.Config{
		Port:     cfg.Port,
		Store:    st,
		Feed:     feed,
		Snaps:    client,
		Exec:     backtest.DefaultSettings().Exec,
		Defaults: backtest.DefaultSettings(),
		Log:      log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !serveNoScan {
		snapshot := func() *config.Config {
			if watcher != nil {
				return watcher.Snapshot()
			}
			return cfg
		}
		go scanLoop(ctx, snapshot, client, st)
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("api listening")
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return srv.Shutdown()
}

// scanLoop polls snapshots on the configured interval, but only while
// the session (pre-market included) is live. Interval and universe
// follow config reloads.
func scanLoop(ctx context.Context, snapshot func() *config.Config, client *fetcher.Client, st *store.Store) {
	cfg := snapshot()
	ticker := time.NewTicker(cfg.ScanInterval)
	defer ticker.Stop()

	interval := cfg.ScanInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg = snapshot()
			if cfg.ScanInterval != interval {
				interval = cfg.ScanInterval
				ticker.Reset(interval)
			}

			now := time.Now()
			if !market.IsPreMarketAt(now) && !market.IsMarketOpenAt(now) {
				log.Debug().
					Time("next_session", market.NextTradingDay(now)).
					Msg("market closed, scan skipped")
				continue
			}
			runScanPass(ctx, cfg, client, st)
		}
	}
}

func runScanPass(ctx context.Context, cfg *config.Config, client *fetcher.Client, st *store.Store) {
	symbols := cfg.Universe(cfg.ScanUniverse)
	if len(symbols) == 0 {
		log.Warn().Str("universe", cfg.ScanUniverse).Msg("scan universe is empty")
		return
	}

	snaps, err := client.GetSnapshots(ctx, symbols)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot fetch failed")
		return
	}

	quotes := make([]scanner.Quote, 0, len(snaps))
	for _, s := range snaps {
		quotes = append(quotes, scanner.Quote{Symbol: s.Symbol, Open: s.DailyOpen, PrevClose: s.PrevClose})
	}

	at := time.Now().UTC()
	for _, dir := range []scanner.Direction{scanner.GapUp, scanner.GapDown} {
		hits, err := scanner.ScanQuotes(quotes, at, scanner.Params{Direction: dir, GapPct: cfg.ScanGapPct})
		if err != nil || len(hits) == 0 {
			continue
		}
		log.Info().Str("direction", string(dir)).Int("hits", len(hits)).Msg("gap candidates")
		if err := st.SaveScan(ctx, at, dir, hits); err != nil {
			log.Warn().Err(err).Msg("record scan failed")
		}
	}
}
