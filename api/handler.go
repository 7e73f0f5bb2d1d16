package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gaptrade/backtest"
	"gaptrade/market"
	"gaptrade/scanner"
	"gaptrade/store"
)

type Handler struct {
	store    *store.Store
	feed     backtest.Feed
	snaps    SnapshotSource
	exec     backtest.ExecConfig
	defaults backtest.Settings
	log      zerolog.Logger
	started  time.Time
}

func NewHandler(cfg Config, started time.Time) *Handler {
	return &Handler{
		store:    cfg.Store,
		feed:     cfg.Feed,
		snaps:    cfg.Snaps,
		exec:     cfg.Exec,
		defaults: cfg.Defaults,
		log:      cfg.Log,
		started:  started,
	}
}

// ListRuns returns saved run summaries, newest first.
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "count": len(runs), "data": runs})
}

// GetRun returns one full result.
func (h *Handler) GetRun(c *gin.Context) {
	id := c.Param("id")
	res, err := h.store.GetRun(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
}

// BacktestRequest is the POST /api/backtest body. Omitted risk and
// execution settings fall back to the server defaults.
type BacktestRequest struct {
	Strategy       string               `json:"strategy" binding:"required"`
	Params         map[string]any       `json:"params"`
	Symbols        []string             `json:"symbols" binding:"required"`
	Start          string               `json:"start"`
	End            string               `json:"end"`
	InitialCapital float64              `json:"initial_capital"`
	Limits         *backtest.RiskLimits `json:"limits"`
}

// RunBacktest runs a backtest synchronously, saves it and returns the
// full result.
func (h *Handler) RunBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := h.defaults
	settings.StrategyType = req.Strategy
	if req.Params != nil {
		settings.StrategyParams = req.Params
	}
	strat, err := scanner.FromSettings(settings)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runCfg := backtest.RunConfig{
		Strategy: strat,
		Symbols:  req.Symbols,
		Limits:   settings.Limits,
	}
	if req.Limits != nil {
		runCfg.Limits = *req.Limits
	}
	runCfg.InitialCapital = settings.InitialCapital
	if req.InitialCapital > 0 {
		runCfg.InitialCapital = req.InitialCapital
	}
	if req.Start != "" {
		t, err := time.Parse("2006-01-02", req.Start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad start date: %v", err)})
			return
		}
		runCfg.Start = t
	}
	if req.End != "" {
		t, err := time.Parse("2006-01-02", req.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad end date: %v", err)})
			return
		}
		runCfg.End = t
	}

	eng := backtest.NewEngine(h.feed, h.exec, h.log)
	res, err := eng.Run(c.Request.Context(), runCfg)
	if err != nil {
		status := http.StatusInternalServerError
		if res == nil {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.SaveRun(c.Request.Context(), res); err != nil {
		h.log.Error().Err(err).Str("run_id", res.RunID).Msg("save run failed")
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
}

// ScanRequest is the POST /api/scan body.
type ScanRequest struct {
	Symbols         []string `json:"symbols" binding:"required"`
	Direction       string   `json:"direction"`
	GapPct          float64  `json:"gap_pct"`
	OrderDollarSize float64  `json:"order_dollar_size"`
}

// RunScan fetches live snapshots and returns the qualifying gaps. Hits
// are also recorded in the scan log.
func (h *Handler) RunScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := scanner.Params{
		Direction:       scanner.Direction(req.Direction),
		GapPct:          req.GapPct,
		OrderDollarSize: req.OrderDollarSize,
	}

	snaps, err := h.snaps.GetSnapshots(c.Request.Context(), req.Symbols)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	quotes := make([]scanner.Quote, 0, len(snaps))
	for _, s := range snaps {
		quotes = append(quotes, scanner.Quote{Symbol: s.Symbol, Open: s.DailyOpen, PrevClose: s.PrevClose})
	}
	at := time.Now().UTC()
	hits, err := scanner.ScanQuotes(quotes, at, params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(hits) > 0 {
		dir := params.Direction
		if dir == "" {
			dir = scanner.GapUp
		}
		if err := h.store.SaveScan(c.Request.Context(), at, dir, hits); err != nil {
			h.log.Error().Err(err).Msg("save scan failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "count": len(hits), "data": hits})
}

// ListScans returns recent scan hits.
func (h *Handler) ListScans(c *gin.Context) {
	since := time.Time{}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad since date: %v", err)})
			return
		}
		since = t
	}
	rows, err := h.store.ListScans(c.Request.Context(), since, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "count": len(rows), "data": rows})
}

// GetStatus reports uptime and the exchange clock.
func (h *Handler) GetStatus(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"code":        0,
		"uptime":      now.Sub(h.started).Round(time.Second).String(),
		"market_open": market.IsMarketOpenAt(now),
		"pre_market":  market.IsPreMarketAt(now),
		"time":        now.UTC().Format(time.RFC3339),
	})
}
