// Package api exposes the research tool over HTTP: saved runs, on
// demand backtests and live gap scans.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gaptrade/backtest"
	"gaptrade/fetcher"
	"gaptrade/store"
)

// SnapshotSource supplies live quotes for the scan endpoint.
type SnapshotSource interface {
	GetSnapshots(ctx context.Context, symbols []string) (map[string]fetcher.Snapshot, error)
}

type Server struct {
	engine  *gin.Engine
	server  *http.Server
	started time.Time
}

// Config wires the server's collaborators.
type Config struct {
	Port     int
	Store    *store.Store
	Feed     backtest.Feed
	Snaps    SnapshotSource
	Exec     backtest.ExecConfig
	Defaults backtest.Settings
	Log      zerolog.Logger
}

func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(loggerMiddleware(cfg.Log))

	s := &Server{
		engine:  engine,
		started: time.Now(),
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: engine,
		},
	}

	s.setupRoutes(cfg)
	return s
}

func (s *Server) setupRoutes(cfg Config) {
	handler := NewHandler(cfg, s.started)

	api := s.engine.Group("/api")
	{
		api.GET("/runs", handler.ListRuns)
		api.GET("/runs/:id", handler.GetRun)
		api.POST("/backtest", handler.RunBacktest)

		api.GET("/scans", handler.ListScans)
		api.POST("/scan", handler.RunScan)

		api.GET("/status", handler.GetStatus)
	}

	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func loggerMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
