package collectorhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/AzharJacobs/MT5/internal/logger"
	"github.com/AzharJacobs/MT5/internal/market"
	"github.com/AzharJacobs/MT5/internal/store"

	"github.com/gin-gonic/gin"
)

// Engine is the slice of the collection engine the monitoring API needs.
type Engine interface {
	Pairs() []market.Pair
	LastCycleID() string
}

// Server exposes read-only monitoring endpoints: health, per-pair
// watermarks, and the persisted collection log.
type Server struct {
	addr string
	srv  *http.Server
}

// ServerConfig describes the monitoring server dependencies.
type ServerConfig struct {
	Addr   string
	Store  store.CandleStore
	Source market.Source
	Engine Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil || cfg.Engine == nil {
		return nil, errors.New("monitoring server requires store and engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8870"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		storeOK := cfg.Store.Ping(ctx) == nil
		sourceOK := cfg.Source != nil && cfg.Source.IsHealthy(ctx)
		status := http.StatusOK
		if !storeOK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"store": storeOK, "source": sourceOK})
	})

	api := router.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		ctx := c.Request.Context()
		pairs := cfg.Engine.Pairs()
		out := make([]gin.H, 0, len(pairs))
		for _, pair := range pairs {
			item := gin.H{"symbol": pair.Symbol, "timeframe": string(pair.Timeframe)}
			if ts, ok, err := cfg.Store.LastTimestamp(ctx, pair.Symbol, pair.Timeframe); err == nil && ok {
				item["watermark"] = ts.Format(time.RFC3339)
			}
			if count, err := cfg.Store.CountCandles(ctx, pair.Symbol, pair.Timeframe); err == nil {
				item["candles"] = count
			}
			out = append(out, item)
		}
		c.JSON(http.StatusOK, gin.H{"cycle_id": cfg.Engine.LastCycleID(), "pairs": out})
	})
	api.GET("/logs", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		entries, err := cfg.Store.RecentLogs(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": entries})
	})

	return &Server{
		addr: cfg.Addr,
		srv:  &http.Server{Addr: cfg.Addr, Handler: router},
	}, nil
}

// Start serves until Shutdown; it returns only on listener failure.
func (s *Server) Start() error {
	logger.Infof("monitoring server listening on %s", s.addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
