package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/AzharJacobs/MT5/internal/collector"
	"github.com/AzharJacobs/MT5/internal/config"
	"github.com/AzharJacobs/MT5/internal/gateway"
	"github.com/AzharJacobs/MT5/internal/logger"
	"github.com/AzharJacobs/MT5/internal/store/gormstore"
	collectorhttp "github.com/AzharJacobs/MT5/internal/transport/http"
)

func main() {
	cfgPath := os.Getenv("MT5_COLLECTOR_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("initializing log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	if err := config.WatchLogLevel(cfgPath); err != nil {
		logger.Warnf("config watch unavailable: %v", err)
	}

	st, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		log.Fatalf("opening candle store failed: %v", err)
	}
	defer st.Close()

	src, err := gateway.NewSourceFromConfig(cfg)
	if err != nil {
		log.Fatalf("building market source failed: %v", err)
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := src.Connect(ctx); err != nil {
		// Not fatal: the engine retries with its reconnect ladder on the
		// first tick. Starting while the terminal is down is routine.
		logger.Warnf("initial upstream connect failed: %v", err)
	}

	engine, err := collector.New(collector.Config{
		Pairs:              cfg.Collector.Pairs(),
		TickInterval:       cfg.Collector.TickInterval(),
		HistoricalLookback: cfg.Collector.HistoricalLookback(),
		GapRepairEvery:     cfg.Collector.GapRepairEvery,
		GapRepairLookback:  cfg.Collector.GapRepairLookback(),
		MaxReconnects:      cfg.Collector.MaxReconnectAttempts,
		ReconnectDelay:     cfg.Collector.ReconnectDelay(),
		FetchTimeout:       cfg.Collector.FetchTimeout(),
		MaxConcurrentPairs: cfg.Collector.MaxConcurrentPairs,
		MaxSlotsPerFetch:   cfg.Collector.MaxSlotsPerFetchRequest,
	}, src, st)
	if err != nil {
		log.Fatalf("building collection engine failed: %v", err)
	}

	mon, err := collectorhttp.NewServer(collectorhttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Store:  st,
		Source: src,
		Engine: engine,
	})
	if err != nil {
		log.Fatalf("building monitoring server failed: %v", err)
	}
	go func() {
		if err := mon.Start(); err != nil {
			logger.Errorf("monitoring server stopped: %v", err)
		}
	}()

	logger.Infof("collector starting: %d pairs, tick=%s, source=%s",
		len(cfg.Collector.Pairs()), cfg.Collector.TickInterval(), cfg.Source.Name)

	// Blocks until SIGINT/SIGTERM; the in-flight pass drains before return.
	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		logger.Errorf("engine stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mon.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("monitoring server shutdown: %v", err)
	}
	logger.Infof("collector stopped")
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
