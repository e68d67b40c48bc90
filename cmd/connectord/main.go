// connectord wires config, the shared clock, the event bus, and one
// connector per configured venue, then runs until SIGINT/SIGTERM.
//
// Architecture:
//
//	main.go                  — entry point: loads config, wires venues, waits for shutdown
//	internal/config          — YAML + CONNECTOR_* env configuration
//	internal/clock           — shared realtime/backtest tick dispatcher
//	internal/eventbus        — typed pub/sub delivered to every connector's listeners
//	internal/connector       — in-flight order state machine, status/funding poll loops
//	internal/orderbook       — per-pair snapshot+diff book tracker
//	internal/userstream      — private channel tracker
//	internal/venue/demo      — one concrete venue binding
//	internal/store           — crash-safe JSON persistence of venue bookkeeping
//
// Follows a load -> build -> start -> wait-for-signal -> stop sequence,
// fanning out over every enabled entry in config.Config.Venues.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"connectorcore/internal/clock"
	"connectorcore/internal/config"
	"connectorcore/internal/connector"
	"connectorcore/internal/eventbus"
	"connectorcore/internal/store"
	"connectorcore/internal/venue/demo"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CONNECTOR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newHandler(cfg.Logging))

	dataDir := cfg.Store.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	st, err := store.Open(dataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	bus := eventbus.New(logger)

	mode := clock.Realtime
	if cfg.Clock.Mode == "backtest" {
		mode = clock.Backtest
	}
	clk := clock.New(mode, cfg.Clock.TickSize, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectors := make(map[string]connector.Connector, len(cfg.Venues))
	for name, venueCfg := range cfg.Venues {
		if !venueCfg.Enabled {
			continue
		}
		c, err := demo.Connect(name, venueCfg, bus, logger)
		if err != nil {
			logger.Error("failed to build connector", "venue", name, "error", err)
			os.Exit(1)
		}
		if snap, err := st.LoadVenueSnapshot(name); err != nil {
			logger.Warn("failed to load venue snapshot", "venue", name, "error", err)
		} else if snap != nil {
			c.ImportSnapshot(*snap)
		}
		if err := c.StartNetwork(ctx); err != nil {
			logger.Error("failed to start connector", "venue", name, "error", err)
			os.Exit(1)
		}
		clk.AddIterator(c)
		connectors[name] = c
		logger.Info("connector started", "venue", name)
	}

	if mode == clock.Realtime {
		go clk.Run(ctx)
	}

	go func() {
		for ierr := range clk.Errors() {
			logger.Error("iterator tick failed", "error", ierr.Err, "at", ierr.At)
		}
	}()

	logger.Info("connector core started", "venues", len(connectors))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	for name, c := range connectors {
		if err := st.SaveVenueSnapshot(name, c.ExportSnapshot()); err != nil {
			logger.Error("failed to save venue snapshot", "venue", name, "error", err)
		}
		c.StopNetwork()
		logger.Info("connector stopped", "venue", name)
	}
}

func newHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
