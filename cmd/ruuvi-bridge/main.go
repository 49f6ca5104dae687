// Package main implements the entry point for the ruuvi-bridge exporter.
// It ingests the framed byte stream relayed by a USB bridge device,
// decodes Ruuvi sensor readings, and serves them as Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vandry/ruuvi-bridge/bridge"
	"github.com/vandry/ruuvi-bridge/config"
	"github.com/vandry/ruuvi-bridge/metric"
	"github.com/vandry/ruuvi-bridge/output/natspub"
	"github.com/vandry/ruuvi-bridge/registry"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ruuvi-bridge"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	cliCfg, err := parseFlags()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage()
		os.Exit(3)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (built %s)\n", appName, Version, BuildTime)
		return
	}

	if cliCfg.ShowHelp {
		printUsage()
		return
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cliCfg, logger); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(cliCfg *CLIConfig, logger *slog.Logger) error {
	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("Starting ruuvi-bridge",
		"version", Version,
		"listen_addr", cliCfg.ListenAddr,
		"source_type", cfg.Source.Type,
		"ttl", cfg.TTL(),
		"sweep_interval", cfg.SweepInterval())

	metricsRegistry := metric.NewMetricsRegistry()
	server := metric.NewServer(cliCfg.ListenAddr, cfg.Metrics.Path, metricsRegistry)

	reg := registry.New(registry.Deps{
		Sink:            metricsRegistry.Sensors,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
		TTL:             cfg.TTL(),
		SweepInterval:   cfg.SweepInterval(),
	})

	source, err := buildSource(cfg, logger)
	if err != nil {
		return fmt.Errorf("build source: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var publisher bridge.ReadingPublisher
	if cfg.NATS.URL != "" {
		pub := natspub.New(natspub.Deps{
			URL:             cfg.NATS.URL,
			Subject:         cfg.NATS.Subject,
			MetricsRegistry: metricsRegistry,
			Logger:          logger,
		})
		if err := pub.Connect(ctx); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer pub.Close()
		publisher = pub
	}

	ing := bridge.New(bridge.Deps{
		Source:          source,
		Sink:            metricsRegistry.Sensors,
		Registry:        reg,
		Publisher:       publisher,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
		Backoff:         cfg.RetryBackoff(),
		ChunkSize:       cfg.ReadChunkBytes,
	})

	if err := reg.Start(ctx); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}
	defer func() {
		if err := reg.Stop(shutdownTimeout); err != nil {
			slog.Error("Registry shutdown failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ing.Run(gctx)
	})

	// Stop the metrics server once the group context ends, whether from
	// a signal or a group member failure.
	g.Go(func() error {
		<-gctx.Done()
		if err := server.Stop(); err != nil {
			slog.Error("Metrics server shutdown failed", "error", err)
		}
		return nil
	})

	slog.Info("ruuvi-bridge started", "address", server.Address())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("ruuvi-bridge shutdown complete")
	return nil
}

// buildSource constructs the configured byte-stream source.
func buildSource(cfg *config.Config, logger *slog.Logger) (bridge.Source, error) {
	switch cfg.Source.Type {
	case config.SourceTTY:
		return &bridge.TTYSource{
			Locator: &bridge.TTYLocator{
				Root:      cfg.Source.DeviceRoot,
				DevDir:    cfg.Source.DevDir,
				VendorID:  cfg.Source.VendorID,
				ProductID: cfg.Source.ProductID,
			},
			Logger: logger,
		}, nil
	case config.SourceWebSocket:
		return &bridge.WebSocketSource{
			URL:    cfg.Source.URL,
			Logger: logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

// loadConfig returns defaults when no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
