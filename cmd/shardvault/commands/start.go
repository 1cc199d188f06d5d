package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/aggregator"
	"github.com/shardvault/shardvault/pkg/aggregator/api"
	"github.com/shardvault/shardvault/pkg/config"
	"github.com/shardvault/shardvault/pkg/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the aggregator",
	Long: `Start the ShardVault aggregator with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/shardvault/config.yaml.

Examples:
  # Start with default config location
  shardvault start

  # Start with custom config file
  shardvault start --config /etc/shardvault/config.yaml

  # Start with environment variable overrides
  SHARDVAULT_LOGGING_LEVEL=DEBUG shardvault start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("ShardVault - Encrypted distributed object storage")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Metrics first, so the pipeline collectors register against a live
	// registry.
	if cfg.Metrics.Enabled {
		metrics.Init()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	metaStore, err := config.CreateStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer metaStore.Close()
	logger.Info("Metadata store ready", "type", string(cfg.Database.Type))

	engine, err := config.CreateEngine(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("failed to create cipher engine: %w", err)
	}
	logger.Info("Cipher engine ready", "cipher", engine.Tag())

	backendPool, err := config.CreateBackendPool(&cfg.Backends)
	if err != nil {
		return err
	}
	defer backendPool.Close()

	service, err := aggregator.New(metaStore, backendPool, engine, cfg.Pipeline)
	if err != nil {
		return err
	}
	service.SetMetrics(metrics.NewPipelineMetrics())
	logger.Info("Pipeline ready",
		"chunk_size", cfg.Pipeline.ChunkSize.String(),
		"max_file_size", cfg.Pipeline.MaxFileSize.String(),
		"max_concurrent_uploads", cfg.Pipeline.MaxConcurrentUploads)

	server := api.NewServer(cfg.API, service)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Aggregator is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Aggregator stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Aggregator stopped")
	}

	return nil
}
