package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/bus"
	"github.com/shardvault/shardvault/pkg/config"
	"github.com/shardvault/shardvault/pkg/hostctl"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the host controller",
	Long: `Start the ShardVault host controller with the specified configuration.

The controller subscribes to the scale topic on the message bus and
reconciles the local backend container count against each event.

Examples:
  # Start with default config location
  shardvault-hostd start

  # Start with custom config file
  shardvault-hostd start --config /etc/shardvault/config.yaml`,
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

	fmt.Println("ShardVault host controller")
	logger.Info("Configuration loaded",
		"image", cfg.Host.Image, "name_prefix", cfg.Host.NamePrefix)

	controller, err := hostctl.New(hostctl.NewDockerExecutor(), cfg.Host)
	if err != nil {
		return err
	}

	busCfg := cfg.Bus
	if busCfg.ClientID == "" {
		busCfg.ClientID = "shardvault-hostd"
	}
	conn, err := bus.Connect(busCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to message bus: %w", err)
	}
	defer conn.Close()
	logger.Info("Message bus connected", "broker", busCfg.BrokerURL)

	controllerDone := make(chan error, 1)
	go func() {
		controllerDone <- controller.Run(ctx, conn)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Host controller is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, stopping managed containers")
		cancel()
		<-controllerDone

	case err := <-controllerDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Controller error", "error", err)
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	controller.Shutdown(shutdownCtx)
	logger.Info("Host controller stopped")

	return nil
}
