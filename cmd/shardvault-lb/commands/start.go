package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/bus"
	"github.com/shardvault/shardvault/pkg/config"
	"github.com/shardvault/shardvault/pkg/lb/api"
	"github.com/shardvault/shardvault/pkg/lb/forward"
	"github.com/shardvault/shardvault/pkg/lb/policy"
	"github.com/shardvault/shardvault/pkg/lb/prober"
	"github.com/shardvault/shardvault/pkg/lb/queue"
	"github.com/shardvault/shardvault/pkg/lb/registry"
	"github.com/shardvault/shardvault/pkg/lb/scaler"
	"github.com/shardvault/shardvault/pkg/lb/worker"
	"github.com/shardvault/shardvault/pkg/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the load balancer",
	Long: `Start the ShardVault load balancer with the specified configuration.

Examples:
  # Start with default config location
  shardvault-lb start

  # Start with custom config file
  shardvault-lb start --config /etc/shardvault/config.yaml

  # Override the policy from the environment
  SHARDVAULT_LB_POLICY=FCFS shardvault-lb start`,
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

	fmt.Println("ShardVault load balancer")
	logger.Info("Configuration loaded", "policy", cfg.LB.Policy)

	if cfg.Metrics.Enabled {
		metrics.Init()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	pol, err := policy.Parse(cfg.LB.Policy)
	if err != nil {
		return err
	}

	q := queue.New(pol.QueueMode(), cfg.LB.Aging)
	defer q.Close()
	metrics.RegisterQueueDepth(q.Size)

	reg := registry.New()
	for _, addr := range config.ParseNodes(cfg.LB.Nodes) {
		reg.Register(addr, addr)
	}
	logger.Info("Node registry seeded", "nodes", reg.Len())

	selector := policy.NewSelector()
	client := forward.New()

	schedMetrics := metrics.NewSchedulerMetrics()

	w := worker.New(q, reg, selector, client, cfg.LB.Worker)
	w.SetMetrics(schedMetrics)

	p := prober.New(reg, cfg.LB.Prober)

	// The scaling publisher is optional; without a broker the scheduler
	// still balances, it just cannot ask for more backends.
	var scalerConn *bus.Conn
	var sc *scaler.Scaler
	if cfg.Bus.BrokerURL != "" {
		busCfg := cfg.Bus
		if busCfg.ClientID == "" {
			busCfg.ClientID = "shardvault-lb"
		}
		scalerConn, err = bus.Connect(busCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to message bus: %w", err)
		}
		defer scalerConn.Close()

		sc = scaler.New(q, scalerConn, cfg.LB.Scaler)
		sc.OnEvent(func(ev scaler.Event) {
			schedMetrics.RecordScaleEvent(ev.Action)
			auditScaleEvent(reg, selector, client, ev)
		})
		logger.Info("Scaling publisher connected", "broker", cfg.Bus.BrokerURL)
	} else {
		logger.Warn("Scaling publisher disabled: no message bus broker configured")
	}

	go p.Run(ctx)
	go w.Run(ctx)
	if sc != nil {
		go sc.Run(ctx)
	}
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.LB.API, api.Deps{
		Queue:    q,
		Registry: reg,
		Selector: selector,
		Client:   client,
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Load balancer is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Load balancer stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Load balancer stopped")
	}

	return nil
}

// auditScaleEvent records a published scale event in the audit trail via
// any healthy aggregator, best effort.
func auditScaleEvent(reg *registry.Registry, sel *policy.Selector, client *forward.Client, ev scaler.Event) {
	node, err := sel.Pick(reg.Healthy())
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry := forward.AuditEntry{
		EventKind:   "SCALE_" + strings.ToUpper(ev.Action),
		Description: fmt.Sprintf("scale event %s published (count %d, queue depth %d)", ev.Action, ev.Count, ev.QueueSize),
	}
	if err := client.SendAudit(ctx, node.Address, entry); err != nil {
		logger.Debug("scale audit delivery failed", logger.Err(err))
	}
}
