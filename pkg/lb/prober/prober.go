// Package prober runs the periodic TCP liveness check that drives node
// health state in the registry.
package prober

import (
	"context"
	"net"
	"time"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/lb/registry"
)

// Default probe settings.
const (
	DefaultInterval         = 5 * time.Second
	DefaultTimeout          = 2 * time.Second
	DefaultFailureThreshold = 2
)

// Config controls the prober.
type Config struct {
	// Interval is the time between probe cycles.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// Timeout bounds one TCP connection attempt.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// FailureThreshold is how many consecutive failures turn a node
	// UNHEALTHY.
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
}

// Prober probes every registered node each interval.
type Prober struct {
	registry *registry.Registry
	config   Config

	// dial is swappable in tests.
	dial func(ctx context.Context, address string) error
}

// New creates a prober over the registry.
func New(reg *registry.Registry, config Config) *Prober {
	config.ApplyDefaults()
	p := &Prober{registry: reg, config: config}
	p.dial = p.tcpDial
	return p
}

func (p *Prober) tcpDial(ctx context.Context, address string) error {
	dialer := net.Dialer{Timeout: p.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Run probes until the context is cancelled. The first cycle runs
// immediately so startup does not wait a full interval for health state.
func (p *Prober) Run(ctx context.Context) {
	logger.Info("health prober started",
		"interval", p.config.Interval.String(),
		"failure_threshold", p.config.FailureThreshold)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.ProbeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("health prober stopped")
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every registered node once.
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, node := range p.registry.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if err := p.dial(ctx, node.Address); err != nil {
			logger.Debug("probe failed",
				logger.Backend(node.Name), logger.Endpoint(node.Address), logger.Err(err))
			p.registry.ReportFailure(node.Name, p.config.FailureThreshold)
			continue
		}
		p.registry.ReportSuccess(node.Name)
	}
}
