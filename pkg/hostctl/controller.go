package hostctl

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/bus"
)

// Default controller settings.
const (
	DefaultHealthInterval = 30 * time.Second
	DefaultNamePrefix     = "shardvault-backend"
)

// Config controls the host controller.
type Config struct {
	// Image is the backend image reference started on scale-up.
	Image string `mapstructure:"image" yaml:"image"`

	// Network is the cluster network new instances attach to.
	Network string `mapstructure:"network" yaml:"network"`

	// InternalPort is the port the backend publishes.
	InternalPort int `mapstructure:"internal_port" yaml:"internal_port"`

	// VolumeRoot is the host directory under which each instance gets a
	// per-instance storage path.
	VolumeRoot string `mapstructure:"volume_root" yaml:"volume_root"`

	// NamePrefix prefixes instance container names.
	NamePrefix string `mapstructure:"name_prefix" yaml:"name_prefix"`

	// HealthInterval is the period of the container health scan.
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`

	// Env is extra environment passed to every instance.
	Env map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.NamePrefix == "" {
		c.NamePrefix = DefaultNamePrefix
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = DefaultHealthInterval
	}
}

// scaleEvent mirrors the payload published by the load balancer.
type scaleEvent struct {
	Action    string `json:"action"`
	Count     int    `json:"count"`
	QueueSize int    `json:"queueSize"`
}

// instance is one managed container, ordered by start time.
type instance struct {
	handle Handle
	name   string
	index  int
}

// Controller reconciles the managed container count against scale
// events. Reconciliation is count-based, so at-least-once delivery and
// duplicate events are harmless.
type Controller struct {
	executor Executor
	config   Config

	mu        sync.Mutex
	instances []instance
	nextIndex int
}

// Subscriber registers a topic handler. *bus.Conn satisfies it.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// New creates a controller over the executor.
func New(executor Executor, config Config) (*Controller, error) {
	config.ApplyDefaults()
	if config.Image == "" {
		return nil, fmt.Errorf("backend image is required")
	}
	return &Controller{executor: executor, config: config}, nil
}

// Run subscribes to the scale topic and scans container health until
// the context is cancelled.
func (c *Controller) Run(ctx context.Context, sub Subscriber) error {
	err := sub.Subscribe(bus.TopicScaleRequest, func(payload []byte) {
		c.HandleEvent(ctx, payload)
	})
	if err != nil {
		return err
	}
	logger.Info("host controller subscribed", "topic", bus.TopicScaleRequest)

	ticker := time.NewTicker(c.config.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("host controller stopped")
			return nil
		case <-ticker.C:
			c.HealthScan(ctx)
		}
	}
}

// HandleEvent applies one scale event.
func (c *Controller) HandleEvent(ctx context.Context, payload []byte) {
	var event scaleEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Warn("dropping malformed scale event", logger.Err(err))
		return
	}

	logger.Info("scale event received",
		logger.Action(event.Action), "count", event.Count, logger.QueueSize(event.QueueSize))

	switch event.Action {
	case "up":
		c.scaleUp(ctx, event.Count)
	case "down":
		c.scaleDown(ctx, event.Count)
	case "stable":
	default:
		logger.Warn("dropping scale event with unknown action", logger.Action(event.Action))
	}
}

// Count returns the number of managed containers.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}

// scaleUp starts instances until the managed count reaches target.
func (c *Controller) scaleUp(ctx context.Context, target int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.instances) < target {
		inst, err := c.startLocked(ctx)
		if err != nil {
			logger.Error("scale up failed", logger.Err(err))
			return
		}
		logger.Info("backend instance started", logger.Backend(inst.name))
	}
}

// scaleDown stops the most-recently-started instances until the managed
// count reaches target.
func (c *Controller) scaleDown(ctx context.Context, target int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.instances) > target {
		last := c.instances[len(c.instances)-1]
		if err := c.executor.Stop(ctx, last.handle); err != nil {
			logger.Error("scale down failed", logger.Backend(last.name), logger.Err(err))
			return
		}
		c.instances = c.instances[:len(c.instances)-1]
		logger.Info("backend instance stopped", logger.Backend(last.name))
	}
}

// startLocked starts one new instance. Caller holds the mutex.
func (c *Controller) startLocked(ctx context.Context) (instance, error) {
	index := c.nextIndex
	name := fmt.Sprintf("%s-%d", c.config.NamePrefix, index)

	spec := ContainerSpec{
		Name:         name,
		Image:        c.config.Image,
		Network:      c.config.Network,
		InternalPort: c.config.InternalPort,
		Env:          c.config.Env,
	}
	if c.config.VolumeRoot != "" {
		spec.VolumePath = filepath.Join(c.config.VolumeRoot, name)
	}

	handle, err := c.executor.Start(ctx, spec)
	if err != nil {
		return instance{}, err
	}
	c.nextIndex++
	inst := instance{handle: handle, name: name, index: index}
	c.instances = append(c.instances, inst)
	return inst, nil
}

// HealthScan inspects every managed container and replaces the dead
// ones: stop first, then start a fresh instance.
func (c *Controller) HealthScan(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.instances); i++ {
		inst := c.instances[i]
		state, err := c.executor.Inspect(ctx, inst.handle)
		if err == nil && state.Running {
			continue
		}
		logger.Warn("backend instance unhealthy, replacing",
			logger.Backend(inst.name), logger.Health(state.Status), logger.Err(err))

		if err := c.executor.Stop(ctx, inst.handle); err != nil {
			logger.Error("failed to stop unhealthy instance",
				logger.Backend(inst.name), logger.Err(err))
			continue
		}
		c.instances = append(c.instances[:i], c.instances[i+1:]...)
		i--

		if _, err := c.startLocked(ctx); err != nil {
			logger.Error("failed to start replacement instance", logger.Err(err))
		}
	}
}

// Shutdown stops every managed container.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, inst := range c.instances {
		if err := c.executor.Stop(ctx, inst.handle); err != nil {
			logger.Warn("failed to stop instance during shutdown",
				logger.Backend(inst.name), logger.Err(err))
		}
	}
	c.instances = nil
}
