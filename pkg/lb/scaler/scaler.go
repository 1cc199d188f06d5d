// Package scaler watches queue depth and publishes scale events for the
// host controller. It only signals; it never touches containers itself.
package scaler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/bus"
)

// Scale actions.
const (
	ActionUp     = "up"
	ActionDown   = "down"
	ActionStable = "stable"
)

// Default scaling settings.
const (
	DefaultInterval      = 10 * time.Second
	DefaultHighWatermark = 80
	DefaultLowWatermark  = 10
	DefaultMaxBackends   = 5
	DefaultMinBackends   = 1
)

// Event is the JSON payload published on the scale topic.
type Event struct {
	Action    string `json:"action"`
	Count     int    `json:"count"`
	QueueSize int    `json:"queueSize"`
}

// Config controls the scaling publisher.
type Config struct {
	// Interval is the time between depth checks.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// HighWatermark and LowWatermark bound the comfortable depth band.
	HighWatermark int `mapstructure:"high_watermark" yaml:"high_watermark"`
	LowWatermark  int `mapstructure:"low_watermark" yaml:"low_watermark"`

	// MaxBackends and MinBackends are the counts requested when scaling
	// up or down.
	MaxBackends int `mapstructure:"max_backends" yaml:"max_backends"`
	MinBackends int `mapstructure:"min_backends" yaml:"min_backends"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.HighWatermark == 0 {
		c.HighWatermark = DefaultHighWatermark
	}
	if c.LowWatermark == 0 {
		c.LowWatermark = DefaultLowWatermark
	}
	if c.MaxBackends == 0 {
		c.MaxBackends = DefaultMaxBackends
	}
	if c.MinBackends == 0 {
		c.MinBackends = DefaultMinBackends
	}
}

// Publisher sends a payload to a topic. *bus.Conn satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Sizer reports queue depth. *queue.Queue satisfies it.
type Sizer interface {
	Size() int
}

// Scaler is the periodic scaling publisher. Up and down events repeat
// every interval while the depth stays out of band; the consumer
// reconciles on counts, so duplicates are harmless. The stable notice is
// emitted once per return into the band.
type Scaler struct {
	queue      Sizer
	pub        Publisher
	config     Config
	lastAction string

	// onEvent, when set, observes every published event. The load
	// balancer wires it to audit forwarding.
	onEvent func(Event)
}

// New creates a scaler over the queue and publisher.
func New(q Sizer, pub Publisher, config Config) *Scaler {
	config.ApplyDefaults()
	return &Scaler{queue: q, pub: pub, config: config}
}

// OnEvent registers an observer for published events. Must be called
// before Run.
func (s *Scaler) OnEvent(fn func(Event)) {
	s.onEvent = fn
}

// Run checks queue depth every interval until the context is cancelled.
func (s *Scaler) Run(ctx context.Context) {
	logger.Info("scaling publisher started",
		"interval", s.config.Interval.String(),
		"high_watermark", s.config.HighWatermark,
		"low_watermark", s.config.LowWatermark)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scaling publisher stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick evaluates the current depth and publishes at most one event.
func (s *Scaler) Tick() {
	depth := s.queue.Size()

	var event Event
	switch {
	case depth > s.config.HighWatermark:
		event = Event{Action: ActionUp, Count: s.config.MaxBackends, QueueSize: depth}
	case depth < s.config.LowWatermark:
		event = Event{Action: ActionDown, Count: s.config.MinBackends, QueueSize: depth}
	default:
		if s.lastAction == ActionStable || s.lastAction == "" {
			return
		}
		event = Event{Action: ActionStable, QueueSize: depth}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("scale event marshal failed", logger.Err(err))
		return
	}
	if err := s.pub.Publish(bus.TopicScaleRequest, payload); err != nil {
		logger.Error("scale event publish failed",
			logger.Action(event.Action), logger.QueueSize(depth), logger.Err(err))
		return
	}
	s.lastAction = event.Action

	logger.Info("scale event published",
		logger.Action(event.Action), "count", event.Count, logger.QueueSize(depth))
	if s.onEvent != nil {
		s.onEvent(event)
	}
}
