// Package bus wraps the MQTT connection used for scale signalling
// between the load balancer and the host controller.
package bus

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/errdefs"
)

// TopicScaleRequest carries scale events from the load balancer to the
// host controller.
const TopicScaleRequest = "lb/scale/request"

// Default connection settings.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// qosAtLeastOnce matches the delivery contract: duplicates are fine
	// because the consumer reconciles on counts.
	qosAtLeastOnce = 1
)

// Config describes the broker connection.
type Config struct {
	// BrokerURL is the broker address, e.g. tcp://localhost:1883.
	BrokerURL string `mapstructure:"broker_url" yaml:"broker_url"`

	// ClientID identifies this connection to the broker. Must be unique
	// per process.
	ClientID string `mapstructure:"client_id" yaml:"client_id"`

	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// Conn is a connected MQTT session.
type Conn struct {
	client mqtt.Client
}

// Connect dials the broker and blocks until the session is up or the
// connect timeout passes. Reconnection afterwards is automatic; queued
// publishes resume once the broker returns.
func Connect(config Config) (*Conn, error) {
	if config.BrokerURL == "" {
		return nil, fmt.Errorf("message bus broker URL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("message bus client id is required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(defaultConnectTimeout).
		SetOrderMatters(false)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("message bus connection lost", logger.Err(err))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("message bus connected", "broker", config.BrokerURL, "client_id", config.ClientID)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("connecting to broker %s timed out: %w", config.BrokerURL, errdefs.ErrTransport)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to broker %s: %v: %w", config.BrokerURL, err, errdefs.ErrTransport)
	}
	return &Conn{client: client}, nil
}

// Publish sends payload to topic with at-least-once delivery.
func (c *Conn) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("publish to %s timed out: %w", topic, errdefs.ErrTransport)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %v: %w", topic, err, errdefs.ErrTransport)
	}
	return nil
}

// Subscribe registers handler for topic with at-least-once delivery.
// The handler runs on the client's dispatch goroutines.
func (c *Conn) Subscribe(topic string, handler func(payload []byte)) error {
	token := c.client.Subscribe(topic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("subscribe to %s timed out: %w", topic, errdefs.ErrTransport)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %v: %w", topic, err, errdefs.ErrTransport)
	}
	return nil
}

// Close disconnects from the broker, allowing a short drain for
// in-flight messages.
func (c *Conn) Close() {
	c.client.Disconnect(uint(defaultPublishTimeout.Milliseconds()))
}
