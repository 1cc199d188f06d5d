// Package api is the load balancer's client-facing HTTP server. Upload
// bodies are spooled to disk and queued; downloads ride through the
// queue too and rendezvous with the dispatch worker; deletes proxy
// synchronously to a healthy aggregator node.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shardvault/shardvault/internal/bytesize"
	"github.com/shardvault/shardvault/internal/logger"
)

// DefaultMaxRequestSize caps a single queued upload.
const DefaultMaxRequestSize = 5 * bytesize.GiB

// Config configures the front HTTP server.
type Config struct {
	// Port is the HTTP port clients connect to.
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout and WriteTimeout bound request and response transfer.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle bound.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// MaxRequestSize bounds the declared size of a single upload.
	// Default: 5GiB
	MaxRequestSize bytesize.ByteSize `mapstructure:"max_request_size" yaml:"max_request_size"`

	// SpoolDir holds queued upload bodies. Default: the OS temp dir.
	SpoolDir string `mapstructure:"spool_dir" yaml:"spool_dir"`
}

func (c *Config) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = DefaultMaxRequestSize
	}
}

// Server owns the front listener lifecycle.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates the front server in a stopped state.
func NewServer(config Config, deps Deps) *Server {
	config.ApplyDefaults()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      NewRouter(config, deps),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return &Server{server: server, config: config}
}

// Start serves requests until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("front server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("front server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("front server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("front server shutdown error: %w", err)
			logger.Error("front server shutdown error", "error", err)
		} else {
			logger.Info("front server stopped gracefully")
		}
	})
	return shutdownErr
}
