package config

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/backend"
	"github.com/shardvault/shardvault/pkg/backend/pool"
	"github.com/shardvault/shardvault/pkg/crypto"
	"github.com/shardvault/shardvault/pkg/metadata/store"
)

// ParseEndpoints resolves the backend fleet from configuration. The
// structured Nodes list wins; otherwise the comma-separated Endpoints
// string is split into `host[:port]` entries. Shared credentials, port,
// and storage root fill any per-endpoint gaps.
func ParseEndpoints(cfg *BackendsConfig) ([]backend.Endpoint, error) {
	var nodes []NodeConfig
	switch {
	case len(cfg.Nodes) > 0:
		nodes = cfg.Nodes
	case cfg.Endpoints != "":
		for _, entry := range strings.Split(cfg.Endpoints, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			node := NodeConfig{Host: entry}
			if host, portStr, err := net.SplitHostPort(entry); err == nil {
				port, err := strconv.Atoi(portStr)
				if err != nil {
					return nil, fmt.Errorf("endpoint %q: invalid port: %w", entry, err)
				}
				node.Host = host
				node.Port = port
			}
			nodes = append(nodes, node)
		}
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("at least one backend endpoint is required")
	}

	endpoints := make([]backend.Endpoint, 0, len(nodes))
	for i, node := range nodes {
		if node.Host == "" {
			return nil, fmt.Errorf("endpoint #%d: host is required", i+1)
		}
		ep := backend.Endpoint{
			Name:           node.Name,
			Host:           node.Host,
			Port:           node.Port,
			User:           node.User,
			Password:       node.Password,
			PrivateKeyPath: node.PrivateKeyPath,
			StorageRoot:    node.StorageRoot,
			MaxConcurrent:  int(cfg.PermitCount),
			DialTimeout:    cfg.DialTimeout,
		}
		if ep.Port == 0 {
			ep.Port = cfg.Port
		}
		if ep.User == "" {
			ep.User = cfg.User
		}
		if ep.Password == "" {
			ep.Password = cfg.Password
		}
		if ep.PrivateKeyPath == "" {
			ep.PrivateKeyPath = cfg.PrivateKeyPath
		}
		if ep.StorageRoot == "" {
			ep.StorageRoot = cfg.StorageRoot
		}
		if ep.Name == "" {
			ep.Name = net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// ParseNodes splits the load balancer's comma-separated aggregator
// address list.
func ParseNodes(list string) []string {
	var nodes []string
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			nodes = append(nodes, entry)
		}
	}
	return nodes
}

// CreateEngine builds the cipher engine from configuration. Validate
// has already enforced that a key or passphrase is present.
func CreateEngine(cfg EncryptionConfig) (*crypto.Engine, error) {
	if cfg.Key != "" {
		raw, err := hex.DecodeString(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("decoding encryption key: %w", err)
		}
		return crypto.NewEngine(raw)
	}
	return crypto.NewEngineFromPassphrase(cfg.Passphrase)
}

// CreateStore opens the metadata store, retrying per the startup
// configuration. The database frequently comes up after the service in
// containerized deployments.
func CreateStore(ctx context.Context, cfg *Config) (*store.GORMStore, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.Startup.RetryCount; attempt++ {
		metaStore, err := store.New(&cfg.Database)
		if err == nil {
			return metaStore, nil
		}
		lastErr = err
		logger.Warn("metadata store not ready, retrying",
			"attempt", attempt, "max_attempts", cfg.Startup.RetryCount, logger.Err(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("opening metadata store: %w", ctx.Err())
		case <-time.After(cfg.Startup.RetryDelay):
		}
	}
	return nil, fmt.Errorf("opening metadata store after %d attempts: %w", cfg.Startup.RetryCount, lastErr)
}

// CreateBackendPool builds SFTP clients for every configured endpoint
// and wraps them in a permit-managed pool.
func CreateBackendPool(cfg *BackendsConfig) (*pool.Pool, error) {
	endpoints, err := ParseEndpoints(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolving backend endpoints: %w", err)
	}

	clients := make([]backend.Client, 0, len(endpoints))
	for _, ep := range endpoints {
		client, err := backend.NewSFTPClient(ep)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", ep.Name, err)
		}
		clients = append(clients, client)
		logger.Debug("backend configured",
			logger.Backend(ep.Name), "addr", ep.Addr(), "storage_root", ep.StorageRoot)
	}

	return pool.New(clients, cfg.PermitCount, cfg.AcquireTimeout)
}
