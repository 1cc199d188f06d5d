package config

import (
	"encoding/hex"
	"testing"
	"time"
)

func TestParseEndpoints_CommaList(t *testing.T) {
	cfg := &BackendsConfig{
		Endpoints:      "sftp1:2222, sftp2 ,sftp3",
		User:           "vault",
		Password:       "secret",
		Port:           22,
		StorageRoot:    "/data",
		PermitCount:    4,
		AcquireTimeout: 30 * time.Second,
		DialTimeout:    10 * time.Second,
	}

	endpoints, err := ParseEndpoints(cfg)
	if err != nil {
		t.Fatalf("ParseEndpoints failed: %v", err)
	}
	if len(endpoints) != 3 {
		t.Fatalf("Expected 3 endpoints, got %d", len(endpoints))
	}

	if endpoints[0].Host != "sftp1" || endpoints[0].Port != 2222 {
		t.Errorf("Expected sftp1:2222, got %s:%d", endpoints[0].Host, endpoints[0].Port)
	}
	if endpoints[0].Name != "sftp1:2222" {
		t.Errorf("Expected derived name sftp1:2222, got %q", endpoints[0].Name)
	}
	if endpoints[1].Host != "sftp2" || endpoints[1].Port != 22 {
		t.Errorf("Expected sftp2 with default port 22, got %s:%d", endpoints[1].Host, endpoints[1].Port)
	}
	for _, ep := range endpoints {
		if ep.User != "vault" || ep.Password != "secret" {
			t.Errorf("Expected shared credentials on %s", ep.Name)
		}
		if ep.StorageRoot != "/data" {
			t.Errorf("Expected shared storage root on %s, got %q", ep.Name, ep.StorageRoot)
		}
	}
}

func TestParseEndpoints_NodesOverrideList(t *testing.T) {
	cfg := &BackendsConfig{
		Endpoints: "ignored:22",
		Nodes: []NodeConfig{
			{Name: "primary", Host: "sftp1", User: "alice", StorageRoot: "/srv/chunks"},
			{Host: "sftp2", Port: 2022},
		},
		User:     "vault",
		Password: "secret",
		Port:     22,
	}

	endpoints, err := ParseEndpoints(cfg)
	if err != nil {
		t.Fatalf("ParseEndpoints failed: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("Expected 2 endpoints from Nodes, got %d", len(endpoints))
	}

	if endpoints[0].Name != "primary" || endpoints[0].User != "alice" {
		t.Errorf("Expected per-node overrides, got name %q user %q", endpoints[0].Name, endpoints[0].User)
	}
	if endpoints[0].StorageRoot != "/srv/chunks" {
		t.Errorf("Expected per-node storage root, got %q", endpoints[0].StorageRoot)
	}
	if endpoints[1].Name != "sftp2:2022" {
		t.Errorf("Expected derived name sftp2:2022, got %q", endpoints[1].Name)
	}
	if endpoints[1].Password != "secret" {
		t.Errorf("Expected shared password fallback on %s", endpoints[1].Name)
	}
}

func TestParseEndpoints_Empty(t *testing.T) {
	if _, err := ParseEndpoints(&BackendsConfig{}); err == nil {
		t.Fatal("Expected error with no endpoints configured")
	}
}

func TestParseEndpoints_BadPort(t *testing.T) {
	cfg := &BackendsConfig{Endpoints: "sftp1:not-a-port", Password: "x"}
	// SplitHostPort accepts any port string, so the numeric check catches it.
	if _, err := ParseEndpoints(cfg); err == nil {
		t.Fatal("Expected error for non-numeric port")
	}
}

func TestParseNodes(t *testing.T) {
	nodes := ParseNodes(" agg1:8080, agg2:8080 ,,agg3:8080")
	if len(nodes) != 3 {
		t.Fatalf("Expected 3 nodes, got %d", len(nodes))
	}
	if nodes[0] != "agg1:8080" || nodes[2] != "agg3:8080" {
		t.Errorf("Unexpected node list: %v", nodes)
	}

	if got := ParseNodes(""); len(got) != 0 {
		t.Errorf("Expected empty list, got %v", got)
	}
}

func TestCreateEngine(t *testing.T) {
	engine, err := CreateEngine(EncryptionConfig{Passphrase: "test-passphrase"})
	if err != nil {
		t.Fatalf("CreateEngine from passphrase failed: %v", err)
	}
	if engine.Tag() == "" {
		t.Error("Expected a cipher tag")
	}

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	engine, err = CreateEngine(EncryptionConfig{Key: hex.EncodeToString(key)})
	if err != nil {
		t.Fatalf("CreateEngine from hex key failed: %v", err)
	}
	if engine.Tag() == "" {
		t.Error("Expected a cipher tag")
	}
}
