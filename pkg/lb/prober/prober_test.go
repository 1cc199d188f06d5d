package prober

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardvault/shardvault/pkg/lb/registry"
)

func TestProbeAllTransitions(t *testing.T) {
	reg := registry.New()
	reg.Register("b1", "b1:8080")
	reg.Register("b2", "b2:8080")

	down := map[string]bool{"b2:8080": true}
	p := New(reg, Config{FailureThreshold: 2})
	p.dial = func(ctx context.Context, address string) error {
		if down[address] {
			return errors.New("connection refused")
		}
		return nil
	}
	ctx := context.Background()

	t.Run("one failure is not enough", func(t *testing.T) {
		p.ProbeAll(ctx)
		node, _ := reg.Get("b2")
		assert.Equal(t, registry.StateUnknown, node.State)
		node, _ = reg.Get("b1")
		assert.Equal(t, registry.StateHealthy, node.State)
	})

	t.Run("threshold failures mark unhealthy", func(t *testing.T) {
		p.ProbeAll(ctx)
		node, _ := reg.Get("b2")
		assert.Equal(t, registry.StateUnhealthy, node.State)

		names := make([]string, 0)
		for _, n := range reg.Healthy() {
			names = append(names, n.Name)
		}
		assert.Equal(t, []string{"b1"}, names)
	})

	t.Run("recovery within one cycle", func(t *testing.T) {
		down["b2:8080"] = false
		p.ProbeAll(ctx)
		node, _ := reg.Get("b2")
		assert.Equal(t, registry.StateHealthy, node.State)
		assert.Len(t, reg.Healthy(), 2)
	})
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	reg := registry.New()
	reg.Register("live", ln.Addr().String())
	reg.Register("dead", "127.0.0.1:1")

	p := New(reg, Config{FailureThreshold: 1})
	p.ProbeAll(context.Background())

	node, _ := reg.Get("live")
	assert.Equal(t, registry.StateHealthy, node.State)
	node, _ = reg.Get("dead")
	assert.Equal(t, registry.StateUnhealthy, node.State)
}
