package scaler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardvault/shardvault/pkg/bus"
)

type fakeDepth struct{ depth int }

func (f *fakeDepth) Size() int { return f.depth }

type capturePub struct {
	topics []string
	events []Event
}

func (c *capturePub) Publish(topic string, payload []byte) error {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return err
	}
	c.topics = append(c.topics, topic)
	c.events = append(c.events, e)
	return nil
}

func newTestScaler(depth *fakeDepth, pub *capturePub) *Scaler {
	return New(depth, pub, Config{
		HighWatermark: 80,
		LowWatermark:  10,
		MaxBackends:   5,
		MinBackends:   1,
	})
}

func TestScaleUpRepeatsWhileAboveHigh(t *testing.T) {
	depth := &fakeDepth{depth: 90}
	pub := &capturePub{}
	s := newTestScaler(depth, pub)

	s.Tick()
	s.Tick()
	s.Tick()

	require.Len(t, pub.events, 3, "one up event per interval while above the watermark")
	for _, e := range pub.events {
		assert.Equal(t, Event{Action: ActionUp, Count: 5, QueueSize: 90}, e)
	}
	assert.Equal(t, bus.TopicScaleRequest, pub.topics[0])
}

func TestScaleDownBelowLow(t *testing.T) {
	depth := &fakeDepth{depth: 3}
	pub := &capturePub{}
	s := newTestScaler(depth, pub)

	s.Tick()
	require.Len(t, pub.events, 1)
	assert.Equal(t, Event{Action: ActionDown, Count: 1, QueueSize: 3}, pub.events[0])
}

func TestStableEmittedOncePerTransition(t *testing.T) {
	depth := &fakeDepth{depth: 40}
	pub := &capturePub{}
	s := newTestScaler(depth, pub)

	t.Run("silent before any scaling happened", func(t *testing.T) {
		s.Tick()
		assert.Empty(t, pub.events)
	})

	t.Run("one stable notice after leaving the band", func(t *testing.T) {
		depth.depth = 90
		s.Tick()
		depth.depth = 40
		s.Tick()
		s.Tick()
		s.Tick()

		require.Len(t, pub.events, 2)
		assert.Equal(t, ActionUp, pub.events[0].Action)
		assert.Equal(t, ActionStable, pub.events[1].Action)
	})
}

func TestOnEventObserver(t *testing.T) {
	depth := &fakeDepth{depth: 90}
	pub := &capturePub{}
	s := newTestScaler(depth, pub)

	var observed []Event
	s.OnEvent(func(e Event) { observed = append(observed, e) })

	s.Tick()
	require.Len(t, observed, 1)
	assert.Equal(t, ActionUp, observed[0].Action)
}

func TestBoundaryIsInclusive(t *testing.T) {
	// Depth exactly at a watermark is inside the band.
	depth := &fakeDepth{depth: 80}
	pub := &capturePub{}
	s := newTestScaler(depth, pub)
	s.Tick()
	assert.Empty(t, pub.events)

	depth.depth = 10
	s.Tick()
	assert.Empty(t, pub.events)
}
