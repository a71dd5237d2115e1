package notifier

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardguard/recovery-backend/interfaces"
)

func TestMultiFansOutInOrder(t *testing.T) {
	broadcast := NewBroadcast()
	sub := broadcast.Subscribe()

	log := NewLog(slog.New(slog.NewTextHandler(io.Discard, nil)))
	multi := NewMulti(log, nil, broadcast)

	events := []interfaces.Event{
		{Kind: interfaces.EventSessionCreated, SessionID: "s1"},
		{Kind: interfaces.EventShardAdded, SessionID: "s1", ShardIndex: 2},
		{Kind: interfaces.EventSessionCompleted, SessionID: "s1", ReconstructedValue: 42},
	}
	for _, event := range events {
		multi.Notify(event)
	}

	for _, want := range events {
		got := <-sub
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.SessionID, got.SessionID)
	}
}

func TestMetricsCountsByKind(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.Notify(interfaces.Event{Kind: interfaces.EventShardVerified, SessionID: "s1"})
	metrics.Notify(interfaces.Event{Kind: interfaces.EventShardVerified, SessionID: "s1"})
	metrics.Notify(interfaces.Event{Kind: interfaces.EventSessionCompleted, SessionID: "s1"})

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.events.WithLabelValues(string(interfaces.EventShardVerified))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.events.WithLabelValues(string(interfaces.EventSessionCompleted))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.completed))
}

func TestBroadcastDropsWhenSubscriberIsFull(t *testing.T) {
	broadcast := NewBroadcast()
	sub := broadcast.Subscribe()

	for i := 0; i < 100; i++ {
		broadcast.Notify(interfaces.Event{Kind: interfaces.EventShardAdded, SessionID: "s1", ShardIndex: i})
	}

	// Buffer holds 64; the rest were dropped, never blocking Notify.
	require.Len(t, sub, 64)
	first := <-sub
	assert.Equal(t, 0, first.ShardIndex)
}
