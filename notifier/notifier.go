// Package notifier provides the event sinks fed by the recovery engine:
// structured logs, Prometheus counters, and in-process subscribers.
package notifier

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shardguard/recovery-backend/interfaces"
)

// Multi fans an event out to several notifiers in order.
type Multi struct {
	sinks []interfaces.Notifier
}

// NewMulti creates a fan-out notifier. Nil sinks are skipped.
func NewMulti(sinks ...interfaces.Notifier) *Multi {
	out := make([]interfaces.Notifier, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return &Multi{sinks: out}
}

// Notify delivers the event to every sink.
func (m *Multi) Notify(event interfaces.Event) {
	for _, sink := range m.sinks {
		sink.Notify(event)
	}
}

// Log writes every event as a structured log line.
type Log struct {
	log *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(log *slog.Logger) *Log {
	return &Log{log: log}
}

// Notify logs the event at info level.
func (l *Log) Notify(event interfaces.Event) {
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("session_id", event.SessionID.String()),
	}
	switch event.Kind {
	case interfaces.EventShardAdded, interfaces.EventShardVerified:
		attrs = append(attrs, slog.Int("shard_index", event.ShardIndex))
	case interfaces.EventSessionCompleted:
		attrs = append(attrs, slog.Uint64("reconstructed_value", event.ReconstructedValue))
	}
	if event.Guardian != (interfaces.GuardianAddress{}) {
		attrs = append(attrs, slog.String("guardian", event.Guardian.String()))
	}
	l.log.Info("Recovery event", attrs...)
}

// Metrics counts events by kind in Prometheus counters.
type Metrics struct {
	events     *prometheus.CounterVec
	completed  prometheus.Counter
	registerer prometheus.Registerer
}

// NewMetrics creates a metrics notifier registered against the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry to avoid duplicate registration.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_events_total",
			Help: "Recovery session state transitions by kind.",
		}, []string{"kind"}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recovery_sessions_completed_total",
			Help: "Sessions that reached their verification threshold.",
		}),
		registerer: registerer,
	}
	registerer.MustRegister(m.events, m.completed)
	return m
}

// Notify increments the per-kind counter.
func (m *Metrics) Notify(event interfaces.Event) {
	m.events.WithLabelValues(string(event.Kind)).Inc()
	if event.Kind == interfaces.EventSessionCompleted {
		m.completed.Inc()
	}
}

// Broadcast delivers events to channel subscribers. Slow subscribers drop
// events rather than block the engine.
type Broadcast struct {
	mu   sync.Mutex
	subs []chan interfaces.Event
}

// NewBroadcast creates an empty broadcast notifier.
func NewBroadcast() *Broadcast {
	return &Broadcast{}
}

// Subscribe returns a buffered channel receiving future events.
func (b *Broadcast) Subscribe() <-chan interfaces.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan interfaces.Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// Notify delivers the event to every subscriber with a full-buffer drop.
func (b *Broadcast) Notify(event interfaces.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
