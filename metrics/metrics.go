// Package metrics exposes the Prometheus registry over HTTP on a dedicated
// listener, separate from the API server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics from the default Prometheus registerer.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address. The name is
// used as the namespace for process-level collectors.
func New(name, listenAddr string) (*MetricsServer, error) {
	registerCollector(collectors.NewGoCollector())
	registerCollector(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: name}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// registerCollector tolerates re-registration so that multiple servers in
// one process (tests mostly) do not panic.
func registerCollector(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			panic(err)
		}
	}
}

// ListenAndServe blocks serving metrics until Shutdown or failure.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
