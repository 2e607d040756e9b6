// Package metrics wires github.com/prometheus/client_golang into dnssrc —
// the teacher's own plugin/metrics depends on it directly for exactly this
// kind of counter/histogram instrumentation. Exposing it is optional
// (--metrics, empty by default) and purely additive: it changes no
// invariant, generator, or transport behavior in spec.md.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records per-query counters and latency, scoped to a private
// registry so it never collides with the default global one.
type Recorder struct {
	registry        *prometheus.Registry
	queriesTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New builds a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dnssrc",
			Name:      "queries_total",
			Help:      "Total DNS queries dispatched, by transport, leaf label and response code.",
		}, []string{"transport", "label", "rcode"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dnssrc",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling a single query, by transport.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport"}),
	}
}

// Observe records one dispatched query.
func (r *Recorder) Observe(transport, label, rcode string, d time.Duration) {
	if r == nil {
		return
	}
	r.queriesTotal.WithLabelValues(transport, label, rcode).Inc()
	r.requestDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// Handler returns the /metrics HTTP handler for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Server is a minimal HTTP server exposing /metrics, lifecycle-managed
// alongside the DNS transports.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) the metrics HTTP server.
func NewServer(addr string, r *Recorder) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Serve serves on the already-bound ln until the listener is closed.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
