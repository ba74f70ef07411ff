// Package metrics serves Prometheus metrics of the enclave node.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline counts what happens to calls passing through the enclave. It
// implements enclave.Metrics.
type Pipeline struct {
	messagesParsed       *prometheus.CounterVec
	verificationFailures *prometheus.CounterVec
	contractKeyFailures  prometheus.Counter
	duration             *prometheus.HistogramVec
}

func NewPipeline(namespace string, reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		messagesParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_parsed_total",
			Help:      "Messages parsed, by handle type and whether they were encrypted.",
		}, []string{"handle_type", "encrypted"}),
		verificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_failures_total",
			Help:      "Calls rejected by provenance or code hash checks, by stage.",
		}, []string{"stage"}),
		contractKeyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_key_failures_total",
			Help:      "Calls rejected because the contract key did not validate.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time spent in the enclave per operation, engine included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{p.messagesParsed, p.verificationFailures, p.contractKeyFailures, p.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pipeline) MessageParsed(handleType string, encrypted bool) {
	p.messagesParsed.WithLabelValues(handleType, strconv.FormatBool(encrypted)).Inc()
}

func (p *Pipeline) VerificationFailed(stage string) {
	p.verificationFailures.WithLabelValues(stage).Inc()
}

func (p *Pipeline) ContractKeyFailed() {
	p.contractKeyFailures.Inc()
}

func (p *Pipeline) ObserveDuration(operation string, d time.Duration) {
	p.duration.WithLabelValues(operation).Observe(d.Seconds())
}

// MetricsServer exposes a private registry on /metrics.
type MetricsServer struct {
	registry *prometheus.Registry
	pipeline *Pipeline
	srv      *http.Server
}

func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	pipeline, err := NewPipeline(namespace, registry)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		pipeline: pipeline,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (m *MetricsServer) Pipeline() *Pipeline {
	return m.pipeline
}

func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
