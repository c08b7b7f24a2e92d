package proxy

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the ambient Prometheus counters/gauges the
// orchestrator updates at each connection/observation/cache/scope
// boundary. NewProxy registers them on the default registerer; a
// second Proxy reuses the already-registered counters, so all
// instances in one process share them.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ObservationsEmitted prometheus.Counter
	CertCacheHits       prometheus.Counter
	CertCacheMisses     prometheus.Counter
	ScopeInDecisions    prometheus.Counter
	ScopeOutDecisions   prometheus.Counter
	UpstreamDialErrors  prometheus.Counter
}

// NewMetrics constructs and registers the proxy's metrics on
// registry. Passing nil registers against prometheus's default
// registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := newMetricFactory(registry)

	return &Metrics{
		ConnectionsAccepted: factory.newCounter("crossfeed_proxy_connections_accepted_total", "Total TCP connections accepted by the proxy."),
		ObservationsEmitted: factory.newCounter("crossfeed_proxy_observations_emitted_total", "Total observations emitted to the sink."),
		CertCacheHits:       factory.newCounter("crossfeed_proxy_cert_cache_hits_total", "Leaf certificate cache hits."),
		CertCacheMisses:     factory.newCounter("crossfeed_proxy_cert_cache_misses_total", "Leaf certificate cache misses."),
		ScopeInDecisions:    factory.newCounter("crossfeed_proxy_scope_in_total", "Observations classified in-scope."),
		ScopeOutDecisions:   factory.newCounter("crossfeed_proxy_scope_out_total", "Observations classified out-of-scope."),
		UpstreamDialErrors:  factory.newCounter("crossfeed_proxy_upstream_dial_errors_total", "Upstream connect failures."),
	}
}

// metricFactory registers each counter against one registry, ignoring
// an AlreadyRegisteredError so tests can construct multiple Metrics
// against the process-wide default registerer without panicking.
type metricFactory struct {
	registry prometheus.Registerer
}

func newMetricFactory(registry prometheus.Registerer) metricFactory {
	return metricFactory{registry: registry}
}

func (f metricFactory) newCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if err := f.registry.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Counter)
		}
	}
	return c
}
