// Package metric provides the Prometheus registry shared by all pipeline
// components and the HTTP server that exposes it.
//
// Core metrics (payload, sample, decode error, render and connection counters)
// are registered automatically under the "chords" namespace. Components add
// their own through the MetricsRegistrar methods, keyed "component.metric" so
// a duplicate registration is reported instead of panicking:
//
//	registry := metric.NewMetricsRegistry()
//	clients := prometheus.NewGauge(prometheus.GaugeOpts{...})
//	if err := registry.RegisterGauge("ws-out", "clients", clients); err != nil {
//	    return err
//	}
//
//	server := metric.NewServer(9090, "/metrics", registry, health.Handler(monitor))
//	go server.Start()
//
// A nil *MetricsRegistry is valid everywhere a component accepts one and
// disables that component's metrics.
package metric
