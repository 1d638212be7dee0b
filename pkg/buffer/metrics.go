package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Amanmahe/chords-demo/metric"
)

type bufferMetrics struct {
	writes prometheus.Counter
	reads  prometheus.Counter
	drops  prometheus.Counter
	clears prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ring",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ring",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &bufferMetrics{
		writes:      counter("writes_total", "Items written to the ring"),
		reads:       counter("reads_total", "Items consumed from the ring"),
		drops:       counter("drops_total", "Items dropped by the overflow policy"),
		clears:      counter("clears_total", "Number of Clear calls"),
		size:        gauge("size", "Items currently held"),
		utilization: gauge("utilization", "Fill ratio (0.0 to 1.0)"),
	}

	for name, c := range map[string]prometheus.Counter{
		"ring_writes": m.writes,
		"ring_reads":  m.reads,
		"ring_drops":  m.drops,
		"ring_clears": m.clears,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "ring_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "ring_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bufferMetrics) observe(writes, reads, drops, size, capacity int) {
	if writes > 0 {
		m.writes.Add(float64(writes))
	}
	if reads > 0 {
		m.reads.Add(float64(reads))
	}
	if drops > 0 {
		m.drops.Add(float64(drops))
	}
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
