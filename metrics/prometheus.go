package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Registry to Prometheus. Counters become
// <namespace>_<name>_total counters and timers become
// <namespace>_<name>_seconds summaries. Metric names are derived from the
// registry contents at collection time, so the collector is unchecked.
type Collector struct {
	namespace string
	registry  *Registry
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector wraps reg. An empty namespace defaults to DefaultPrefix.
func NewCollector(namespace string, reg *Registry) *Collector {
	if namespace == "" {
		namespace = DefaultPrefix
	}
	return &Collector{namespace: namespace, registry: reg}
}

// Describe sends nothing, which marks the collector as unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect emits the current snapshot.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.registry.Snapshot()
	for name, v := range s.Counters {
		desc := prometheus.NewDesc(
			prometheus.BuildFQName(c.namespace, "", sanitize(name)+"_total"),
			fmt.Sprintf("Counter %s.", name),
			nil, nil,
		)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	for name, values := range s.Timers {
		if len(values) == 0 {
			continue
		}
		var sum, max float64
		for i, v := range values {
			sum += v
			if i == 0 || v > max {
				max = v
			}
		}
		desc := prometheus.NewDesc(
			prometheus.BuildFQName(c.namespace, "", sanitize(name)+"_seconds"),
			fmt.Sprintf("Durations of %s.", name),
			nil, nil,
		)
		ch <- prometheus.MustNewConstSummary(desc, uint64(len(values)), sum, map[float64]float64{1: max})
	}
}

// WriteTextfile writes reg in the Prometheus text exposition format to path,
// suitable for the node_exporter textfile collector.
func WriteTextfile(path, namespace string, reg *Registry) error {
	pr := prometheus.NewRegistry()
	if err := pr.Register(NewCollector(namespace, reg)); err != nil {
		return fmt.Errorf("failed to register collector: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, pr); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
