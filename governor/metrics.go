package governor

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the governor's Prometheus instruments. They're registered
// lazily against a caller-supplied registry so a process embedding this
// package isn't forced to use the default global one.
var (
	trackedObjectsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "venue_gateway",
		Subsystem: "governor",
		Name:      "tracked_objects",
		Help:      "Number of objects currently registered in the tracked-object registry.",
	})
	poolSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "venue_gateway",
		Subsystem: "governor",
		Name:      "pool_size",
		Help:      "Current number of entries held in the connection pool(s).",
	})
	poolCapacityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "venue_gateway",
		Subsystem: "governor",
		Name:      "pool_capacity",
		Help:      "Configured capacity of the connection pool(s).",
	})
	memoryRSSGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "venue_gateway",
		Subsystem: "governor",
		Name:      "memory_rss_bytes",
		Help:      "Process resident set size in bytes.",
	})
	memorySystemPercentGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "venue_gateway",
		Subsystem: "governor",
		Name:      "memory_system_percent",
		Help:      "System-wide memory utilization percent.",
	})
	cpuPercentGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "venue_gateway",
		Subsystem: "governor",
		Name:      "cpu_percent",
		Help:      "System-wide CPU utilization percent over the last sample interval.",
	})
	alertsFiredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "venue_gateway",
		Subsystem: "governor",
		Name:      "alerts_fired_total",
		Help:      "Count of alerts fired, by type and level.",
	}, []string{"type", "level"})
)

// RegisterMetrics registers the governor's instruments against reg. Safe
// to call once per process; call it with a dedicated registry in tests
// to avoid collisions with other packages' default-registry metrics.
func RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		trackedObjectsGauge,
		poolSizeGauge,
		poolCapacityGauge,
		memoryRSSGauge,
		memorySystemPercentGauge,
		cpuPercentGauge,
		alertsFiredCounter,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func observeSample(s Sample) {
	trackedObjectsGauge.Set(float64(s.TrackedTotal))
	poolSizeGauge.Set(float64(s.PoolSize))
	poolCapacityGauge.Set(float64(s.PoolCapacity))
	memoryRSSGauge.Set(float64(s.Memory.RSSBytes))
	memorySystemPercentGauge.Set(s.Memory.SystemPercent)
	cpuPercentGauge.Set(s.CPUPercent)
}

func observeAlert(a Alert) {
	alertsFiredCounter.WithLabelValues(a.Type, string(a.Level)).Inc()
}
