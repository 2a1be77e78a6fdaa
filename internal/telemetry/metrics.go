package telemetry

import "github.com/prometheus/client_golang/prometheus"

// PoolMetrics holds the Prometheus collectors the Pool Manager updates.
// Rendering these (a promhttp handler, text exposition) is out of scope —
// embedders register PoolMetrics on their own registry and expose it
// however their service already does.
type PoolMetrics struct {
	PoolCount      prometheus.Gauge
	PoolsEvicted   prometheus.Counter
	PoolsCreated   prometheus.Counter
	HealthCheckDur prometheus.Histogram
}

// NewPoolMetrics constructs collectors namespaced under tenantkeep/pool.
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		PoolCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tenantkeep",
			Subsystem: "pool",
			Name:      "count",
			Help:      "Number of live per-schema connection pools.",
		}),
		PoolsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tenantkeep",
			Subsystem: "pool",
			Name:      "evicted_total",
			Help:      "Total number of pools evicted from the LRU cache.",
		}),
		PoolsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tenantkeep",
			Subsystem: "pool",
			Name:      "created_total",
			Help:      "Total number of pools created.",
		}),
		HealthCheckDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tenantkeep",
			Subsystem: "pool",
			Name:      "health_check_duration_seconds",
			Help:      "Duration of a full health check sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Collectors returns the collectors so an embedder can
// registry.MustRegister(metrics.Collectors()...).
func (m *PoolMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.PoolCount, m.PoolsEvicted, m.PoolsCreated, m.HealthCheckDur}
}

// MigrationMetrics holds the Prometheus collectors the migration subsystem
// updates.
type MigrationMetrics struct {
	Applied prometheus.Counter
	Failed  prometheus.Counter
}

// NewMigrationMetrics constructs collectors namespaced under tenantkeep/migration.
func NewMigrationMetrics() *MigrationMetrics {
	return &MigrationMetrics{
		Applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tenantkeep",
			Subsystem: "migration",
			Name:      "applied_total",
			Help:      "Total number of migrations successfully applied across all tenants.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tenantkeep",
			Subsystem: "migration",
			Name:      "failed_total",
			Help:      "Total number of migration application failures.",
		}),
	}
}

func (m *MigrationMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Applied, m.Failed}
}
