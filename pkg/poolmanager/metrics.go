package poolmanager

import "time"

// TenantPoolStat is one tenant's entry in a Metrics snapshot.
type TenantPoolStat struct {
	TenantID string
	Stats
}

// SharedPoolStat reports the shared pool's state. Initialized is false
// until the first GetSharedDB call.
type SharedPoolStat struct {
	Initialized bool
	Stats       Stats
}

// Metrics is a read-only snapshot of the pool cache's current state
// (spec.md §4.2). It never emits anywhere itself — embedders read it and
// push it through whatever metrics pipeline they already have.
type Metrics struct {
	PoolCount   int
	MaxPools    int
	Tenants     []TenantPoolStat
	Shared      SharedPoolStat
	TimestampMs int64
}

// GetMetrics snapshots the pool cache without performing any I/O.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	ids := m.cache.Keys()
	tenants := make([]TenantPoolStat, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.cache.Peek(id); ok {
			tenants = append(tenants, TenantPoolStat{TenantID: id, Stats: e.stats()})
		}
	}
	m.mu.Unlock()

	m.sharedMu.Lock()
	shared := m.shared
	m.sharedMu.Unlock()

	sharedStat := SharedPoolStat{}
	if shared != nil {
		sharedStat.Initialized = true
		sharedStat.Stats = shared.stats()
	}

	return Metrics{
		PoolCount:   len(tenants),
		MaxPools:    m.cfg.Isolation.MaxPools,
		Tenants:     tenants,
		Shared:      sharedStat,
		TimestampMs: time.Now().UnixMilli(),
	}
}
