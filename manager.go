// Package tenantkeep implements schema-per-tenant lifecycle management
// over a single shared PostgreSQL cluster: a bounded pool cache, a
// migration engine (per-tenant, batch, and shared-namespace), drift
// detection, tracking-table sync/repair, and seeding. It glues together
// the pkg/poolmanager, pkg/migration, pkg/syncmgr, pkg/drift, pkg/seed,
// and pkg/schemamgr subsystems behind the two facade types spec.md §6
// names: Manager (pool lifecycle) and Migrator (everything else).
package tenantkeep

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/tenantkeep/pkg/config"
	"github.com/wisbric/tenantkeep/pkg/poolmanager"
)

// Manager is the pool-lifecycle facade (spec.md §6, Manager).
type Manager struct {
	pool *poolmanager.Manager
}

// NewManager constructs a Manager from cfg, validating it first.
func NewManager(cfg config.Config) (*Manager, error) {
	pm, err := poolmanager.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{pool: pm}, nil
}

// GetDB returns tenantID's connection pool, creating it on first access.
func (m *Manager) GetDB(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	return m.pool.GetDB(ctx, tenantID)
}

// GetSharedDB returns the shared namespace's connection pool.
func (m *Manager) GetSharedDB(ctx context.Context) (*pgxpool.Pool, error) {
	return m.pool.GetSharedDB(ctx)
}

// GetSchemaName derives tenantID's schema name without acquiring a pool.
func (m *Manager) GetSchemaName(tenantID string) (string, error) {
	return m.pool.SchemaName(tenantID)
}

// Config returns the validated, defaulted configuration this Manager was
// constructed with. NewMigrator reads it back from here so the Migrator
// always sees the same defaulted settings as the pool cache it shares,
// regardless of whether the caller's own cfg was pre-validated.
func (m *Manager) Config() config.Config {
	return m.pool.Config()
}

// EvictPool removes and closes tenantID's cached pool, if any.
func (m *Manager) EvictPool(ctx context.Context, tenantID string) error {
	return m.pool.EvictPool(ctx, tenantID)
}

// Dispose tears down every cached pool, including the shared pool.
func (m *Manager) Dispose(ctx context.Context) error {
	return m.pool.Dispose(ctx)
}

// Warmup eagerly creates pools for ids.
func (m *Manager) Warmup(ctx context.Context, ids []string) error {
	return m.pool.Warmup(ctx, ids)
}

// HealthCheck pings every requested (or active) pool plus the shared pool.
func (m *Manager) HealthCheck(ctx context.Context, opts poolmanager.HealthOptions) poolmanager.HealthReport {
	return m.pool.HealthCheck(ctx, opts)
}

// GetMetrics snapshots the pool cache's current state.
func (m *Manager) GetMetrics() poolmanager.Metrics {
	return m.pool.GetMetrics()
}

// HasPool reports whether tenantID currently has a live pool.
func (m *Manager) HasPool(tenantID string) bool {
	return m.pool.HasPool(tenantID)
}

// GetPoolCount returns the number of live tenant pools.
func (m *Manager) GetPoolCount() int {
	return m.pool.GetPoolCount()
}

// GetActiveTenantIDs returns the tenant ids with a live pool.
func (m *Manager) GetActiveTenantIDs() []string {
	return m.pool.GetActiveTenantIDs()
}
