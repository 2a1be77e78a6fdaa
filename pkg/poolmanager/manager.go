// Package poolmanager implements the bounded LRU cache of per-schema
// connection pools described in spec.md §4.2: lazy creation, retry on
// connect, TTL eviction, and lifecycle hooks. Pools are *pgxpool.Pool
// (github.com/jackc/pgx/v5/pgxpool), the stack used throughout the
// example pack for Postgres access. The LRU+TTL cache itself is
// github.com/hashicorp/golang-lru/v2, keyed by tenant id; its OnEvict
// callback collects evicted entries, and onPoolEvicted fires once each
// entry's pool has been quiesced and closed.
package poolmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/wisbric/tenantkeep/internal/hooks"
	"github.com/wisbric/tenantkeep/internal/telemetry"
	"github.com/wisbric/tenantkeep/pkg/config"
	"github.com/wisbric/tenantkeep/pkg/retry"
	"github.com/wisbric/tenantkeep/pkg/tenantid"
)

const evictionGrace = 5 * time.Second

// Manager is the bounded LRU cache of per-schema connection pools.
type Manager struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *telemetry.PoolMetrics

	mu               sync.Mutex
	cache            *lru.Cache[string, *entry]
	group            singleflight.Group
	pendingEvictions []*entry

	sharedMu   sync.Mutex
	shared     *entry
	sharedOnce sync.Once
	sharedErr  error

	evictWG   sync.WaitGroup
	disposing atomic.Bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New constructs a Manager. It does not connect to any schema — creation
// is lazy, per spec.md §4.2.
func New(cfg config.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		logger:  telemetry.OrDefault(cfg.Logger),
		metrics: cfg.PoolMetrics,
	}

	onEvict := func(tenantID string, e *entry) {
		m.pendingEvictions = append(m.pendingEvictions, e)
	}
	cache, err := lru.NewWithEvict[string, *entry](cfg.Isolation.MaxPools, onEvict)
	if err != nil {
		return nil, fmt.Errorf("poolmanager: constructing LRU cache: %w", err)
	}
	m.cache = cache

	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})
	go m.sweepLoop()

	return m, nil
}

// Config returns the validated, defaulted configuration the Manager was
// constructed with. Callers building another component against the same
// cluster (the Migrator facade, a caller-owned adapter) should read cfg
// back from here rather than re-passing their own copy, which may predate
// the defaulting Validate applies.
func (m *Manager) Config() config.Config {
	return m.cfg
}

// GetDB returns the connection pool for tenantID, creating it on first
// access. Concurrent misses for the same tenant coalesce into a single
// pool construction (spec.md §5, Scenario F).
func (m *Manager) GetDB(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	if m.disposing.Load() {
		return nil, &DisposedError{}
	}

	schema, err := tenantid.SchemaName(tenantID, m.cfg.Isolation.SchemaNameTemplate)
	if err != nil {
		return nil, err
	}

	if e, ok := m.lookup(tenantID); ok {
		e.touch()
		return e.pool, nil
	}

	v, err, _ := m.group.Do(tenantID, func() (any, error) {
		if e, ok := m.lookup(tenantID); ok {
			return e, nil
		}

		pool, err := m.connect(ctx, schema)
		if err != nil {
			return nil, &CreationFailedError{TenantID: tenantID, Schema: schema, Err: err}
		}

		e := newEntry(tenantID, schema, pool)
		m.insert(tenantID, e)

		hooks.Fire(ctx, m.logger, "onPoolCreated", func() {
			if m.cfg.Hooks.OnPoolCreated != nil {
				m.cfg.Hooks.OnPoolCreated(tenantID)
			}
		})
		if m.metrics != nil {
			m.metrics.PoolsCreated.Inc()
			m.metrics.PoolCount.Set(float64(m.GetPoolCount()))
		}
		m.logger.InfoContext(ctx, "pool created", "tenant_id", tenantID, "schema", schema)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry).pool, nil
}

func (m *Manager) lookup(tenantID string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Get(tenantID)
}

// insert adds e to the cache, evicting the LRU victim if at capacity, and
// asynchronously disposes anything the cache's OnEvict callback collected.
func (m *Manager) insert(tenantID string, e *entry) {
	m.mu.Lock()
	m.cache.Add(tenantID, e)
	pending := m.pendingEvictions
	m.pendingEvictions = nil
	m.mu.Unlock()

	for _, victim := range pending {
		m.evictWG.Add(1)
		go func(v *entry) {
			defer m.evictWG.Done()
			m.quiesceAndClose(context.Background(), v)
		}(victim)
	}
}

// GetSharedDB returns the shared pool, lazily creating it. The shared
// schema is never TTL-evicted or LRU-evicted (spec.md §3, §4.2).
func (m *Manager) GetSharedDB(ctx context.Context) (*pgxpool.Pool, error) {
	if m.disposing.Load() {
		return nil, &DisposedError{}
	}

	m.sharedOnce.Do(func() {
		pool, err := m.connect(ctx, m.cfg.Isolation.SharedSchemaName)
		if err != nil {
			m.sharedErr = &CreationFailedError{TenantID: "", Schema: m.cfg.Isolation.SharedSchemaName, Err: err}
			return
		}
		m.sharedMu.Lock()
		m.shared = newEntry("", m.cfg.Isolation.SharedSchemaName, pool)
		m.sharedMu.Unlock()

		hooks.Fire(ctx, m.logger, "onPoolCreated", func() {
			if m.cfg.Hooks.OnPoolCreated != nil {
				m.cfg.Hooks.OnPoolCreated("")
			}
		})
		m.logger.InfoContext(ctx, "shared pool created", "schema", m.cfg.Isolation.SharedSchemaName)
	})

	if m.sharedErr != nil {
		return nil, m.sharedErr
	}
	m.sharedMu.Lock()
	e := m.shared
	m.sharedMu.Unlock()
	e.touch()
	return e.pool, nil
}

// connect builds a *pgxpool.Pool for schema, wrapping establishment in the
// Retry Engine and installing an AfterConnect hook that pins search_path on
// every physical connection.
func (m *Manager) connect(ctx context.Context, schema string) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(m.cfg.Connection.URL)
	if err != nil {
		return nil, fmt.Errorf("poolmanager: parsing connection url: %w", err)
	}
	if m.cfg.Connection.Pool.MaxConns > 0 {
		pgCfg.MaxConns = m.cfg.Connection.Pool.MaxConns
	}
	if m.cfg.Connection.Pool.MinConns > 0 {
		pgCfg.MinConns = m.cfg.Connection.Pool.MinConns
	}
	if m.cfg.Connection.Pool.MaxConnIdleTime > 0 {
		pgCfg.MaxConnIdleTime = m.cfg.Connection.Pool.MaxConnIdleTime
	}
	if m.cfg.Connection.Pool.MaxConnLifetime > 0 {
		pgCfg.MaxConnLifetime = m.cfg.Connection.Pool.MaxConnLifetime
	}

	searchPath := pgx.Identifier{schema}.Sanitize() + ", public"
	pgCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", searchPath)
		return err
	}

	policy := m.cfg.Connection.Retry
	var pool *pgxpool.Pool
	_, err = retry.Do(ctx, policy, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, exhausted.Unwrap()
		}
		return nil, err
	}
	return pool, nil
}

// SchemaName derives the PostgreSQL schema name for tenantID without
// touching the pool cache, validating tenantID in the process
// (spec.md §6, getSchemaName).
func (m *Manager) SchemaName(tenantID string) (string, error) {
	return tenantid.SchemaName(tenantID, m.cfg.Isolation.SchemaNameTemplate)
}

// HasPool reports whether tenantID currently has a live pool, without
// affecting its recency.
func (m *Manager) HasPool(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Contains(tenantID)
}

// GetPoolCount returns the number of live tenant pools (excludes the shared
// pool).
func (m *Manager) GetPoolCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// GetActiveTenantIDs returns the tenant ids with a live pool, least- to
// most-recently-used.
func (m *Manager) GetActiveTenantIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Keys()
}

// EvictPool removes tenantID's pool, closing it after a grace window for
// in-flight connections to quiesce, and firing onPoolEvicted. It is a
// no-op (returns nil) if no pool is cached for tenantID.
func (m *Manager) EvictPool(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	e, ok := m.cache.Peek(tenantID)
	if ok {
		m.cache.Remove(tenantID)
	}
	pending := m.pendingEvictions
	m.pendingEvictions = nil
	m.mu.Unlock()

	// Remove() re-enters onEvict for the removed key too; make sure we
	// dispose it exactly once even if it also shows up in pending.
	seen := map[string]bool{}
	dispose := func(v *entry) {
		if v == nil || seen[v.tenantID] {
			return
		}
		seen[v.tenantID] = true
		m.quiesceAndClose(ctx, v)
	}
	if ok {
		dispose(e)
	}
	for _, v := range pending {
		dispose(v)
	}
	return nil
}

func (m *Manager) quiesceAndClose(ctx context.Context, e *entry) {
	if e.pool != nil {
		deadline := time.Now().Add(evictionGrace)
		for time.Now().Before(deadline) {
			if e.pool.Stat().AcquiredConns() == 0 {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		e.pool.Close()
	}

	hooks.Fire(ctx, m.logger, "onPoolEvicted", func() {
		if m.cfg.Hooks.OnPoolEvicted != nil {
			m.cfg.Hooks.OnPoolEvicted(e.tenantID)
		}
	})
	if m.metrics != nil {
		m.metrics.PoolsEvicted.Inc()
		m.metrics.PoolCount.Set(float64(m.GetPoolCount()))
	}
	m.logger.InfoContext(ctx, "pool evicted", "tenant_id", e.tenantID, "schema", e.schema)
}

// Warmup eagerly creates pools for ids, in the manner of a startup probe.
// The first error aborts the remaining warmup calls.
func (m *Manager) Warmup(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := m.GetDB(ctx, id); err != nil {
			return fmt.Errorf("poolmanager: warmup failed for tenant %q: %w", id, err)
		}
	}
	return nil
}

// sweepLoop periodically evicts pools idle longer than PoolTTL. It suspends
// while Dispose is running.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	interval := m.cfg.Isolation.PoolTTL / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			if m.disposing.Load() {
				continue
			}
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	ttl := m.cfg.Isolation.PoolTTL
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for _, id := range m.cache.Keys() {
		e, ok := m.cache.Peek(id)
		if ok && now.Sub(e.lastAccessed()) > ttl {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		_ = m.EvictPool(context.Background(), id)
	}
}

// Dispose stops the TTL sweeper and closes every pool, including the
// shared pool, in parallel. pgxpool's Close reports no error, so Dispose
// always returns nil.
func (m *Manager) Dispose(ctx context.Context) error {
	if !m.disposing.CompareAndSwap(false, true) {
		return nil
	}
	close(m.sweepStop)
	<-m.sweepDone

	m.mu.Lock()
	ids := m.cache.Keys()
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.cache.Peek(id); ok {
			entries = append(entries, e)
		}
	}
	m.cache.Purge()
	m.mu.Unlock()

	m.sharedMu.Lock()
	shared := m.shared
	m.sharedMu.Unlock()
	if shared != nil {
		entries = append(entries, shared)
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		if e.pool == nil {
			continue
		}
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			e.pool.Close()
		}(e)
	}
	wg.Wait()
	m.evictWG.Wait()

	return nil
}
