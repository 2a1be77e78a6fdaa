package poolmanager

import (
	"context"
	"sync"
	"time"
)

// HealthStatus classifies one pool's ping result (spec.md §4.2).
type HealthStatus string

const (
	StatusOK        HealthStatus = "ok"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// TenantHealth is one pool's health-check outcome.
type TenantHealth struct {
	TenantID string
	Status   HealthStatus
	PingMs   int64
	Error    error
}

// HealthOptions scopes a HealthCheck call. A zero value checks every
// currently active tenant pool.
type HealthOptions struct {
	TenantIDs []string
}

// HealthReport aggregates a HealthCheck run (spec.md §4.2).
type HealthReport struct {
	Healthy        bool
	TotalPools     int
	DegradedPools  int
	UnhealthyPools int
	DurationMs     int64
	Tenants        []TenantHealth
	Shared         TenantHealth
}

// HealthCheck acquires one connection per requested pool (or every active
// pool, plus the shared pool) and runs SELECT 1 against it within
// cfg.Connection.PingTimeout, classifying each as ok, degraded, or
// unhealthy (spec.md §4.2).
func (m *Manager) HealthCheck(ctx context.Context, opts HealthOptions) HealthReport {
	start := time.Now()

	ids := opts.TenantIDs
	if len(ids) == 0 {
		ids = m.GetActiveTenantIDs()
	}

	timeout := m.cfg.Connection.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	results := make([]TenantHealth, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = m.pingTenant(ctx, id, timeout)
		}(i, id)
	}
	wg.Wait()

	report := HealthReport{Tenants: results}
	report.Shared = m.pingShared(ctx, timeout)

	report.Healthy = report.Shared.Status == StatusOK
	for _, r := range results {
		report.TotalPools++
		switch r.Status {
		case StatusDegraded:
			report.DegradedPools++
		case StatusUnhealthy:
			report.UnhealthyPools++
		}
		if r.Status != StatusOK {
			report.Healthy = false
		}
	}

	report.DurationMs = time.Since(start).Milliseconds()
	if m.metrics != nil {
		m.metrics.HealthCheckDur.Observe(time.Since(start).Seconds())
	}
	return report
}

func (m *Manager) pingTenant(ctx context.Context, tenantID string, timeout time.Duration) TenantHealth {
	e, ok := m.lookup(tenantID)
	if !ok {
		return TenantHealth{TenantID: tenantID, Status: StatusUnhealthy, Error: &DisposedError{}}
	}
	ms, waiting, err := ping(ctx, e, timeout)
	return TenantHealth{TenantID: tenantID, Status: classify(ms, timeout, waiting, err), PingMs: ms, Error: err}
}

func (m *Manager) pingShared(ctx context.Context, timeout time.Duration) TenantHealth {
	m.sharedMu.Lock()
	e := m.shared
	m.sharedMu.Unlock()
	if e == nil {
		return TenantHealth{Status: StatusOK}
	}
	ms, waiting, err := ping(ctx, e, timeout)
	return TenantHealth{Status: classify(ms, timeout, waiting, err), PingMs: ms, Error: err}
}

func ping(ctx context.Context, e *entry, timeout time.Duration) (ms int64, waiting bool, err error) {
	if e.pool == nil {
		return 0, false, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var one int
	err = e.pool.QueryRow(pingCtx, "SELECT 1").Scan(&one)
	ms = time.Since(start).Milliseconds()
	return ms, e.stats().Waiting > 0, err
}

// classify implements the ok/degraded/unhealthy boundaries from
// spec.md §4.2: ok requires the ping to finish within half the timeout and
// no waiting acquirers; anything slower-but-successful, or any waiting, is
// degraded; a timeout or error is unhealthy.
func classify(pingMs int64, timeout time.Duration, waiting bool, err error) HealthStatus {
	if err != nil {
		return StatusUnhealthy
	}
	if pingMs <= timeout.Milliseconds()/2 && !waiting {
		return StatusOK
	}
	return StatusDegraded
}
