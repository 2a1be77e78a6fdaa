package poolmanager

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyOkRequiresFastPingAndNoWaiting(t *testing.T) {
	if got := classify(10, time.Second, false, nil); got != StatusOK {
		t.Fatalf("classify() = %q, want ok", got)
	}
}

func TestClassifyDegradedOnSlowPingOrWaiting(t *testing.T) {
	if got := classify(900, time.Second, false, nil); got != StatusDegraded {
		t.Fatalf("slow ping classify() = %q, want degraded", got)
	}
	if got := classify(1, time.Second, true, nil); got != StatusDegraded {
		t.Fatalf("waiting classify() = %q, want degraded", got)
	}
}

func TestClassifyUnhealthyOnError(t *testing.T) {
	if got := classify(1, time.Second, false, errors.New("boom")); got != StatusUnhealthy {
		t.Fatalf("classify() = %q, want unhealthy", got)
	}
}

// TestHealthCheckUnknownTenantReportsUnhealthy exercises the no-live-pool
// path without a Postgres instance: a tenant id not present in the cache
// cannot be pinged.
func TestHealthCheckUnknownTenantReportsUnhealthy(t *testing.T) {
	cfg := testConfig(t, 4, time.Hour)
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Dispose(context.Background())

	report := m.HealthCheck(context.Background(), HealthOptions{TenantIDs: []string{"ghost"}})
	if report.Healthy {
		t.Fatal("expected Healthy=false when a requested tenant has no live pool")
	}
	if len(report.Tenants) != 1 || report.Tenants[0].Status != StatusUnhealthy {
		t.Fatalf("unexpected tenant health: %+v", report.Tenants)
	}
}
