package seed

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/pkg/config"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestSeedTenantRunsClosureWithoutWrappingTransaction(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO plans DEFAULT VALUES`).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := New(config.Config{})
	result := s.SeedTenant(context.Background(), mock, "acme", func(ctx context.Context, db pgexec.Transactor, tenantID string) error {
		_, err := db.Exec(ctx, "INSERT INTO plans DEFAULT VALUES")
		return err
	})

	if !result.Success {
		t.Fatalf("expected success, got error %v", result.Error)
	}
	if result.TenantID != "acme" {
		t.Fatalf("TenantID = %q, want acme", result.TenantID)
	}
	if mock.ExpectationsWereMet() != nil {
		t.Fatal("unmet expectations: the seed must not open its own transaction")
	}
}

func TestSeedTenantReportsClosureError(t *testing.T) {
	mock := newMock(t)
	s := New(config.Config{})

	result := s.SeedTenant(context.Background(), mock, "acme", func(ctx context.Context, db pgexec.Transactor, tenantID string) error {
		return fmt.Errorf("boom")
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error == nil || result.Error.Error() != "boom" {
		t.Fatalf("Error = %v, want boom", result.Error)
	}
}

func TestSeedSharedPassesEmptyTenantID(t *testing.T) {
	mock := newMock(t)
	s := New(config.Config{})

	var seenTenantID string
	seenTenantID = "unset"
	result := s.SeedShared(context.Background(), mock, func(ctx context.Context, db pgexec.Transactor, tenantID string) error {
		seenTenantID = tenantID
		return nil
	})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if seenTenantID != "" {
		t.Fatalf("expected empty tenant id for shared seed, got %q", seenTenantID)
	}
}

func TestSeedTenantsAggregatesAcrossTenants(t *testing.T) {
	goodMock := newMock(t)
	badMock := newMock(t)

	getDB := func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error) {
		if tenantID == "bad" {
			return badMock, "tenant_bad", nil
		}
		return goodMock, "tenant_" + tenantID, nil
	}

	s := New(config.Config{})
	result := s.SeedTenants(context.Background(), getDB, []string{"good", "bad"}, func(ctx context.Context, db pgexec.Transactor, tenantID string) error {
		if tenantID == "bad" {
			return fmt.Errorf("seed failed")
		}
		return nil
	}, BatchOptions{Concurrency: 2})

	if result.Total != 2 || result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", result)
	}
}

func TestSeedTenantsAbortSkipsRemainingTenants(t *testing.T) {
	getDB := func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error) {
		return nil, "", fmt.Errorf("connection refused for %s", tenantID)
	}

	s := New(config.Config{})
	result := s.SeedTenants(context.Background(), getDB, []string{"a", "b", "c"}, func(ctx context.Context, db pgexec.Transactor, tenantID string) error {
		return nil
	}, BatchOptions{
		Concurrency: 1,
		OnError:     func(tenantID string, err error) ErrorDecision { return Abort },
	})

	if result.Failed != 1 || result.Skipped != 2 {
		t.Fatalf("Failed/Skipped = %d/%d, want 1/2", result.Failed, result.Skipped)
	}
}
