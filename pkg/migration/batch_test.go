package migration

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/internal/telemetry"
	"github.com/wisbric/tenantkeep/pkg/config"
)

// tenantMock builds a pgxmock pool preloaded with the expectations for one
// successful MigrateTenant call against schema.
func tenantMock(t *testing.T, schema string, files []File) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM information_schema.tables`).
		WithArgs(schema, "__drizzle_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(fmt.Sprintf(`SELECT name FROM "%s"."__drizzle_migrations"`, schema)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}))

	for _, f := range files {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(f.SQL)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mock.ExpectExec(fmt.Sprintf(`INSERT INTO "%s"."__drizzle_migrations" \(name, applied_at\)`, schema)).
			WithArgs(f.Name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
	}
	return mock
}

// TestMigrateAllSucceedsAcrossTenants exercises Scenario A: a fresh
// migration across two tenants, both succeeding.
func TestMigrateAllSucceedsAcrossTenants(t *testing.T) {
	files := []File{{Name: "0001_init.sql", SQL: "CREATE TABLE init();"}}
	pools := map[string]pgxmock.PgxPoolIface{
		"t1": tenantMock(t, "tenant_t1", files),
		"t2": tenantMock(t, "tenant_t2", files),
	}

	cfg := config.Config{
		Migrations: config.Migrations{MigrationsTable: "__drizzle_migrations", TableFormat: config.FormatName, DefaultFormat: config.FormatName},
	}
	x := NewExecutor(cfg, telemetry.OrDefault(nil))

	getDB := func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error) {
		return pools[tenantID], "tenant_" + tenantID, nil
	}

	result := x.MigrateAll(context.Background(), getDB, []string{"t1", "t2"}, files, BatchOptions{Concurrency: 10})

	if result.Total != 2 || result.Succeeded != 2 || result.Failed != 0 || result.Skipped != 0 {
		t.Fatalf("unexpected summary: %+v", result)
	}
	for _, d := range result.Details {
		if !d.Success {
			t.Fatalf("tenant %q did not succeed: %s", d.TenantID, d.Error)
		}
	}
}

// TestMigrateAllReportsPartialFailure exercises Scenario B at the batch
// level: one tenant's second migration fails while another tenant
// succeeds, so the batch summary reports exactly one failure without
// aborting the rest.
func TestMigrateAllReportsPartialFailure(t *testing.T) {
	files := []File{
		{Name: "0001_init.sql", SQL: "CREATE TABLE init();"},
		{Name: "0002_bad.sql", SQL: "SELECT 1/0;"},
	}

	goodMock := tenantMock(t, "tenant_t1", files)

	badMock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(badMock.Close)
	badMock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM information_schema.tables`).
		WithArgs("tenant_t2", "__drizzle_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	badMock.ExpectQuery(`SELECT name FROM "tenant_t2"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}))
	badMock.ExpectBegin()
	badMock.ExpectExec(regexp.QuoteMeta(files[0].SQL)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	badMock.ExpectExec(`INSERT INTO "tenant_t2"."__drizzle_migrations" \(name, applied_at\)`).
		WithArgs(files[0].Name).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	badMock.ExpectCommit()
	badMock.ExpectBegin()
	badMock.ExpectExec(regexp.QuoteMeta(files[1].SQL)).WillReturnError(fmt.Errorf("division by zero"))
	badMock.ExpectRollback()

	pools := map[string]pgxmock.PgxPoolIface{"t1": goodMock, "t2": badMock}
	cfg := config.Config{
		Migrations: config.Migrations{MigrationsTable: "__drizzle_migrations", TableFormat: config.FormatName, DefaultFormat: config.FormatName},
	}
	x := NewExecutor(cfg, telemetry.OrDefault(nil))

	getDB := func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error) {
		return pools[tenantID], "tenant_" + tenantID, nil
	}

	result := x.MigrateAll(context.Background(), getDB, []string{"t1", "t2"}, files, BatchOptions{Concurrency: 10})

	if result.Total != 2 || result.Succeeded != 1 || result.Failed != 1 || result.Skipped != 0 {
		t.Fatalf("unexpected summary: %+v", result)
	}
	var t2Result BatchDetail
	for _, d := range result.Details {
		if d.TenantID == "t2" {
			t2Result = d
		}
	}
	if t2Result.Success {
		t.Fatal("expected t2 to report failure")
	}
	if len(t2Result.Applied) != 1 || t2Result.Applied[0] != "0001_init.sql" {
		t.Fatalf("unexpected applied migrations for t2: %v", t2Result.Applied)
	}
}

func TestMigrateAllAbortSkipsRemainingBatches(t *testing.T) {
	cfg := config.Config{
		Migrations: config.Migrations{MigrationsTable: "__drizzle_migrations", TableFormat: config.FormatName, DefaultFormat: config.FormatName},
	}
	x := NewExecutor(cfg, telemetry.OrDefault(nil))

	getDB := func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error) {
		if tenantID == "bad" {
			return nil, "", fmt.Errorf("connection refused")
		}
		return tenantMock(t, "tenant_"+tenantID, nil), "tenant_" + tenantID, nil
	}

	opts := BatchOptions{
		Concurrency: 1,
		OnError: func(tenantID string, err error) ErrorDecision {
			return Abort
		},
	}

	result := x.MigrateAll(context.Background(), getDB, []string{"bad", "t2", "t3"}, nil, opts)

	if result.Total != 3 {
		t.Fatalf("Total = %d, want 3", result.Total)
	}
	if result.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", result.Failed)
	}
	if result.Skipped != 2 {
		t.Fatalf("Skipped = %d, want 2", result.Skipped)
	}
	for _, d := range result.Details {
		if d.TenantID != "bad" && !d.Skipped {
			t.Fatalf("expected tenant %q to be skipped after abort", d.TenantID)
		}
		if d.Skipped && d.Error != "Skipped due to abort" {
			t.Fatalf("unexpected skip error text: %q", d.Error)
		}
	}
}
