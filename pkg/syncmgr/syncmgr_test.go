package syncmgr

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/pkg/config"
	"github.com/wisbric/tenantkeep/pkg/migration"
)

func testCfg() config.Config {
	return config.Config{
		Migrations: config.Migrations{
			MigrationsTable: "__drizzle_migrations",
			TableFormat:     config.FormatName,
			DefaultFormat:   config.FormatName,
		},
	}
}

// TestGetSyncStatusReportsMissingAndOrphans exercises Scenario E: disk and
// tracking table diverge, reporting both the missing and orphaned entries.
func TestGetSyncStatusReportsMissingAndOrphans(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM information_schema.tables`).
		WithArgs("tenant_acme", "__drizzle_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT name FROM "tenant_acme"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("0001_init.sql").AddRow("0003_ghost.sql"))

	files := []migration.File{
		{Name: "0001_init.sql"},
		{Name: "0002_add_index.sql"},
	}

	m := New(testCfg())
	getDB := func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error) {
		return mock, "tenant_" + tenantID, nil
	}

	statuses := m.GetSyncStatus(context.Background(), getDB, []string{"acme"}, files, 1)
	if len(statuses) != 1 {
		t.Fatalf("expected one status, got %d", len(statuses))
	}
	st := statuses[0]
	if st.InSync {
		t.Fatal("expected tenant to be out of sync")
	}
	if len(st.Missing) != 1 || st.Missing[0] != "0002_add_index.sql" {
		t.Fatalf("Missing = %v, want [0002_add_index.sql]", st.Missing)
	}
	if len(st.Orphans) != 1 || st.Orphans[0] != "0003_ghost.sql" {
		t.Fatalf("Orphans = %v, want [0003_ghost.sql]", st.Orphans)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetSyncStatusInSyncWhenNothingDiffers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM information_schema.tables`).
		WithArgs("tenant_acme", "__drizzle_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT name FROM "tenant_acme"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("0001_init.sql"))

	files := []migration.File{{Name: "0001_init.sql"}}

	m := New(testCfg())
	getDB := func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error) {
		return mock, "tenant_" + tenantID, nil
	}

	statuses := m.GetSyncStatus(context.Background(), getDB, []string{"acme"}, files, 1)
	if !statuses[0].InSync {
		t.Fatalf("expected tenant in sync, got %+v", statuses[0])
	}
}

// TestMarkMissingInsertsOnlyAbsentMigrations is half of Scenario E's
// convergence step: markMissing records the disk-only migration.
func TestMarkMissingInsertsOnlyAbsentMigrations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM information_schema.tables`).
		WithArgs("tenant_acme", "__drizzle_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT name FROM "tenant_acme"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("0001_init.sql"))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "tenant_acme"."__drizzle_migrations" \(name, applied_at\)`).
		WithArgs("0002_add_index.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	files := []migration.File{
		{Name: "0001_init.sql"},
		{Name: "0002_add_index.sql"},
	}

	m := New(testCfg())
	result, err := m.MarkMissing(context.Background(), mock, "acme", "tenant_acme", files)
	if err != nil {
		t.Fatalf("MarkMissing: %v", err)
	}
	if len(result.MarkedMigrations) != 1 || result.MarkedMigrations[0] != "0002_add_index.sql" {
		t.Fatalf("MarkedMigrations = %v", result.MarkedMigrations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkMissingIsNoopWhenNothingMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM information_schema.tables`).
		WithArgs("tenant_acme", "__drizzle_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT name FROM "tenant_acme"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("0001_init.sql"))

	files := []migration.File{{Name: "0001_init.sql"}}

	m := New(testCfg())
	result, err := m.MarkMissing(context.Background(), mock, "acme", "tenant_acme", files)
	if err != nil {
		t.Fatalf("MarkMissing: %v", err)
	}
	if len(result.MarkedMigrations) != 0 {
		t.Fatalf("expected no marked migrations, got %v", result.MarkedMigrations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestCleanOrphansDeletesUnmatchedRows is the other half of Scenario E's
// convergence step: cleanOrphans removes the tracking-table-only row,
// which together with markMissing brings the tenant back in sync.
func TestCleanOrphansDeletesUnmatchedRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM information_schema.tables`).
		WithArgs("tenant_acme", "__drizzle_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT name FROM "tenant_acme"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("0001_init.sql").AddRow("0003_ghost.sql"))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "tenant_acme"."__drizzle_migrations" WHERE name = \$1`).
		WithArgs("0003_ghost.sql").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	files := []migration.File{{Name: "0001_init.sql"}}

	m := New(testCfg())
	result, err := m.CleanOrphans(context.Background(), mock, "acme", "tenant_acme", files)
	if err != nil {
		t.Fatalf("CleanOrphans: %v", err)
	}
	if len(result.RemovedOrphans) != 1 || result.RemovedOrphans[0] != "0003_ghost.sql" {
		t.Fatalf("RemovedOrphans = %v", result.RemovedOrphans)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
