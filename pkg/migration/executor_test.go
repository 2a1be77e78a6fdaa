package migration

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/wisbric/tenantkeep/internal/telemetry"
	"github.com/wisbric/tenantkeep/pkg/config"
)

func newExecutorMock(t *testing.T) (*Executor, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	cfg := config.Config{
		Migrations: config.Migrations{
			MigrationsTable: "__drizzle_migrations",
			TableFormat:     config.FormatName,
			DefaultFormat:   config.FormatName,
		},
	}
	return NewExecutor(cfg, telemetry.OrDefault(nil)), mock
}

func expectTableExists(mock pgxmock.PgxPoolIface, schema, table string) {
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM information_schema.tables`).
		WithArgs(schema, table).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
}

func TestMigrateTenantAppliesPendingInOrder(t *testing.T) {
	x, mock := newExecutorMock(t)
	expectTableExists(mock, "tenant_acme", "__drizzle_migrations")
	mock.ExpectQuery(`SELECT name FROM "tenant_acme"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}))

	files := []File{
		{Name: "0001_init.sql", SQL: "CREATE TABLE init();"},
		{Name: "0002_add_users.sql", SQL: "CREATE TABLE users();"},
	}

	for _, f := range files {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(f.SQL)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mock.ExpectExec(`INSERT INTO "tenant_acme"."__drizzle_migrations" \(name, applied_at\)`).
			WithArgs(f.Name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
	}

	result, err := x.MigrateTenant(context.Background(), mock, "acme", "tenant_acme", files, Options{})
	if err != nil {
		t.Fatalf("MigrateTenant: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %v", result.Error)
	}
	if len(result.AppliedMigrations) != 2 || result.AppliedMigrations[0] != "0001_init.sql" || result.AppliedMigrations[1] != "0002_add_users.sql" {
		t.Fatalf("unexpected applied migrations: %v", result.AppliedMigrations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestMigrateTenantStopsOnFirstFailureAndRollsBack exercises Scenario B:
// the second of two migrations fails, leaving exactly one tracking-table
// row committed and the tenant result reported as failed.
func TestMigrateTenantStopsOnFirstFailureAndRollsBack(t *testing.T) {
	x, mock := newExecutorMock(t)
	expectTableExists(mock, "tenant_acme", "__drizzle_migrations")
	mock.ExpectQuery(`SELECT name FROM "tenant_acme"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}))

	files := []File{
		{Name: "0001_init.sql", SQL: "CREATE TABLE init();"},
		{Name: "0002_bad.sql", SQL: "SELECT 1/0;"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(files[0].SQL)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO "tenant_acme"."__drizzle_migrations" \(name, applied_at\)`).
		WithArgs(files[0].Name).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(files[1].SQL)).WillReturnError(errors.New("division by zero"))
	mock.ExpectRollback()

	result, err := x.MigrateTenant(context.Background(), mock, "acme", "tenant_acme", files, Options{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if result.Success {
		t.Fatal("expected result.Success=false")
	}
	if len(result.AppliedMigrations) != 1 || result.AppliedMigrations[0] != "0001_init.sql" {
		t.Fatalf("unexpected applied migrations: %v", result.AppliedMigrations)
	}
	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected *FailedError, got %v (%T)", err, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMigrateTenantSkipsAlreadyApplied(t *testing.T) {
	x, mock := newExecutorMock(t)
	expectTableExists(mock, "tenant_acme", "__drizzle_migrations")
	mock.ExpectQuery(`SELECT name FROM "tenant_acme"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("0001_init.sql"))

	files := []File{{Name: "0001_init.sql", SQL: "CREATE TABLE init();"}}

	result, err := x.MigrateTenant(context.Background(), mock, "acme", "tenant_acme", files, Options{})
	if err != nil {
		t.Fatalf("MigrateTenant: %v", err)
	}
	if len(result.AppliedMigrations) != 0 {
		t.Fatalf("expected zero new migrations applied, got %v", result.AppliedMigrations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkAsAppliedExecutesNoMigrationSQL(t *testing.T) {
	x, mock := newExecutorMock(t)
	expectTableExists(mock, "tenant_acme", "__drizzle_migrations")
	mock.ExpectQuery(`SELECT name FROM "tenant_acme"."__drizzle_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}))

	files := []File{{Name: "0001_init.sql", SQL: "CREATE TABLE init();"}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "tenant_acme"."__drizzle_migrations" \(name, applied_at\)`).
		WithArgs(files[0].Name).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	result, err := x.MarkAsApplied(context.Background(), mock, "acme", "tenant_acme", files)
	if err != nil {
		t.Fatalf("MarkAsApplied: %v", err)
	}
	if len(result.AppliedMigrations) != 1 {
		t.Fatalf("expected one migration marked applied, got %v", result.AppliedMigrations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
