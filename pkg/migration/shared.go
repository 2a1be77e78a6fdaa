package migration

import (
	"context"
	"log/slog"

	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/pkg/config"
)

// SharedExecutor applies migrations against the shared namespace's own
// independent tracking table (spec.md §4.7). It reuses Executor's
// single-tenant algorithm against the distinguished shared "tenant",
// whose pool is never evicted.
type SharedExecutor struct {
	inner *Executor
}

// NewSharedExecutor constructs a SharedExecutor.
func NewSharedExecutor(cfg config.Config, logger *slog.Logger) *SharedExecutor {
	return &SharedExecutor{inner: NewExecutor(cfg, logger)}
}

// MigrateShared applies files against db (the shared pool), tracked in
// cfg.Migrations.SharedTable inside the shared schema.
func (x *SharedExecutor) MigrateShared(ctx context.Context, db pgexec.Transactor, sharedSchema string, files []File, opts Options) (TenantResult, error) {
	return x.inner.migrate(ctx, db, "", sharedSchema, x.inner.cfg.Migrations.SharedTable, files, opts)
}

// MarkSharedAsApplied is MigrateShared without SQL execution.
func (x *SharedExecutor) MarkSharedAsApplied(ctx context.Context, db pgexec.Transactor, sharedSchema string, files []File) (TenantResult, error) {
	return x.MigrateShared(ctx, db, sharedSchema, files, Options{MarkOnly: true})
}
