package tenantkeep

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/tenantkeep/internal/fanout"
	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/pkg/config"
	"github.com/wisbric/tenantkeep/pkg/drift"
	"github.com/wisbric/tenantkeep/pkg/migration"
	"github.com/wisbric/tenantkeep/pkg/schemamgr"
	"github.com/wisbric/tenantkeep/pkg/seed"
	"github.com/wisbric/tenantkeep/pkg/syncmgr"
	"github.com/wisbric/tenantkeep/pkg/tenantctx"
)

// Migrator is the facade for everything except pool lifecycle (spec.md
// §6, Migrator): migration execution, sync/drift, and seeding, all bound
// to one Manager for pool acquisition.
type Migrator struct {
	cfg      config.Config
	manager  *Manager
	executor *migration.Executor
	shared   *migration.SharedExecutor
	sync     *syncmgr.Manager
	drift    *drift.Detector
	seeder   *seed.Seeder
}

// NewMigrator constructs a Migrator bound to manager's pool cache, reusing
// manager's own validated-and-defaulted configuration (spec.md §6) rather
// than trusting the caller to have called cfg.Validate() themselves.
func NewMigrator(manager *Manager) *Migrator {
	cfg := manager.Config()
	return &Migrator{
		cfg:      cfg,
		manager:  manager,
		executor: migration.NewExecutor(cfg, cfg.Logger),
		shared:   migration.NewSharedExecutor(cfg, cfg.Logger),
		sync:     syncmgr.New(cfg),
		drift:    drift.New(cfg),
		seeder:   seed.New(cfg),
	}
}

// dbForTenant resolves tenantID to its connection pool and schema name in
// one call, acquiring the pool through the Manager (lazily creating it on
// first access).
func (x *Migrator) dbForTenant(ctx context.Context, tenantID string) (*pgxpool.Pool, string, error) {
	schema, err := x.manager.GetSchemaName(tenantID)
	if err != nil {
		return nil, "", err
	}
	pool, err := x.manager.GetDB(ctx, tenantID)
	if err != nil {
		return nil, "", err
	}
	return pool, schema, nil
}

func (x *Migrator) migrationTenantDB(ctx context.Context, tenantID string) (pgexec.Transactor, string, error) {
	return x.dbForTenant(ctx, tenantID)
}

func (x *Migrator) driftTenantDB(ctx context.Context, tenantID string) (pgexec.Querier, string, error) {
	return x.dbForTenant(ctx, tenantID)
}

// withTenantContext stashes the resolved tenant handle on ctx so a caller's
// hook closures (BeforeTenant, BeforeMigration, a seed.Func, …) can recover
// it via tenantctx.FromContext instead of needing it threaded through their
// own signature.
func withTenantContext(ctx context.Context, tenantID, schema string, db pgexec.Transactor) context.Context {
	return tenantctx.NewContext(ctx, &tenantctx.Info{TenantID: tenantID, Schema: schema, TenantDB: db})
}

func withSharedContext(ctx context.Context, db pgexec.Transactor) context.Context {
	return tenantctx.NewContext(ctx, &tenantctx.Info{SharedDB: db})
}

func (x *Migrator) schemaManager(ctx context.Context) (*schemamgr.Manager, error) {
	sharedPool, err := x.manager.GetSharedDB(ctx)
	if err != nil {
		return nil, err
	}
	return schemamgr.New(sharedPool, x.cfg), nil
}

// discoverTenantIDs resolves the full tenant set via
// cfg.Migrations.TenantDiscovery, for operations spec.md §6 names without
// an explicit tenant list (migrateAll, getStatus, seedAll, …).
func (x *Migrator) discoverTenantIDs(ctx context.Context, operation string) ([]string, error) {
	if x.cfg.Migrations.TenantDiscovery == nil {
		return nil, &TenantDiscoveryMissingError{Operation: operation}
	}
	return x.cfg.Migrations.TenantDiscovery(ctx)
}

func (x *Migrator) loadTenantFiles() ([]migration.File, error) {
	return migration.Load(x.cfg.Migrations.TenantFolder, false)
}

func (x *Migrator) loadSharedFiles() ([]migration.File, error) {
	return migration.Load(x.cfg.Migrations.SharedFolder, true)
}

// MigrateTenant applies every pending tenant migration for tenantID
// (spec.md §4.5).
func (x *Migrator) MigrateTenant(ctx context.Context, tenantID string, opts migration.Options) (migration.TenantResult, error) {
	files, err := x.loadTenantFiles()
	if err != nil {
		return migration.TenantResult{TenantID: tenantID}, err
	}
	db, schema, err := x.dbForTenant(ctx, tenantID)
	if err != nil {
		return migration.TenantResult{TenantID: tenantID}, err
	}
	ctx = withTenantContext(ctx, tenantID, schema, db)
	return x.executor.MigrateTenant(ctx, db, tenantID, schema, files, opts)
}

// MigrateTenants runs MigrateTenant across tenantIDs with bounded
// concurrency (spec.md §4.6).
func (x *Migrator) MigrateTenants(ctx context.Context, tenantIDs []string, opts migration.BatchOptions) (migration.BatchResult, error) {
	files, err := x.loadTenantFiles()
	if err != nil {
		return migration.BatchResult{}, err
	}
	return x.executor.MigrateAll(ctx, x.migrationTenantDB, tenantIDs, files, opts), nil
}

// MigrateAll discovers the full tenant set and runs MigrateTenants against
// it (spec.md §4.6).
func (x *Migrator) MigrateAll(ctx context.Context, opts migration.BatchOptions) (migration.BatchResult, error) {
	ids, err := x.discoverTenantIDs(ctx, "migrateAll")
	if err != nil {
		return migration.BatchResult{}, err
	}
	return x.MigrateTenants(ctx, ids, opts)
}

// MarkAsApplied records tenantID's pending migrations as applied without
// executing their SQL.
func (x *Migrator) MarkAsApplied(ctx context.Context, tenantID string) (migration.TenantResult, error) {
	files, err := x.loadTenantFiles()
	if err != nil {
		return migration.TenantResult{TenantID: tenantID}, err
	}
	db, schema, err := x.dbForTenant(ctx, tenantID)
	if err != nil {
		return migration.TenantResult{TenantID: tenantID}, err
	}
	ctx = withTenantContext(ctx, tenantID, schema, db)
	return x.executor.MarkAsApplied(ctx, db, tenantID, schema, files)
}

// MarkAllAsApplied runs MarkAsApplied across the discovered tenant set,
// with the same bounded-concurrency fan-out as MigrateAll
// (spec.md §4.6, applied to markAsApplied instead of migrateTenant).
func (x *Migrator) MarkAllAsApplied(ctx context.Context, concurrency int) (migration.BatchResult, error) {
	ids, err := x.discoverTenantIDs(ctx, "markAllAsApplied")
	if err != nil {
		return migration.BatchResult{}, err
	}
	if concurrency <= 0 {
		concurrency = 10
	}

	details := make([]migration.BatchDetail, len(ids))
	task := func(tenantID string) error {
		idx := tenantIndex(ids, tenantID)
		result, err := x.MarkAsApplied(ctx, tenantID)
		detail := migration.BatchDetail{TenantID: tenantID, Success: result.Success, DurationMs: result.DurationMs, Applied: result.AppliedMigrations}
		if result.Error != nil {
			detail.Error = result.Error.Error()
		}
		details[idx] = detail
		return err
	}
	itemResults := fanout.Run(ids, concurrency, task, nil)

	var batch migration.BatchResult
	batch.Total = len(ids)
	for i, ir := range itemResults {
		if ir.Skipped {
			details[i] = migration.BatchDetail{TenantID: ids[i], Skipped: true, Error: "Skipped due to abort"}
			batch.Skipped++
			continue
		}
		if details[i].Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}
	batch.Details = details
	return batch, nil
}

func tenantIndex(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// GetTenantStatus reports which migrations are pending for tenantID,
// without applying them (DryRun).
func (x *Migrator) GetTenantStatus(ctx context.Context, tenantID string) (migration.TenantResult, error) {
	return x.MigrateTenant(ctx, tenantID, migration.Options{DryRun: true})
}

// GetStatus reports pending migrations across the discovered tenant set,
// without applying them.
func (x *Migrator) GetStatus(ctx context.Context, opts migration.BatchOptions) (migration.BatchResult, error) {
	ids, err := x.discoverTenantIDs(ctx, "getStatus")
	if err != nil {
		return migration.BatchResult{}, err
	}
	opts.DryRun = true
	return x.MigrateTenants(ctx, ids, opts)
}

// CreateTenantOptions governs CreateTenant's optional initial migration
// run (spec.md §4.3).
type CreateTenantOptions struct {
	MigrateAfterCreate bool
}

// CreateTenant validates tenantID, creates its schema, and optionally
// migrates it immediately (spec.md §4.3).
func (x *Migrator) CreateTenant(ctx context.Context, tenantID string, opts CreateTenantOptions) error {
	schema, err := x.manager.GetSchemaName(tenantID)
	if err != nil {
		return err
	}
	sm, err := x.schemaManager(ctx)
	if err != nil {
		return err
	}
	if err := sm.CreateSchema(ctx, schema); err != nil {
		return err
	}
	if !opts.MigrateAfterCreate {
		return nil
	}
	_, err = x.MigrateTenant(ctx, tenantID, migration.Options{})
	return err
}

// DropTenant evicts tenantID's cached pool and drops its schema
// (spec.md §4.3).
func (x *Migrator) DropTenant(ctx context.Context, tenantID string, opts schemamgr.DropOptions) error {
	schema, err := x.manager.GetSchemaName(tenantID)
	if err != nil {
		return err
	}
	if err := x.manager.EvictPool(ctx, tenantID); err != nil {
		return err
	}
	sm, err := x.schemaManager(ctx)
	if err != nil {
		return err
	}
	return sm.DropSchema(ctx, schema, opts)
}

// TenantExists reports whether tenantID's schema exists.
func (x *Migrator) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	schema, err := x.manager.GetSchemaName(tenantID)
	if err != nil {
		return false, err
	}
	sm, err := x.schemaManager(ctx)
	if err != nil {
		return false, err
	}
	return sm.SchemaExists(ctx, schema)
}

// GetSyncStatus reports disk/tracking-table reconciliation status across
// tenantIDs (spec.md §4.8).
func (x *Migrator) GetSyncStatus(ctx context.Context, tenantIDs []string, concurrency int) ([]syncmgr.TenantStatus, error) {
	files, err := x.loadTenantFiles()
	if err != nil {
		return nil, err
	}
	return x.sync.GetSyncStatus(ctx, x.migrationTenantDB, tenantIDs, files, concurrency), nil
}

// MarkMissing inserts tracking-table rows for tenantID's unrecorded
// migrations.
func (x *Migrator) MarkMissing(ctx context.Context, tenantID string) (syncmgr.MutationResult, error) {
	files, err := x.loadTenantFiles()
	if err != nil {
		return syncmgr.MutationResult{TenantID: tenantID}, err
	}
	db, schema, err := x.dbForTenant(ctx, tenantID)
	if err != nil {
		return syncmgr.MutationResult{TenantID: tenantID}, err
	}
	ctx = withTenantContext(ctx, tenantID, schema, db)
	return x.sync.MarkMissing(ctx, db, tenantID, schema, files)
}

// MarkAllMissing runs MarkMissing across tenantIDs.
func (x *Migrator) MarkAllMissing(ctx context.Context, tenantIDs []string) []syncmgr.MutationResult {
	results := make([]syncmgr.MutationResult, len(tenantIDs))
	for i, id := range tenantIDs {
		result, err := x.MarkMissing(ctx, id)
		if err != nil && result.Error == nil {
			result.Error = err
		}
		results[i] = result
	}
	return results
}

// CleanOrphans deletes tracking-table rows with no matching disk file for
// tenantID.
func (x *Migrator) CleanOrphans(ctx context.Context, tenantID string) (syncmgr.MutationResult, error) {
	files, err := x.loadTenantFiles()
	if err != nil {
		return syncmgr.MutationResult{TenantID: tenantID}, err
	}
	db, schema, err := x.dbForTenant(ctx, tenantID)
	if err != nil {
		return syncmgr.MutationResult{TenantID: tenantID}, err
	}
	ctx = withTenantContext(ctx, tenantID, schema, db)
	return x.sync.CleanOrphans(ctx, db, tenantID, schema, files)
}

// CleanAllOrphans runs CleanOrphans across tenantIDs.
func (x *Migrator) CleanAllOrphans(ctx context.Context, tenantIDs []string) []syncmgr.MutationResult {
	results := make([]syncmgr.MutationResult, len(tenantIDs))
	for i, id := range tenantIDs {
		result, err := x.CleanOrphans(ctx, id)
		if err != nil && result.Error == nil {
			result.Error = err
		}
		results[i] = result
	}
	return results
}

// GetSchemaDrift introspects the reference tenant and diffs every other
// tenant in tenantIDs against it (spec.md §4.9).
func (x *Migrator) GetSchemaDrift(ctx context.Context, tenantIDs []string, opts drift.Options) drift.Result {
	return x.drift.DetectDrift(ctx, x.driftTenantDB, tenantIDs, opts)
}

// GetTenantSchemaDrift reports one tenant's drift against opts.
// ReferenceTenant. An empty ReferenceTenant is rejected with
// *TenantDiscoveryMissingError; there is no fallback reference.
func (x *Migrator) GetTenantSchemaDrift(ctx context.Context, tenantID string, opts drift.Options) (drift.TenantDrift, error) {
	referenceID := opts.ReferenceTenant
	if referenceID == "" {
		return drift.TenantDrift{}, &TenantDiscoveryMissingError{Operation: "getTenantSchemaDrift (opts.ReferenceTenant required)"}
	}
	result := x.drift.DetectDrift(ctx, x.driftTenantDB, []string{referenceID, tenantID}, opts)
	for _, d := range result.Details {
		if d.TenantID == tenantID {
			return d, nil
		}
	}
	return drift.TenantDrift{TenantID: tenantID}, nil
}

// IntrospectTenantSchema returns tenantID's structural schema snapshot.
func (x *Migrator) IntrospectTenantSchema(ctx context.Context, tenantID string, opts drift.Options) (drift.Snapshot, error) {
	db, schema, err := x.driftTenantDB(ctx, tenantID)
	if err != nil {
		return drift.Snapshot{}, err
	}
	return x.drift.IntrospectTenant(ctx, db, schema, opts)
}

// SeedTenant runs fn against tenantID's database handle.
func (x *Migrator) SeedTenant(ctx context.Context, tenantID string, fn seed.Func) (seed.Result, error) {
	db, schema, err := x.dbForTenant(ctx, tenantID)
	if err != nil {
		return seed.Result{TenantID: tenantID}, err
	}
	ctx = withTenantContext(ctx, tenantID, schema, db)
	return x.seeder.SeedTenant(ctx, db, tenantID, fn), nil
}

// SeedAll discovers the full tenant set and seeds each (spec.md §4.10).
func (x *Migrator) SeedAll(ctx context.Context, fn seed.Func, opts seed.BatchOptions) (seed.BatchResult, error) {
	ids, err := x.discoverTenantIDs(ctx, "seedAll")
	if err != nil {
		return seed.BatchResult{}, err
	}
	return x.seeder.SeedAll(ctx, x.migrationTenantDB, ids, fn, opts), nil
}

// SeedTenants seeds every tenant in tenantIDs.
func (x *Migrator) SeedTenants(ctx context.Context, tenantIDs []string, fn seed.Func, opts seed.BatchOptions) seed.BatchResult {
	return x.seeder.SeedTenants(ctx, x.migrationTenantDB, tenantIDs, fn, opts)
}

// SeedShared runs fn once against the shared database handle.
func (x *Migrator) SeedShared(ctx context.Context, fn seed.Func) (seed.Result, error) {
	db, err := x.manager.GetSharedDB(ctx)
	if err != nil {
		return seed.Result{}, err
	}
	ctx = withSharedContext(ctx, db)
	return x.seeder.SeedShared(ctx, db, fn), nil
}

// MigrateShared applies pending shared migrations (spec.md §4.7).
func (x *Migrator) MigrateShared(ctx context.Context, opts migration.Options) (migration.TenantResult, error) {
	files, err := x.loadSharedFiles()
	if err != nil {
		return migration.TenantResult{}, err
	}
	db, err := x.manager.GetSharedDB(ctx)
	if err != nil {
		return migration.TenantResult{}, err
	}
	ctx = withSharedContext(ctx, db)
	return x.shared.MigrateShared(ctx, db, x.cfg.Isolation.SharedSchemaName, files, opts)
}

// MarkSharedAsApplied records pending shared migrations as applied without
// executing their SQL.
func (x *Migrator) MarkSharedAsApplied(ctx context.Context) (migration.TenantResult, error) {
	files, err := x.loadSharedFiles()
	if err != nil {
		return migration.TenantResult{}, err
	}
	db, err := x.manager.GetSharedDB(ctx)
	if err != nil {
		return migration.TenantResult{}, err
	}
	ctx = withSharedContext(ctx, db)
	return x.shared.MarkSharedAsApplied(ctx, db, x.cfg.Isolation.SharedSchemaName, files)
}

// GetSharedStatus reports pending shared migrations without applying
// them.
func (x *Migrator) GetSharedStatus(ctx context.Context) (migration.TenantResult, error) {
	return x.MigrateShared(ctx, migration.Options{DryRun: true})
}
