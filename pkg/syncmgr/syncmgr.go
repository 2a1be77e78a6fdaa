// Package syncmgr reconciles the on-disk migration list against each
// tenant's tracking table: missing migrations never recorded, and orphan
// records with no matching file (spec.md §4.8).
package syncmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/wisbric/tenantkeep/internal/fanout"
	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/internal/telemetry"
	"github.com/wisbric/tenantkeep/pkg/config"
	"github.com/wisbric/tenantkeep/pkg/migration"
)

const defaultConcurrency = 10

// TenantStatus is one tenant's reconciliation report (spec.md §4.8).
type TenantStatus struct {
	TenantID string
	Missing  []string
	Orphans  []string
	InSync   bool
	Format   string
	Error    error
}

// MutationResult reports what markMissing / cleanOrphans actually did.
type MutationResult struct {
	TenantID        string
	MarkedMigrations []string
	RemovedOrphans   []string
	Error            error
}

// TenantDB resolves a tenant id to its database handle and schema name.
type TenantDB func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error)

// Manager computes and repairs drift between disk and tracking table.
type Manager struct {
	cfg    config.Config
	logger *slog.Logger
}

// New constructs a Manager.
func New(cfg config.Config) *Manager {
	return &Manager{cfg: cfg, logger: telemetry.OrDefault(cfg.Logger)}
}

// GetSyncStatus fans out status computation across tenantIDs.
func (m *Manager) GetSyncStatus(ctx context.Context, getDB TenantDB, tenantIDs []string, files []migration.File, concurrency int) []TenantStatus {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	statuses := make([]TenantStatus, len(tenantIDs))

	task := func(tenantID string) error {
		idx := indexOf(tenantIDs, tenantID)
		st, err := m.tenantStatus(ctx, getDB, tenantID, files)
		statuses[idx] = st
		return err
	}
	fanout.Run(tenantIDs, concurrency, task, nil)
	return statuses
}

func (m *Manager) tenantStatus(ctx context.Context, getDB TenantDB, tenantID string, files []migration.File) (TenantStatus, error) {
	db, schema, err := getDB(ctx, tenantID)
	if err != nil {
		return TenantStatus{TenantID: tenantID, Error: err}, err
	}

	table := m.cfg.Migrations.MigrationsTable
	format, err := migration.GetOrDetectFormat(ctx, db, schema, table, m.cfg.Migrations.TableFormat, m.cfg.Migrations.DefaultFormat)
	if err != nil {
		return TenantStatus{TenantID: tenantID, Error: err}, err
	}

	applied, err := migration.ReadApplied(ctx, db, schema, table, format)
	if err != nil {
		return TenantStatus{TenantID: tenantID, Error: err, Format: string(format)}, err
	}

	diskSet := identifierSet(files, format)
	missing, orphans := diff(diskSet, identifiers(applied, format))

	return TenantStatus{
		TenantID: tenantID,
		Missing:  missing,
		Orphans:  orphans,
		InSync:   len(missing) == 0 && len(orphans) == 0,
		Format:   string(format),
	}, nil
}

// identifierSet returns, in file-name order, the identifier each file is
// tracked under for format (name for FormatName, hash otherwise).
func identifierSet(files []migration.File, format config.TableFormat) []string {
	sorted := make([]migration.File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	out := make([]string, len(sorted))
	for i, f := range sorted {
		if format == config.FormatName {
			out[i] = f.Name
		} else {
			out[i] = f.Hash
		}
	}
	return out
}

// identifiers projects applied rows to the identifier strings they were
// recorded under, matching format's tracking column.
func identifiers(applied []migration.Applied, format config.TableFormat) []string {
	out := make([]string, len(applied))
	for i, a := range applied {
		if format == config.FormatName {
			out[i] = a.Name
		} else {
			out[i] = a.Hash
		}
	}
	return out
}

// diff computes missing (on disk, not applied) and orphans (applied, not
// on disk), preserving disk order for missing and tracking-table order for
// orphans.
func diff(disk []string, applied []string) (missing, orphans []string) {
	appliedSet := map[string]bool{}
	for _, a := range applied {
		appliedSet[a] = true
	}
	diskSet := map[string]bool{}
	for _, d := range disk {
		diskSet[d] = true
	}

	for _, d := range disk {
		if !appliedSet[d] {
			missing = append(missing, d)
		}
	}
	for _, a := range applied {
		if !diskSet[a] {
			orphans = append(orphans, a)
		}
	}
	return missing, orphans
}

// MarkMissing inserts tracking-table rows for every migration present on
// disk but absent from the table, without executing any SQL
// (spec.md §4.8). All inserts run in one transaction.
func (m *Manager) MarkMissing(ctx context.Context, db pgexec.Transactor, tenantID, schema string, files []migration.File) (MutationResult, error) {
	table := m.cfg.Migrations.MigrationsTable
	format, err := migration.GetOrDetectFormat(ctx, db, schema, table, m.cfg.Migrations.TableFormat, m.cfg.Migrations.DefaultFormat)
	if err != nil {
		return MutationResult{TenantID: tenantID, Error: err}, err
	}

	applied, err := migration.ReadApplied(ctx, db, schema, table, format)
	if err != nil {
		return MutationResult{TenantID: tenantID, Error: err}, err
	}

	diskSet := identifierSet(files, format)
	missing, _ := diff(diskSet, identifiers(applied, format))
	if len(missing) == 0 {
		return MutationResult{TenantID: tenantID}, nil
	}

	byIdentifier := map[string]migration.File{}
	for _, f := range files {
		if format == config.FormatName {
			byIdentifier[f.Name] = f
		} else {
			byIdentifier[f.Hash] = f
		}
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return MutationResult{TenantID: tenantID, Error: err}, err
	}
	defer tx.Rollback(ctx)

	for _, identifier := range missing {
		f := byIdentifier[identifier]
		if err := migration.InsertApplied(ctx, tx, schema, table, format, f); err != nil {
			return MutationResult{TenantID: tenantID, Error: err}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return MutationResult{TenantID: tenantID, Error: err}, err
	}

	return MutationResult{TenantID: tenantID, MarkedMigrations: missing}, nil
}

// CleanOrphans deletes tracking-table rows whose identifier has no
// matching disk file, in a single transaction (spec.md §4.8).
func (m *Manager) CleanOrphans(ctx context.Context, db pgexec.Transactor, tenantID, schema string, files []migration.File) (MutationResult, error) {
	table := m.cfg.Migrations.MigrationsTable
	format, err := migration.GetOrDetectFormat(ctx, db, schema, table, m.cfg.Migrations.TableFormat, m.cfg.Migrations.DefaultFormat)
	if err != nil {
		return MutationResult{TenantID: tenantID, Error: err}, err
	}

	applied, err := migration.ReadApplied(ctx, db, schema, table, format)
	if err != nil {
		return MutationResult{TenantID: tenantID, Error: err}, err
	}

	diskSet := identifierSet(files, format)
	_, orphans := diff(diskSet, identifiers(applied, format))
	if len(orphans) == 0 {
		return MutationResult{TenantID: tenantID}, nil
	}

	idCol := "name"
	if format != config.FormatName {
		idCol = "hash"
	}
	qualified := fmt.Sprintf(`"%s"."%s"`, schema, table)

	tx, err := db.Begin(ctx)
	if err != nil {
		return MutationResult{TenantID: tenantID, Error: err}, err
	}
	defer tx.Rollback(ctx)

	for _, identifier := range orphans {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, qualified, idCol), identifier); err != nil {
			return MutationResult{TenantID: tenantID, Error: err}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return MutationResult{TenantID: tenantID, Error: err}, err
	}

	return MutationResult{TenantID: tenantID, RemovedOrphans: orphans}, nil
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
