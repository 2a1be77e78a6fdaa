package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/wisbric/tenantkeep/internal/hooks"
	"github.com/wisbric/tenantkeep/internal/pgerrs"
	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/internal/telemetry"
	"github.com/wisbric/tenantkeep/pkg/config"
)

// Executor applies migrations to one tenant schema at a time
// (spec.md §4.5).
type Executor struct {
	cfg    config.Config
	logger *slog.Logger
}

// NewExecutor constructs an Executor bound to cfg's migrations settings
// and lifecycle hooks.
func NewExecutor(cfg config.Config, logger *slog.Logger) *Executor {
	return &Executor{cfg: cfg, logger: telemetry.OrDefault(logger)}
}

// MigrateTenant applies files to db (already scoped to tenant's schema),
// in file-name order, skipping any already recorded as applied
// (spec.md §4.5 steps 1-4).
func (x *Executor) MigrateTenant(ctx context.Context, db pgexec.Transactor, tenantID, schema string, files []File, opts Options) (TenantResult, error) {
	return x.migrate(ctx, db, tenantID, schema, x.cfg.Migrations.MigrationsTable, files, opts)
}

// MarkAsApplied runs the same algorithm as MigrateTenant but never executes
// migration SQL — only the tracking-table INSERT (spec.md §4.5, MarkOnly).
func (x *Executor) MarkAsApplied(ctx context.Context, db pgexec.Transactor, tenantID, schema string, files []File) (TenantResult, error) {
	return x.MigrateTenant(ctx, db, tenantID, schema, files, Options{MarkOnly: true})
}

// migrate is the shared algorithm behind both the per-tenant and shared
// executors; table lets the shared executor point it at
// cfg.Migrations.SharedTable without mutating shared configuration.
func (x *Executor) migrate(ctx context.Context, db pgexec.Transactor, tenantID, schema, table string, files []File, opts Options) (TenantResult, error) {
	start := time.Now()

	hooks.FireErr(ctx, x.logger, "beforeTenant", func() error {
		if x.cfg.Hooks.BeforeTenant != nil {
			return x.cfg.Hooks.BeforeTenant(ctx, tenantID)
		}
		return nil
	})
	defer hooks.FireErr(ctx, x.logger, "afterTenant", func() error {
		if x.cfg.Hooks.AfterTenant != nil {
			return x.cfg.Hooks.AfterTenant(ctx, tenantID)
		}
		return nil
	})

	format, err := GetOrDetectFormat(ctx, db, schema, table, x.cfg.Migrations.TableFormat, x.cfg.Migrations.DefaultFormat)
	if err != nil {
		return TenantResult{TenantID: tenantID, Success: false, Error: err}, err
	}

	applied, err := ReadApplied(ctx, db, schema, table, format)
	if err != nil {
		return TenantResult{TenantID: tenantID, Success: false, Error: err, Format: string(format)}, err
	}

	pending := pendingMigrations(files, applied, format)

	result := x.apply(ctx, db, tenantID, schema, table, format, pending, opts)
	result.DurationMs = time.Since(start).Milliseconds()
	if result.Error != nil {
		return result, result.Error
	}
	return result, nil
}

// pendingMigrations returns files not yet applied, sorted by file name.
// Name-format tables match on the file name; hash-format tables match on
// the file hash but also tolerate a name match, in case the tracking
// table carries rows recorded under a different identifier convention.
func pendingMigrations(files []File, applied []Applied, format config.TableFormat) []File {
	appliedSet := map[string]bool{}
	for _, a := range applied {
		appliedSet[a.Name] = true
		appliedSet[a.Hash] = true
	}

	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var pending []File
	for _, f := range sorted {
		if format == config.FormatName {
			if appliedSet[f.Name] {
				continue
			}
		} else if appliedSet[f.Hash] || appliedSet[f.Name] {
			continue
		}
		pending = append(pending, f)
	}
	return pending
}

// ReadApplied reads the identifiers already recorded in the tracking
// table. The query imposes no ORDER BY, so the row order is whatever
// PostgreSQL returns.
func ReadApplied(ctx context.Context, db pgexec.Querier, schema, table string, format config.TableFormat) ([]Applied, error) {
	idCol := "name"
	if format != config.FormatName {
		idCol = "hash"
	}
	qualified := fmt.Sprintf(`"%s"."%s"`, schema, table)
	rows, err := db.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s`, idCol, qualified))
	if err != nil {
		return nil, fmt.Errorf("migration: reading applied migrations from %s: %w", qualified, err)
	}
	defer rows.Close()

	var out []Applied
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("migration: scanning applied migration row: %w", err)
		}
		if format == config.FormatName {
			out = append(out, Applied{Identifier: id, Name: id})
		} else {
			out = append(out, Applied{Identifier: id, Hash: id})
		}
	}
	return out, rows.Err()
}

// apply runs pending migrations one at a time, each in its own
// transaction, stopping at the first failure (spec.md §4.5 step 3).
func (x *Executor) apply(ctx context.Context, db pgexec.Transactor, tenantID, schema, table string, format config.TableFormat, pending []File, opts Options) TenantResult {
	result := TenantResult{TenantID: tenantID, Success: true, Format: string(format)}

	for i, f := range pending {
		hooks.FireErr(ctx, x.logger, "beforeMigration", func() error {
			if x.cfg.Hooks.BeforeMigration != nil {
				return x.cfg.Hooks.BeforeMigration(ctx, tenantID, f.Name)
			}
			return nil
		})

		if err := x.applyOne(ctx, db, schema, table, format, f, opts); err != nil {
			result.Success = false
			result.Error = &FailedError{TenantID: tenantID, Name: f.Name, Err: err}
			if x.cfg.MigrationMetrics != nil {
				x.cfg.MigrationMetrics.Failed.Inc()
			}
			return result
		}

		result.AppliedMigrations = append(result.AppliedMigrations, f.Name)
		if x.cfg.MigrationMetrics != nil {
			x.cfg.MigrationMetrics.Applied.Inc()
		}

		hooks.FireErr(ctx, x.logger, "afterMigration", func() error {
			if x.cfg.Hooks.AfterMigration != nil {
				return x.cfg.Hooks.AfterMigration(ctx, tenantID, f.Name)
			}
			return nil
		})

		if opts.OnProgress != nil {
			opts.OnProgress(ProgressEvent{TenantID: tenantID, Name: f.Name, Index: i + 1, Total: len(pending)})
		}
	}
	return result
}

// applyOne runs f's migration in its own transaction. Concurrent per-tenant
// migrations can both touch shared catalog state (e.g. a CREATE INDEX on a
// table every tenant schema shares a parent of), so a 55P03
// lock_not_available is retried with backoff rather than failing the whole
// batch outright.
func (x *Executor) applyOne(ctx context.Context, db pgexec.Transactor, schema, table string, format config.TableFormat, f File, opts Options) error {
	return pgerrs.WithLockRetry(ctx, func() error {
		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if !opts.DryRun && !opts.MarkOnly {
			if _, err := tx.Exec(ctx, f.SQL); err != nil {
				return err
			}
		}

		if !opts.DryRun {
			if err := InsertApplied(ctx, tx, schema, table, format, f); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
}

// InsertApplied records f as applied in the tracking table, using the
// column shape appropriate to format.
func InsertApplied(ctx context.Context, db pgexec.Querier, schema, table string, format config.TableFormat, f File) error {
	qualified := fmt.Sprintf(`"%s"."%s"`, schema, table)
	switch format {
	case config.FormatName:
		_, err := db.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (name, applied_at) VALUES ($1, now())`, qualified), f.Name)
		return err
	case config.FormatHash:
		_, err := db.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (hash, created_at) VALUES ($1, now())`, qualified), f.Hash)
		return err
	case config.FormatDrizzleKit:
		_, err := db.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (hash, created_at) VALUES ($1, $2)`, qualified), f.Hash, time.Now().UnixMilli())
		return err
	default:
		return fmt.Errorf("migration: cannot record applied migration for unrecognized format %q", format)
	}
}
