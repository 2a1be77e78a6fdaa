// Package schemamgr creates, drops, and inspects PostgreSQL schemas, and
// ensures the migrations tracking table exists in the shape a given format
// demands (spec.md §4.3). It is grounded on
// wisbric-nightowl's vendored core/pkg/tenant.Provisioner, generalized from
// a fixed tenants-table-backed flow to the pool-manager-driven, format-aware
// one this spec requires.
package schemamgr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/internal/telemetry"
	"github.com/wisbric/tenantkeep/pkg/config"
)

// Manager creates, drops, and inspects schemas against the shared pool.
type Manager struct {
	sharedPool pgexec.Querier
	logger     *slog.Logger
}

// New constructs a Manager. sharedPool must be connected to the shared
// namespace — every operation runs DDL with an explicit schema-qualified
// identifier, so the pool's own search_path is never relied upon.
func New(sharedPool pgexec.Querier, cfg config.Config) *Manager {
	return &Manager{sharedPool: sharedPool, logger: telemetry.OrDefault(cfg.Logger)}
}

// CreateSchema idempotently creates the named schema.
func (m *Manager) CreateSchema(ctx context.Context, schema string) error {
	ident := pgx.Identifier{schema}.Sanitize()
	_, err := m.sharedPool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", ident))
	if err != nil {
		return fmt.Errorf("schemamgr: creating schema %q: %w", schema, err)
	}
	m.logger.InfoContext(ctx, "schema created", "schema", schema)
	return nil
}

// DropOptions governs DropSchema's refusal-to-drop-nonempty behavior.
type DropOptions struct {
	// Cascade runs DROP SCHEMA ... CASCADE, removing dependent objects.
	Cascade bool
	// Force permits dropping a non-empty schema even when Cascade is
	// false, by running CASCADE anyway — present so callers can express
	// "I know it's non-empty and I still want it gone" without silently
	// changing their Cascade intent for other callers sharing a config.
	Force bool
}

// DropSchema drops schema. If neither Cascade nor Force is set, it first
// checks whether the schema is empty and refuses with *NotEmptyError if not
// (spec.md §4.3).
func (m *Manager) DropSchema(ctx context.Context, schema string, opts DropOptions) error {
	if !opts.Cascade && !opts.Force {
		empty, err := m.schemaEmpty(ctx, schema)
		if err != nil {
			return err
		}
		if !empty {
			return &NotEmptyError{Schema: schema}
		}
	}

	ident := pgx.Identifier{schema}.Sanitize()
	stmt := fmt.Sprintf("DROP SCHEMA IF EXISTS %s", ident)
	if opts.Cascade || opts.Force {
		stmt += " CASCADE"
	}
	if _, err := m.sharedPool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("schemamgr: dropping schema %q: %w", schema, err)
	}
	m.logger.InfoContext(ctx, "schema dropped", "schema", schema, "cascade", opts.Cascade || opts.Force)
	return nil
}

func (m *Manager) schemaEmpty(ctx context.Context, schema string) (bool, error) {
	var count int
	err := m.sharedPool.QueryRow(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = $1`,
		schema,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("schemamgr: checking whether schema %q is empty: %w", schema, err)
	}
	return count == 0, nil
}

// SchemaExists reports whether schema is present in information_schema.
func (m *Manager) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	err := m.sharedPool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		schema,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("schemamgr: checking existence of schema %q: %w", schema, err)
	}
	return exists, nil
}

// trackingColumns returns the column definitions for one of the three
// recognized tracking-table formats (spec.md §3).
func trackingColumns(format config.TableFormat) (string, error) {
	switch format {
	case config.FormatName:
		return `id serial PRIMARY KEY, name text NOT NULL UNIQUE, applied_at timestamptz NOT NULL DEFAULT now()`, nil
	case config.FormatHash:
		return `id serial PRIMARY KEY, hash text NOT NULL UNIQUE, created_at timestamptz NOT NULL DEFAULT now()`, nil
	case config.FormatDrizzleKit:
		return `id serial PRIMARY KEY, hash text NOT NULL UNIQUE, created_at bigint NOT NULL`, nil
	default:
		return "", fmt.Errorf("schemamgr: cannot create tracking table for unrecognized format %q", format)
	}
}

// EnsureMigrationsTable creates table (schema-qualified) in the shape
// format mandates, if it does not already exist. It never alters the
// column shape of an existing table (spec.md §4.3).
func EnsureMigrationsTable(ctx context.Context, pool pgexec.Querier, schema, table string, format config.TableFormat) error {
	cols, err := trackingColumns(format)
	if err != nil {
		return err
	}
	qualified := pgx.Identifier{schema, table}.Sanitize()
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qualified, cols)
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("schemamgr: ensuring tracking table %s: %w", qualified, err)
	}
	return nil
}

// NotEmptyError reports that DropSchema refused to drop a non-empty schema
// without Cascade or Force.
type NotEmptyError struct {
	Schema string
}

func (e *NotEmptyError) Error() string {
	return fmt.Sprintf("schemamgr: schema %q is not empty; pass Cascade or Force to drop it anyway", e.Schema)
}
