package migration

import (
	"context"
	"fmt"

	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/pkg/config"
	"github.com/wisbric/tenantkeep/pkg/schemamgr"
)

// DetectFormat introspects table's columns in schema and classifies it
// against the three recognized shapes. Both "hash,created_at" formats
// (hash and drizzle-kit) share identifier/timestamp column names and are
// only distinguished by the created_at column's SQL type — bigint for
// drizzle-kit, timestamptz otherwise.
func DetectFormat(ctx context.Context, db pgexec.Querier, schema, table string) (config.TableFormat, error) {
	rows, err := db.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		schema, table,
	)
	if err != nil {
		return "", fmt.Errorf("migration: introspecting tracking table %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var (
		hasName, hasHash           bool
		hasAppliedAt, hasCreatedAt bool
		createdAtType              string
	)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return "", fmt.Errorf("migration: scanning tracking table columns: %w", err)
		}
		switch name {
		case "name":
			hasName = true
		case "hash":
			hasHash = true
		case "applied_at":
			hasAppliedAt = true
		case "created_at":
			hasCreatedAt = true
			createdAtType = dataType
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("migration: reading tracking table columns: %w", err)
	}

	switch {
	case hasName && !hasHash && (hasAppliedAt || hasCreatedAt):
		return config.FormatName, nil
	case hasHash && !hasName && hasCreatedAt && createdAtType == "bigint":
		return config.FormatDrizzleKit, nil
	case hasHash && !hasName && hasCreatedAt:
		return config.FormatHash, nil
	default:
		return "", &TrackingFormatUnknownError{Schema: schema, Table: table}
	}
}

// GetOrDetectFormat resolves which format a schema's tracking table uses,
// creating the table first if it doesn't exist (spec.md §4.3 invariant):
// if the table is absent, configuredFormat decides the format to create,
// falling back to defaultFormat when configuredFormat is "auto". For an
// existing table, an explicitly configured format is returned as is; only
// "auto" introspects the table's columns.
func GetOrDetectFormat(ctx context.Context, db pgexec.Querier, schema, table string, configuredFormat, defaultFormat config.TableFormat) (config.TableFormat, error) {
	exists, err := tableExists(ctx, db, schema, table)
	if err != nil {
		return "", err
	}
	if !exists {
		format := configuredFormat
		if format == "" || format == config.FormatAuto {
			format = defaultFormat
		}
		if err := schemamgr.EnsureMigrationsTable(ctx, db, schema, table, format); err != nil {
			return "", err
		}
		return format, nil
	}
	if configuredFormat != "" && configuredFormat != config.FormatAuto {
		return configuredFormat, nil
	}
	return DetectFormat(ctx, db, schema, table)
}

func tableExists(ctx context.Context, db pgexec.Querier, schema, table string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		schema, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("migration: checking existence of tracking table %s.%s: %w", schema, table, err)
	}
	return exists, nil
}
