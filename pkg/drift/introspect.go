package drift

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/wisbric/tenantkeep/internal/pgexec"
)

// ColumnSnapshot is one introspected information_schema.columns row.
type ColumnSnapshot struct {
	Name     string
	DataType string
	Nullable bool
	Default  string
}

// IndexSnapshot is one introspected pg_indexes row, with its column list
// and uniqueness parsed out of indexdef structurally rather than kept as
// raw DDL text (spec.md §4.9 step 3).
type IndexSnapshot struct {
	Name    string
	Unique  bool
	Columns []string
}

// ConstraintSnapshot is one introspected pg_constraint row.
type ConstraintSnapshot struct {
	Name    string
	Type    string // 'p','u','f','c' — pg_constraint.contype
	Columns []string
}

// Table is one schema table's full structural snapshot.
type Table struct {
	Name        string
	Columns     map[string]ColumnSnapshot
	Indexes     map[string]IndexSnapshot
	Constraints map[string]ConstraintSnapshot
}

// Snapshot is a schema's full structural Snapshot, keyed by table name.
type Snapshot struct {
	Tables map[string]Table
}

// introspectSchema builds a structural Snapshot of schema by querying
// information_schema.tables/columns and pg_indexes/pg_constraint, in the
// manner of xataio/pgroll's read_schema introspection function — expressed
// here as plain Go-side queries, since a drift comparison works off two
// already-introspected snapshots rather than one stored in a JSONB column.
func introspectSchema(ctx context.Context, db pgexec.Querier, schema string, excludeTables map[string]bool, skipIndexes, skipConstraints bool) (Snapshot, error) {
	names, err := tableNames(ctx, db, schema, excludeTables)
	if err != nil {
		return Snapshot{}, err
	}

	tables := make(map[string]Table, len(names))
	for _, n := range names {
		tables[n] = Table{Name: n, Columns: map[string]ColumnSnapshot{}, Indexes: map[string]IndexSnapshot{}, Constraints: map[string]ConstraintSnapshot{}}
	}

	if err := loadColumns(ctx, db, schema, tables); err != nil {
		return Snapshot{}, err
	}
	if !skipIndexes {
		if err := loadIndexes(ctx, db, schema, tables); err != nil {
			return Snapshot{}, err
		}
	}
	if !skipConstraints {
		if err := loadConstraints(ctx, db, schema, tables); err != nil {
			return Snapshot{}, err
		}
	}

	return Snapshot{Tables: tables}, nil
}

func tableNames(ctx context.Context, db pgexec.Querier, schema string, excludeTables map[string]bool) ([]string, error) {
	rows, err := db.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'`, schema)
	if err != nil {
		return nil, fmt.Errorf("drift: listing tables in %q: %w", schema, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("drift: scanning table name: %w", err)
		}
		if excludeTables[name] {
			continue
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func loadColumns(ctx context.Context, db pgexec.Querier, schema string, tables map[string]Table) error {
	rows, err := db.Query(ctx, `
		SELECT table_name, column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`, schema)
	if err != nil {
		return fmt.Errorf("drift: listing columns in %q: %w", schema, err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		var defaultExpr *string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable, &defaultExpr); err != nil {
			return fmt.Errorf("drift: scanning column row: %w", err)
		}
		t, ok := tables[tableName]
		if !ok {
			continue
		}
		t.Columns[columnName] = ColumnSnapshot{
			Name:     columnName,
			DataType: dataType,
			Nullable: isNullable == "YES",
			Default:  normalizeDefault(derefOr(defaultExpr, "")),
		}
	}
	return rows.Err()
}

var indexDefPattern = regexp.MustCompile(`(?i)CREATE\s+(UNIQUE\s+)?INDEX\s+\S+\s+ON\s+\S+\s+USING\s+\w+\s*\(([^)]*)\)`)

func loadIndexes(ctx context.Context, db pgexec.Querier, schema string, tables map[string]Table) error {
	rows, err := db.Query(ctx, `
		SELECT tablename, indexname, indexdef
		FROM pg_indexes
		WHERE schemaname = $1`, schema)
	if err != nil {
		return fmt.Errorf("drift: listing indexes in %q: %w", schema, err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, indexName, indexDef string
		if err := rows.Scan(&tableName, &indexName, &indexDef); err != nil {
			return fmt.Errorf("drift: scanning index row: %w", err)
		}
		t, ok := tables[tableName]
		if !ok {
			continue
		}

		m := indexDefPattern.FindStringSubmatch(indexDef)
		if m == nil {
			continue
		}
		cols := make([]string, 0)
		for _, c := range strings.Split(m[2], ",") {
			cols = append(cols, strings.Trim(strings.TrimSpace(c), `"`))
		}
		t.Indexes[indexName] = IndexSnapshot{Name: indexName, Unique: m[1] != "", Columns: cols}
	}
	return rows.Err()
}

func loadConstraints(ctx context.Context, db pgexec.Querier, schema string, tables map[string]Table) error {
	rows, err := db.Query(ctx, `
		SELECT t.relname, c.conname, c.contype, array_agg(a.attname ORDER BY array_position(c.conkey, a.attnum))
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(c.conkey)
		WHERE n.nspname = $1
		GROUP BY t.relname, c.conname, c.contype, c.oid`, schema)
	if err != nil {
		return fmt.Errorf("drift: listing constraints in %q: %w", schema, err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, conName, conType string
		var cols []string
		if err := rows.Scan(&tableName, &conName, &conType, &cols); err != nil {
			return fmt.Errorf("drift: scanning constraint row: %w", err)
		}
		t, ok := tables[tableName]
		if !ok {
			continue
		}
		t.Constraints[conName] = ConstraintSnapshot{Name: conName, Type: conType, Columns: cols}
	}
	return rows.Err()
}

// normalizeDefault strips trailing ::<type> casts and surrounding
// whitespace so semantically equal defaults compare equal (spec.md §4.9
// step 3).
func normalizeDefault(expr string) string {
	expr = strings.TrimSpace(expr)
	if idx := strings.LastIndex(expr, "::"); idx >= 0 {
		expr = expr[:idx]
	}
	return strings.TrimSpace(expr)
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
