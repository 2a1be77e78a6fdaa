// Package drift introspects tenant schemas and reports structural
// divergence from a reference tenant (spec.md §4.9).
package drift

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tenantkeep/internal/fanout"
	"github.com/wisbric/tenantkeep/internal/pgexec"
	"github.com/wisbric/tenantkeep/internal/telemetry"
	"github.com/wisbric/tenantkeep/pkg/config"
)

const defaultConcurrency = 10

// TenantDB resolves a tenant id to its database handle and schema name.
type TenantDB func(ctx context.Context, tenantID string) (pgexec.Querier, string, error)

// Detector computes schema drift across tenants.
type Detector struct {
	cfg    config.Config
	logger *slog.Logger
}

// New constructs a Detector.
func New(cfg config.Config) *Detector {
	return &Detector{cfg: cfg, logger: telemetry.OrDefault(cfg.Logger)}
}

// DetectDrift introspects the reference tenant (or tenantIDs[0] if
// opts.ReferenceTenant is empty) and diffs every other tenant against it
// (spec.md §4.9).
func (d *Detector) DetectDrift(ctx context.Context, getDB TenantDB, tenantIDs []string, opts Options) Result {
	start := time.Now()
	runID := uuid.NewString()
	result := Result{RunID: runID, TimestampMs: start.UnixMilli()}
	d.logger.Info("drift detection started", "runId", runID, "tenants", len(tenantIDs))

	if len(tenantIDs) == 0 {
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	referenceID := opts.ReferenceTenant
	if referenceID == "" {
		referenceID = tenantIDs[0]
	}

	excludeTables := map[string]bool{}
	if len(opts.ExcludeTables) == 0 {
		excludeTables[d.cfg.Migrations.MigrationsTable] = true
	} else {
		for _, t := range opts.ExcludeTables {
			excludeTables[t] = true
		}
	}

	refDB, refSchema, err := getDB(ctx, referenceID)
	if err != nil {
		result.Error = 1
		result.Details = append(result.Details, TenantDrift{TenantID: referenceID, Error: err})
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}
	refSnapshot, err := introspectSchema(ctx, refDB, refSchema, excludeTables, opts.SkipIndexes, opts.SkipConstraints)
	if err != nil {
		result.Error = 1
		result.Details = append(result.Details, TenantDrift{TenantID: referenceID, Error: err})
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	others := make([]string, 0, len(tenantIDs))
	for _, id := range tenantIDs {
		if id != referenceID {
			others = append(others, id)
		}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	details := make([]TenantDrift, len(others))
	task := func(tenantID string) error {
		idx := indexOf(others, tenantID)
		db, schema, err := getDB(ctx, tenantID)
		if err != nil {
			details[idx] = TenantDrift{TenantID: tenantID, Error: err}
			return err
		}
		actual, err := introspectSchema(ctx, db, schema, excludeTables, opts.SkipIndexes, opts.SkipConstraints)
		if err != nil {
			details[idx] = TenantDrift{TenantID: tenantID, Error: err}
			return err
		}
		tables := diffSnapshots(refSnapshot, actual)
		hasDrift := false
		for _, t := range tables {
			if t.Status != "ok" {
				hasDrift = true
				break
			}
		}
		details[idx] = TenantDrift{TenantID: tenantID, HasDrift: hasDrift, Tables: tables}
		return nil
	}
	fanout.Run(others, concurrency, task, nil)

	result.Details = append([]TenantDrift{{TenantID: referenceID, HasDrift: false}}, details...)
	for _, det := range result.Details[1:] {
		switch {
		case det.Error != nil:
			result.Error++
		case det.HasDrift:
			result.WithDrift++
		default:
			result.NoDrift++
		}
	}
	result.NoDrift++ // the reference tenant itself is always reported drift-free

	result.DurationMs = time.Since(start).Milliseconds()
	d.logger.Info("drift detection finished", "runId", runID, "noDrift", result.NoDrift, "withDrift", result.WithDrift, "errors", result.Error)
	return result
}

// IntrospectTenant builds a structural Snapshot of one tenant's schema,
// for callers that want the raw introspection result rather than a diff
// against a reference tenant (spec.md §6, introspectTenantSchema).
func (d *Detector) IntrospectTenant(ctx context.Context, db pgexec.Querier, schema string, opts Options) (Snapshot, error) {
	excludeTables := map[string]bool{}
	if len(opts.ExcludeTables) == 0 {
		excludeTables[d.cfg.Migrations.MigrationsTable] = true
	} else {
		for _, t := range opts.ExcludeTables {
			excludeTables[t] = true
		}
	}
	return introspectSchema(ctx, db, schema, excludeTables, opts.SkipIndexes, opts.SkipConstraints)
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
