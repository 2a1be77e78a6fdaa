package migration

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tenantkeep/internal/fanout"
	"github.com/wisbric/tenantkeep/internal/pgexec"
)

const defaultConcurrency = 10

// TenantDB resolves a tenant id to the database handle to migrate against.
// The Pool Manager satisfies this via its GetDB method.
type TenantDB func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error)

// MigrateAll fans out MigrateTenant across tenantIDs with bounded
// concurrency and strict batch-boundary ordering (spec.md §4.6).
func (x *Executor) MigrateAll(ctx context.Context, getDB TenantDB, tenantIDs []string, files []File, opts BatchOptions) BatchResult {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	runID := uuid.NewString()
	x.logger.Info("migration batch started", "runId", runID, "tenants", len(tenantIDs), "concurrency", concurrency)

	details := make([]BatchDetail, len(tenantIDs))

	task := func(tenantID string) error {
		start := time.Now()
		db, schema, err := getDB(ctx, tenantID)
		if err != nil {
			details[indexOf(tenantIDs, tenantID)] = BatchDetail{
				TenantID: tenantID, Success: false, Error: err.Error(),
				DurationMs: time.Since(start).Milliseconds(),
			}
			return err
		}

		result, err := x.MigrateTenant(ctx, db, tenantID, schema, files, Options{DryRun: opts.DryRun, OnProgress: opts.OnProgress})
		idx := indexOf(tenantIDs, tenantID)
		detail := BatchDetail{
			TenantID:   tenantID,
			Success:    result.Success,
			DurationMs: result.DurationMs,
			Applied:    result.AppliedMigrations,
		}
		if result.Error != nil {
			detail.Error = result.Error.Error()
		}
		details[idx] = detail
		return err
	}

	onErr := func(tenantID string, err error) fanout.Decision {
		if opts.OnError == nil {
			return fanout.Continue
		}
		if opts.OnError(tenantID, err) == Abort {
			return fanout.Abort
		}
		return fanout.Continue
	}

	itemResults := fanout.Run(tenantIDs, concurrency, task, onErr)

	var result BatchResult
	result.RunID = runID
	result.Total = len(tenantIDs)
	for i, ir := range itemResults {
		if ir.Skipped {
			details[i] = BatchDetail{TenantID: tenantIDs[i], Skipped: true, Error: "Skipped due to abort"}
			result.Skipped++
			continue
		}
		if details[i].Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	result.Details = details
	x.logger.Info("migration batch finished", "runId", runID, "succeeded", result.Succeeded, "failed", result.Failed, "skipped", result.Skipped)
	return result
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
