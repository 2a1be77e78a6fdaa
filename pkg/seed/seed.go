// Package seed runs user-supplied seed closures against tenant or shared
// database handles, with no implicit transaction wrapping — a seed that
// wants transactional semantics opens its own (spec.md §4.10).
package seed

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

// Func is a user seed closure. It receives the already-acquired handle for
// tenantID (empty for the shared seed) and runs arbitrary statements
// against it.
type Func func(ctx context.Context, db pgexec.Transactor, tenantID string) error

// TenantDB resolves a tenant id to its database handle and schema name.
type TenantDB func(ctx context.Context, tenantID string) (pgexec.Transactor, string, error)

// Result reports one seed invocation's outcome.
type Result struct {
	TenantID   string
	Success    bool
	Error      error
	DurationMs int64
}

// BatchDetail is one tenant's entry in a multi-tenant seed aggregate.
type BatchDetail struct {
	TenantID   string
	Success    bool
	Skipped    bool
	Error      string
	DurationMs int64
}

// BatchResult aggregates a multi-tenant seed run (spec.md §4.10, mirroring
// §4.6's batch summary shape).
type BatchResult struct {
	// RunID correlates this batch's log lines across every fanned-out
	// tenant goroutine; it is not persisted anywhere.
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Details   []BatchDetail
}

// ErrorDecision is returned by a batch's onError hook to decide whether to
// continue past a tenant's failure or abort remaining batches.
type ErrorDecision int

const (
	Continue ErrorDecision = iota
	Abort
)

// BatchOptions configures SeedAll / SeedTenants.
type BatchOptions struct {
	Concurrency int
	OnError     func(tenantID string, err error) ErrorDecision
}

// Seeder runs seed closures against tenant and shared handles.
type Seeder struct {
	cfg    config.Config
	logger *slog.Logger
}

// New constructs a Seeder.
func New(cfg config.Config) *Seeder {
	return &Seeder{cfg: cfg, logger: telemetry.OrDefault(cfg.Logger)}
}

// SeedTenant runs fn against db, already scoped to tenantID's schema, with
// no implicit transaction (spec.md §4.10).
func (s *Seeder) SeedTenant(ctx context.Context, db pgexec.Transactor, tenantID string, fn Func) Result {
	start := time.Now()
	err := fn(ctx, db, tenantID)
	return Result{TenantID: tenantID, Success: err == nil, Error: err, DurationMs: time.Since(start).Milliseconds()}
}

// SeedShared runs fn once against the shared database handle, with no
// tenant id and no concurrency (spec.md §4.10).
func (s *Seeder) SeedShared(ctx context.Context, db pgexec.Transactor, fn Func) Result {
	start := time.Now()
	err := fn(ctx, db, "")
	return Result{Success: err == nil, Error: err, DurationMs: time.Since(start).Milliseconds()}
}

// SeedAll runs fn against every tenant in tenantIDs. An alias of
// SeedTenants for embedders that discover the full tenant set themselves.
func (s *Seeder) SeedAll(ctx context.Context, getDB TenantDB, tenantIDs []string, fn Func, opts BatchOptions) BatchResult {
	return s.SeedTenants(ctx, getDB, tenantIDs, fn, opts)
}

// SeedTenants fans out fn across tenantIDs with the same bounded-
// concurrency, batch-boundary-ordered semantics as the Batch Executor
// (spec.md §4.6, §4.10).
func (s *Seeder) SeedTenants(ctx context.Context, getDB TenantDB, tenantIDs []string, fn Func, opts BatchOptions) BatchResult {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	runID := uuid.NewString()
	s.logger.Info("seed batch started", "runId", runID, "tenants", len(tenantIDs), "concurrency", concurrency)

	details := make([]BatchDetail, len(tenantIDs))

	task := func(tenantID string) error {
		idx := indexOf(tenantIDs, tenantID)
		db, _, err := getDB(ctx, tenantID)
		if err != nil {
			details[idx] = BatchDetail{TenantID: tenantID, Success: false, Error: err.Error()}
			return err
		}

		result := s.SeedTenant(ctx, db, tenantID, fn)
		detail := BatchDetail{TenantID: tenantID, Success: result.Success, DurationMs: result.DurationMs}
		if result.Error != nil {
			detail.Error = result.Error.Error()
		}
		details[idx] = detail
		return result.Error
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
	s.logger.Info("seed batch finished", "runId", runID, "succeeded", result.Succeeded, "failed", result.Failed, "skipped", result.Skipped)
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
