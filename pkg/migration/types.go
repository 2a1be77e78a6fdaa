// Package migration implements migration discovery, format detection, and
// per-tenant / per-batch / shared-namespace application (spec.md §4.4–§4.7).
// The folder-scanning style is grounded on pgroll's cmd.readSQLFromFolder;
// the bounded-concurrency fan-out is grounded on cryptofunk's
// internal/orchestrator semaphore-channel pattern.
package migration

import "time"

// File is an immutable record of one migration read from disk
// (spec.md §3, Migration File). It is discarded after the operation that
// loaded it completes.
type File struct {
	Name      string
	Path      string
	SQL       string
	Timestamp int64
	Hash      string
}

// Applied is one row read back from a tracking table (spec.md §3,
// Applied-Migration Record).
type Applied struct {
	Identifier string
	AppliedAt  time.Time
	Name       string
	Hash       string
}

// TenantResult is the outcome of applying (or marking) a set of migrations
// against one tenant (spec.md §4.5).
type TenantResult struct {
	TenantID          string
	Success           bool
	AppliedMigrations []string
	Error             error
	DurationMs        int64
	Format            string
}

// BatchDetail is one tenant's entry in a Batch Executor aggregate result.
type BatchDetail struct {
	TenantID   string
	Success    bool
	Skipped    bool
	Error      string
	DurationMs int64
	Applied    []string
}

// BatchResult is the aggregate returned by migrateAll (spec.md §4.6).
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

// ErrorDecision is returned by a batch's onError hook to decide whether the
// batch continues past a tenant's failure or aborts outright.
type ErrorDecision int

const (
	Continue ErrorDecision = iota
	Abort
)

// ProgressEvent is passed to an onProgress callback as each migration
// within a tenant is applied.
type ProgressEvent struct {
	TenantID string
	Name     string
	Index    int
	Total    int
}

// Options governs a single migrateTenant call.
type Options struct {
	DryRun     bool
	MarkOnly   bool
	OnProgress func(ProgressEvent)
}

// BatchOptions governs migrateAll.
type BatchOptions struct {
	Concurrency int
	DryRun      bool
	OnProgress  func(ProgressEvent)
	OnError     func(tenantID string, err error) ErrorDecision
}
