package drift

// ColumnDrift describes one column's divergence from the reference
// tenant's schema (spec.md §4.9).
type ColumnDrift struct {
	Column string
	Kind   string // missing | extra | type_mismatch | nullable_mismatch | default_mismatch

	ReferenceType     string
	ActualType        string
	ReferenceNullable bool
	ActualNullable    bool
	ReferenceDefault  string
	ActualDefault     string
}

// IndexDrift describes one index's divergence.
type IndexDrift struct {
	Index string
	Kind  string // missing | extra | definition_mismatch
}

// ConstraintDrift describes one constraint's divergence.
type ConstraintDrift struct {
	Name string
	Kind string // missing | extra | definition_mismatch
}

// TableDrift is one table's classification against the reference
// snapshot (spec.md §4.9 step 3).
type TableDrift struct {
	Table       string
	Status      string // ok | missing | extra | drifted
	Columns     []ColumnDrift
	Indexes     []IndexDrift
	Constraints []ConstraintDrift
}

// TenantDrift is one tenant's full report.
type TenantDrift struct {
	TenantID string
	HasDrift bool
	Tables   []TableDrift
	Error    error
}

// Result aggregates a detectDrift run (spec.md §4.9).
type Result struct {
	// RunID correlates this run's log lines across every fanned-out
	// tenant goroutine; it is not persisted anywhere.
	RunID       string
	NoDrift     int
	WithDrift   int
	Error       int
	Details     []TenantDrift
	TimestampMs int64
	DurationMs  int64
}

// Options configures a detectDrift run. The zero value detects against
// the first tenant id, at the default concurrency, including indexes and
// constraints (spec.md §4.9's includeIndexes/includeConstraints default
// to true — inverted here to SkipIndexes/SkipConstraints so the Go zero
// value matches the spec default).
type Options struct {
	ReferenceTenant string
	Concurrency     int
	SkipIndexes     bool
	SkipConstraints bool
	ExcludeTables   []string
}
