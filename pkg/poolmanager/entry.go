package poolmanager

import (
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// entry is the Pool Manager's exclusively-owned record for one live
// schema. Consumers only ever see the borrowed *pgxpool.Pool returned from
// GetDB/GetSharedDB — never this struct (spec.md §3, Pool Entry).
type entry struct {
	pool      *pgxpool.Pool
	tenantID  string
	schema    string
	createdAt time.Time

	// lastAccessedAt is unix-nanoseconds, updated on every cache hit.
	lastAccessedAt atomic.Int64
}

func newEntry(tenantID, schema string, pool *pgxpool.Pool) *entry {
	e := &entry{pool: pool, tenantID: tenantID, schema: schema, createdAt: time.Now()}
	e.touch()
	return e
}

func (e *entry) touch() {
	e.lastAccessedAt.Store(time.Now().UnixNano())
}

func (e *entry) lastAccessed() time.Time {
	return time.Unix(0, e.lastAccessedAt.Load())
}

// Stats is the lightweight, read-only view of a pool's current state
// (spec.md §3).
type Stats struct {
	Total          int32
	Idle           int32
	Waiting        int32
	LastAccessedAt time.Time
}

func (e *entry) stats() Stats {
	if e.pool == nil {
		return Stats{LastAccessedAt: e.lastAccessed()}
	}
	s := e.pool.Stat()
	// pgxpool (via puddle) does not expose a live count of goroutines
	// blocked in Acquire. A saturated pool (every connection already
	// acquired, none idle) is the observable proxy for "at least one
	// acquire would have to wait" used throughout this package.
	var waiting int32
	if s.IdleConns() == 0 && s.AcquiredConns() >= s.MaxConns() {
		waiting = 1
	}
	return Stats{
		Total:          s.TotalConns(),
		Idle:           s.IdleConns(),
		Waiting:        waiting,
		LastAccessedAt: e.lastAccessed(),
	}
}
