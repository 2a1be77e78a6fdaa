// Package pgerrs classifies PostgreSQL error codes and retries statements
// that fail on a transient lock, in the manner of xataio/pgroll's
// pkg/db.RDB — adapted from lib/pq to pgx's *pgconn.PgError.
package pgerrs

import (
	"context"
	"errors"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/jackc/pgx/v5/pgconn"
)

// Well-known PostgreSQL SQLSTATE codes this module reacts to.
const (
	CodeLockNotAvailable = "55P03"
	CodeUndefinedTable   = "42P01"
	CodeUndefinedColumn  = "42703"
	CodeUniqueViolation  = "23505"
)

const (
	maxLockRetryDuration = time.Minute
	lockRetryInterval    = time.Second
)

// Code returns the SQLSTATE code of err, or "" if err is not a *pgconn.PgError.
func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Is reports whether err is a PgError with the given SQLSTATE code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// WithLockRetry runs f, retrying with exponential backoff while f fails with
// a lock_not_available (55P03) error — the condition PostgreSQL raises when
// a statement's lock_timeout expires waiting on another tenant's migration.
func WithLockRetry(ctx context.Context, f func() error) error {
	b := backoff.New(maxLockRetryDuration, lockRetryInterval)

	for {
		err := f()
		if err == nil {
			return nil
		}
		if !Is(err, CodeLockNotAvailable) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}
