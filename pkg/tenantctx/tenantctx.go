// Package tenantctx carries the resolved tenant for a single request or
// operation through context.Context, in the manner of wisbric-nightowl's
// pkg/tenant context-key pattern, generalized to the three handles an
// embedder needs: the tenant id, its database handle, and the shared
// database handle (spec.md §3, §6).
package tenantctx

import (
	"context"

	"github.com/wisbric/tenantkeep/internal/pgexec"
)

// Info is the resolved tenant context for one request or operation.
type Info struct {
	TenantID string
	Schema   string
	TenantDB pgexec.Transactor
	SharedDB pgexec.Transactor
}

type contextKey string

const infoKey contextKey = "tenantkeep_info"

// NewContext stores info in ctx.
func NewContext(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, infoKey, info)
}

// FromContext extracts the Info stored by NewContext, or nil if none is
// set.
func FromContext(ctx context.Context) *Info {
	v, _ := ctx.Value(infoKey).(*Info)
	return v
}

// TenantID is a convenience accessor; it returns "" if no tenant is set.
func TenantID(ctx context.Context) string {
	if info := FromContext(ctx); info != nil {
		return info.TenantID
	}
	return ""
}

// TenantDB is a convenience accessor; it returns nil if no tenant is set.
func TenantDB(ctx context.Context) pgexec.Transactor {
	if info := FromContext(ctx); info != nil {
		return info.TenantDB
	}
	return nil
}

// SharedDB is a convenience accessor; it returns nil if no tenant is set.
func SharedDB(ctx context.Context) pgexec.Transactor {
	if info := FromContext(ctx); info != nil {
		return info.SharedDB
	}
	return nil
}
