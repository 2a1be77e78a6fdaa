package tenantkeep

import "fmt"

// TenantDiscoveryMissingError reports that an all-tenants operation
// (migrateAll, getStatus, seedAll, …) was called but cfg.Migrations.
// TenantDiscovery was never configured, so the tenant id set cannot be
// resolved (spec.md §6).
type TenantDiscoveryMissingError struct {
	Operation string
}

func (e *TenantDiscoveryMissingError) Error() string {
	return fmt.Sprintf("tenantkeep: %s requires config.Migrations.TenantDiscovery to be set", e.Operation)
}
