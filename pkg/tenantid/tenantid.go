// Package tenantid validates tenant identifiers and derives PostgreSQL
// schema names from them.
package tenantid

import (
	"fmt"
	"regexp"
)

var pattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

const maxLen = 63

// InvalidError reports a tenant id that fails validation (spec.md §7,
// TenantIdInvalid). It is returned before any I/O is attempted.
type InvalidError struct {
	ID     string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("tenantid: invalid tenant id %q: %s", e.ID, e.Reason)
}

// Validate checks id against ^[A-Za-z_][A-Za-z0-9_-]*$ and the 63-byte
// PostgreSQL identifier limit.
func Validate(id string) error {
	if id == "" {
		return &InvalidError{ID: id, Reason: "must not be empty"}
	}
	if len(id) > maxLen {
		return &InvalidError{ID: id, Reason: fmt.Sprintf("exceeds %d bytes", maxLen)}
	}
	if !pattern.MatchString(id) {
		return &InvalidError{ID: id, Reason: "must match ^[A-Za-z_][A-Za-z0-9_-]*$"}
	}
	return nil
}

// SchemaName applies template to id after validating id, and validates that
// the resulting schema name is itself a plausible PostgreSQL identifier.
func SchemaName(id string, template func(string) (string, error)) (string, error) {
	if err := Validate(id); err != nil {
		return "", err
	}
	name, err := template(id)
	if err != nil {
		return "", fmt.Errorf("tenantid: schema name template failed for %q: %w", id, err)
	}
	if name == "" || len(name) > maxLen || !pattern.MatchString(name) {
		return "", &InvalidError{ID: id, Reason: fmt.Sprintf("derived schema name %q is not a valid identifier", name)}
	}
	return name, nil
}
