package tenantid

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"acme", false},
		{"acme_corp-1", false},
		{"_leading_underscore", false},
		{"", true},
		{"1starts_with_digit", true},
		{"has a space", true},
		{"has.dot", true},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 63), false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := Validate(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSchemaName(t *testing.T) {
	template := func(id string) (string, error) { return "tenant_" + id, nil }

	got, err := SchemaName("acme", template)
	if err != nil {
		t.Fatalf("SchemaName() error = %v", err)
	}
	if got != "tenant_acme" {
		t.Errorf("SchemaName() = %q, want %q", got, "tenant_acme")
	}

	if _, err := SchemaName("1bad", template); err == nil {
		t.Error("expected error for invalid tenant id")
	}
}
