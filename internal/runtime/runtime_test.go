package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]string
		ok   bool
	}{
		{
			name: "all labels present",
			raw: map[string]string{
				LabelManagedBy:    ManagedByValue,
				LabelTenantID:     "u1",
				LabelInstanceName: "alpha",
			},
			ok: true,
		},
		{
			name: "missing managed_by",
			raw: map[string]string{
				LabelTenantID:     "u1",
				LabelInstanceName: "alpha",
			},
			ok: false,
		},
		{
			name: "empty tenant_id",
			raw: map[string]string{
				LabelManagedBy:    ManagedByValue,
				LabelTenantID:     "",
				LabelInstanceName: "alpha",
			},
			ok: false,
		},
		{
			name: "missing instance_name",
			raw: map[string]string{
				LabelManagedBy: ManagedByValue,
				LabelTenantID:  "u1",
			},
			ok: false,
		},
		{
			name: "no labels at all",
			raw:  map[string]string{},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, ok := ParseLabels(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, "u1", labels.TenantID)
				assert.Equal(t, "alpha", labels.InstanceName)
			} else {
				assert.Equal(t, Labels{}, labels)
			}
		})
	}
}

func TestLabelsRoundTrip(t *testing.T) {
	original := Labels{
		ManagedBy:    ManagedByValue,
		TenantID:     "tenant42",
		InstanceName: "my_bot",
	}

	parsed, ok := ParseLabels(original.Map())
	assert.True(t, ok)
	assert.Equal(t, original, parsed)
}
