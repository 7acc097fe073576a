package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Annual Revenue":      "annual_revenue",
		"  Lead Source (v2) ": "lead_source_v2",
		"Café Owner":          "cafe_owner",
		"already_slugged":     "already_slugged",
		"---":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestNewIDIsMonotonic(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
	assert.Contains(t, NewBatchID(), "batch_")
}
