package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Slugify Tests
// =============================================================================

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"already-lowercase", "already-lowercase"},
		{"UPPERCASE", "uppercase"},
		{"Test123", "test123"},
		{"api.v2 (ci)", "api-v2-ci"},
		{"keep_under_scores", "keep_under_scores"},
		{"_scratch", "scratch"},
		{"--leading", "leading"},
		{"", ""},
		{"!@#$%^&*()", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestSlugify_Idempotent(t *testing.T) {
	for _, in := range []string{"My App 2.0!", "itest", "a b.c_d"} {
		once := Slugify(in)
		assert.Equal(t, once, Slugify(once))
	}
}
