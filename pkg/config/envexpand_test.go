package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("WAYPLAN_TEST_HOST", "db.internal")
	t.Setenv("WAYPLAN_TEST_PASSWORD", "s3cret")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single variable",
			input: `password: "{{.WAYPLAN_TEST_PASSWORD}}"`,
			want:  `password: "s3cret"`,
		},
		{
			name:  "variable inside a URL",
			input: `base_url: "http://{{.WAYPLAN_TEST_HOST}}/api/v1"`,
			want:  `base_url: "http://db.internal/api/v1"`,
		},
		{
			name:  "missing variable expands to empty",
			input: `password: "{{.WAYPLAN_TEST_ABSENT}}"`,
			want:  `password: ""`,
		},
		{
			name:  "plain dollar signs survive",
			input: `password: "pa$$word$1"`,
			want:  `password: "pa$$word$1"`,
		},
		{
			name:  "no placeholders",
			input: "server:\n  addr: :8080\n",
			want:  "server:\n  addr: :8080\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

func TestExpandEnvMalformedTemplatePassesThrough(t *testing.T) {
	input := []byte(`addr: "{{.UNCLOSED"`)
	assert.Equal(t, input, ExpandEnv(input))
}
