package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// syntax, {{.VAR_NAME}}. Plain $ stays untouched, so passwords and patterns
// containing it survive expansion.
//
// Examples:
//   - password: "{{.WAYPLAN_DB_PASSWORD}}"
//   - base_url: "http://{{.AI_GATEWAY_HOST}}/api/v1"
//
// Missing variables expand to an empty string; validation catches required
// settings that end up empty. Malformed templates pass the content through
// unchanged so the YAML parser produces the error message.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
