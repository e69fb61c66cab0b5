package config

import (
	"os"
	"regexp"
)

// envVarPattern matches "${VAR}" references inside config string values.
// Only the single braced form is supported; job configs don't need
// default-value or bare-$VAR variants.
var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// expandEnvVars replaces "${VAR}" references in s with the corresponding
// environment variable's value (empty string if unset).
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// expandEnvVarsInData recursively expands "${VAR}" references in any string
// values found in a decoded YAML/JSON document.
func expandEnvVarsInData(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		return expandEnvVars(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = expandEnvVarsInData(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = expandEnvVarsInData(val)
		}
		return out
	default:
		return v
	}
}
