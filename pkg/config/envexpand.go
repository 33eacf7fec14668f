package config

import "os"

// ExpandEnv substitutes ${VAR} and $VAR references in raw kenny.yaml bytes
// before YAML parsing, so secrets like an LLM API key or a Postgres DSN
// never need to sit in the config file itself (spec.md §6's config layer).
// A missing variable expands to "" — Validate is what catches a
// required field left empty by an unset variable, not this step.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
