// Package config loads and validates gateway configuration from YAML files,
// with ${VAR} environment expansion for secrets.
package config
