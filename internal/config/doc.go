// Package config handles session client configuration loading with
// environment variable substitution.
//
// Files are YAML by default; a .toml extension selects TOML. Both support
// ${VAR} interpolation before parsing.
package config
