// Package config loads and validates YAML configuration for the
// coordinator and agent binaries, with ${ENV} expansion and defaults for
// every tuning duration.
package config
