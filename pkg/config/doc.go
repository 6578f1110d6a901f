// Package config loads and validates the YAML configuration for the
// airthings CLI and polling daemon, with environment overrides for
// credentials and an fsnotify-based reload watcher for long-running use.
package config
