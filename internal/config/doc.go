// Package config defines the application configuration structure and its
// loading logic. Configuration comes from environment variables with the
// TUNEVAULT_ prefix and an optional config.yaml file, with struct-level
// validation applied after loading.
package config
