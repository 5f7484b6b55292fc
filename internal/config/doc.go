// Package config handles loading and validation of the service configuration.
// Configuration is read from a YAML file and validated section by section so
// that misconfiguration fails fast at startup.
package config
