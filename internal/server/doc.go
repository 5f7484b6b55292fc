// Package server exposes the HTTP monitoring API: health, session and
// pipeline statistics, sanitized configuration and Prometheus metrics.
package server
