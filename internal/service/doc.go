// Package service is the composition glue between capture, pipeline and
// transcript storage. The external command gateway drives it to start,
// pause, resume and stop per-channel recording chains; it also bridges
// component events into Prometheus metrics.
package service
