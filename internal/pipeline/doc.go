// Package pipeline orchestrates capture, conversion, streaming and
// transcript ingestion for one voice channel. Captured segments enter a
// bounded drop-oldest queue and are drained on a timer, so capture callbacks
// never block on network I/O; a quality monitor watches loss, staleness and
// confidence.
package pipeline
