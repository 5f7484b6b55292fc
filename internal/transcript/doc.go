// Package transcript owns transcription session and segment lifecycle.
// Results accumulate in fixed-duration rolling window segments that are
// compressed and persisted on rotation, with word, confidence and service
// cost accounting aggregated per segment and per session.
package transcript
