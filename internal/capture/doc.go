// Package capture turns per-speaker speaking signals and raw PCM chunks from
// the voice transport into discrete utterance segments. Each voice channel
// gets at most one recording session; each speaker gets a bounded buffer that
// closes on trailing silence, a byte ceiling, or idle eviction.
package capture
