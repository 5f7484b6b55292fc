// Package transcribe implements the streaming transcription client. It
// maintains a persistent WebSocket session to the transcription service,
// rate-limits outbound audio, filters inbound transcripts by confidence,
// and recovers from unintended disconnects with capped exponential backoff.
package transcribe
