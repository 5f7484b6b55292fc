// Package protocol defines the JSON control messages exchanged with the
// realtime transcription service over its WebSocket interface, and helpers
// for encoding audio frames and decoding inbound service messages.
package protocol
