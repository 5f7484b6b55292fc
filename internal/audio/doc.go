// Package audio provides 16-bit PCM signal utilities and streaming format
// conversion. It implements linear-interpolation resampling, mono/stereo
// mixing, RMS level computation, and a chunked converter that falls back to
// an external ffmpeg process for non-integer sample rate ratios.
package audio
