package audio

import (
	"fmt"
	"math"
)

const (
	// FullScale is the maximum absolute value of a 16-bit PCM sample.
	FullScale = 32767

	bytesPerSample = 2
)

// SamplesFromPCM converts little-endian 16-bit PCM bytes into samples.
func SamplesFromPCM(data []byte) []int16 {
	samples := make([]int16, len(data)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// PCMFromSamples converts samples back into little-endian 16-bit PCM bytes.
func PCMFromSamples(samples []int16) []byte {
	data := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(uint16(s) >> 8)
	}
	return data
}

// ResampleLinear resamples interleaved 16-bit PCM audio from fromRate to
// toRate using linear interpolation between neighbouring source frames.
// Output length is exactly floor(inputFrames * toRate / fromRate) frames.
func ResampleLinear(data []byte, fromRate, toRate, channels int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", fromRate, toRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}
	if len(data)%(bytesPerSample*channels) != 0 {
		return nil, fmt.Errorf("audio data length %d is not frame aligned for %d channels", len(data), channels)
	}

	if fromRate == toRate {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	samples := SamplesFromPCM(data)
	inFrames := len(samples) / channels
	outFrames := inFrames * toRate / fromRate
	out := make([]int16, outFrames*channels)

	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < outFrames; i++ {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		frac := srcPos - float64(i0)

		for ch := 0; ch < channels; ch++ {
			s0 := float64(samples[i0*channels+ch])
			s1 := float64(samples[i1*channels+ch])
			out[i*channels+ch] = int16(s0 + (s1-s0)*frac)
		}
	}

	return PCMFromSamples(out), nil
}

// MixChannels converts between mono and stereo 16-bit PCM. Stereo to mono
// averages both channels per frame; mono to stereo duplicates the channel.
// Any other conversion is a configuration error.
func MixChannels(data []byte, fromChannels, toChannels int) ([]byte, error) {
	if len(data)%(bytesPerSample*fromChannels) != 0 {
		return nil, fmt.Errorf("audio data length %d is not frame aligned for %d channels", len(data), fromChannels)
	}

	switch {
	case fromChannels == toChannels:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case fromChannels == 2 && toChannels == 1:
		samples := SamplesFromPCM(data)
		frames := len(samples) / 2
		out := make([]int16, frames)
		for i := 0; i < frames; i++ {
			out[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
		}
		return PCMFromSamples(out), nil

	case fromChannels == 1 && toChannels == 2:
		samples := SamplesFromPCM(data)
		out := make([]int16, len(samples)*2)
		for i, s := range samples {
			out[i*2] = s
			out[i*2+1] = s
		}
		return PCMFromSamples(out), nil

	default:
		return nil, fmt.Errorf("unsupported channel conversion: %d -> %d", fromChannels, toChannels)
	}
}

// ComputeLevelDB returns the RMS level of 16-bit PCM audio in dB relative to
// full scale. All-zero input returns negative infinity.
func ComputeLevelDB(data []byte) float64 {
	samples := SamplesFromPCM(data)
	if len(samples) == 0 {
		return math.Inf(-1)
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}

	return 20 * math.Log10(rms/FullScale)
}

// IsSilent reports whether the RMS level of the audio is below thresholdDB.
func IsSilent(data []byte, thresholdDB float64) bool {
	return ComputeLevelDB(data) < thresholdDB
}

// Normalize scales 16-bit PCM audio so its peak reaches targetPeakFraction of
// full scale. The gain is only applied when it falls within [0.1, 10] to avoid
// amplifying near-silent noise; otherwise the input is returned unchanged.
func Normalize(data []byte, targetPeakFraction float64) []byte {
	samples := SamplesFromPCM(data)

	var peak int32
	for _, s := range samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}

	out := make([]byte, len(data))
	copy(out, data)
	if peak == 0 {
		return out
	}

	gain := targetPeakFraction * FullScale / float64(peak)
	if gain < 0.1 || gain > 10 {
		return out
	}

	for i, s := range samples {
		scaled := float64(s) * gain
		if scaled > FullScale {
			scaled = FullScale
		} else if scaled < -FullScale-1 {
			scaled = -FullScale - 1
		}
		samples[i] = int16(scaled)
	}

	return PCMFromSamples(samples)
}
