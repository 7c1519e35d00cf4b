package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Valid reports whether f describes a usable stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Convert resamples and remixes pcm from one format to another. Mono and
// stereo are supported in both directions; other channel counts are returned
// unchanged. A trailing partial sample is dropped.
func Convert(pcm []byte, from, to Format) []byte {
	if !from.Valid() || !to.Valid() || from == to {
		return pcm
	}
	samples := decodeSamples(pcm)

	// Resample before upmixing and after downmixing to touch fewer samples.
	if from.Channels == 2 && to.Channels == 1 {
		samples = downmix(samples)
		samples = resample(samples, 1, from.SampleRate, to.SampleRate)
	} else {
		samples = resample(samples, from.Channels, from.SampleRate, to.SampleRate)
		if from.Channels == 1 && to.Channels == 2 {
			samples = upmix(samples)
		}
	}
	return encodeSamples(samples)
}

func decodeSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func encodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// downmix averages interleaved stereo pairs.
func downmix(stereo []int16) []int16 {
	out := make([]int16, len(stereo)/2)
	for i := range out {
		out[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return out
}

// upmix duplicates every mono sample into both channels.
func upmix(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}

// resample converts interleaved samples with the given channel count using
// linear interpolation between neighbouring frames.
func resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || channels <= 0 {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			a := float64(samples[idx*channels+c])
			b := float64(samples[next*channels+c])
			out[i*channels+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}
