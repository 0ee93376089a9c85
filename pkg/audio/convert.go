// Package audio holds the sample-level plumbing in front of the animation
// model: PCM decoding, sample-rate conversion and the sliding window that cuts
// a stream into model-sized pieces.
//
// All samples are mono float32 in [-1, 1].
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// TargetSampleRate is the sample rate, in Hz, that the animation model expects.
const TargetSampleRate = 16000

// Input sample rates accepted by [CheckSampleRate]. The bounds keep the
// resampled length within a small multiple of the input.
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
)

// ErrSampleRate is returned by [CheckSampleRate] for rates outside
// [MinSampleRate, MaxSampleRate].
var ErrSampleRate = errors.New("audio: sample rate out of range")

// CheckSampleRate reports whether rate is an accepted input sample rate.
func CheckSampleRate(rate int) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("%w: %d Hz (want %d..%d)", ErrSampleRate, rate, MinSampleRate, MaxSampleRate)
	}
	return nil
}

// ErrMisaligned is returned by [DecodeFloat32LE] when the byte count is not a
// multiple of four.
var ErrMisaligned = errors.New("audio: pcm byte count is not a multiple of 4")

// Resample converts mono float32 samples from fromRate to toRate using linear
// interpolation. The output holds floor(len(samples)*toRate/fromRate) samples.
// Output sample i reads source position i*fromRate/toRate; positions at or past
// the last source sample repeat the last sample instead of interpolating.
//
// If fromRate == toRate the input slice itself is returned. Non-positive rates
// leave the input unchanged.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 {
		return samples
	}
	if fromRate == toRate {
		return samples
	}
	if len(samples) == 0 {
		return []float32{}
	}

	n := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]float32, n)
	ratio := float64(fromRate) / float64(toRate)
	last := len(samples) - 1

	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// DecodeFloat32LE interprets b as little-endian IEEE-754 float32 samples.
func DecodeFloat32LE(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrMisaligned, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// EncodeFloat32LE is the inverse of [DecodeFloat32LE].
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// Int16ToFloat32 converts little-endian int16 PCM to float32 samples in [-1, 1).
// A trailing odd byte is ignored.
func Int16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}
