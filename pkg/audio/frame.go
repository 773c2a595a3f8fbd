// Package audio provides PCM16 frame types and pure transcoding between the
// telephony media format and the AI endpoint's wire format.
package audio

import (
	"fmt"
	"time"
)

// Frame is a fixed-duration chunk of PCM16 audio. Frames are immutable once
// produced; Seq carries the owning cursor value at send time so stale audio
// can be detected after a cancellation.
type Frame struct {
	// Samples contains PCM16 audio samples (little-endian in memory).
	Samples []int16

	// SampleRate is the sample rate of this frame in Hz.
	SampleRate int

	// Channels is the number of audio channels.
	Channels int

	// Seq is the source sequence counter value at send time.
	Seq uint64
}

// Bytes returns the raw little-endian bytes of the frame.
func (f *Frame) Bytes() []byte {
	return SamplesToBytes(f.Samples)
}

// Duration returns the playback duration of this frame.
func (f *Frame) Duration() time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	secs := float64(len(f.Samples)) / float64(f.SampleRate*f.Channels)
	return time.Duration(secs * float64(time.Second))
}

// FormatError reports an audio frame that does not match the expected format.
// Frames that fail format checks are dropped and logged; they never abort a
// session.
type FormatError struct {
	Reason     string
	SampleRate int
	Channels   int
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.SampleRate != 0 || e.Channels != 0 {
		return fmt.Sprintf("audio: %s (rate=%d channels=%d)", e.Reason, e.SampleRate, e.Channels)
	}
	return "audio: " + e.Reason
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// RMS returns the mean-square energy of a frame's samples, normalized to
// 0..1 against full scale. The interruption detector thresholds on this.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples)) / (32767 * 32767)
}
