package audio

// Transcoder converts frames between the telephony sample rate and the AI
// endpoint's sample rate. It holds no mutable state and is safe to use
// concurrently from multiple sessions.
type Transcoder struct {
	// TelephonyRate is the PBX media sample rate in Hz (slin16 = 16000).
	TelephonyRate int

	// AIRate is the AI endpoint's PCM16 sample rate in Hz (24000 for the
	// OpenAI Realtime API).
	AIRate int
}

// NewTranscoder returns a Transcoder for the two sample rates actually
// exchanged by the bridge.
func NewTranscoder(telephonyRate, aiRate int) *Transcoder {
	return &Transcoder{
		TelephonyRate: telephonyRate,
		AIRate:        aiRate,
	}
}

// ToAIFormat converts a telephony frame to the AI endpoint's raw PCM16 bytes.
// The frame must be mono at the telephony rate; anything else is rejected
// with a *FormatError.
func (t *Transcoder) ToAIFormat(f Frame) ([]byte, error) {
	if f.Channels != 1 {
		return nil, &FormatError{Reason: "unexpected channel count", SampleRate: f.SampleRate, Channels: f.Channels}
	}
	if f.SampleRate != t.TelephonyRate {
		return nil, &FormatError{Reason: "unexpected sample rate", SampleRate: f.SampleRate, Channels: f.Channels}
	}
	return SamplesToBytes(Resample(f.Samples, t.TelephonyRate, t.AIRate)), nil
}

// FromAIFormat converts raw PCM16 bytes from the AI endpoint into a mono
// telephony-rate frame. Odd-length payloads are not a whole number of
// samples and are rejected with a *FormatError.
func (t *Transcoder) FromAIFormat(data []byte) (Frame, error) {
	if len(data)%2 != 0 {
		return Frame{}, &FormatError{Reason: "payload is not 16-bit aligned"}
	}
	samples := Resample(BytesToSamples(data), t.AIRate, t.TelephonyRate)
	return Frame{
		Samples:    samples,
		SampleRate: t.TelephonyRate,
		Channels:   1,
	}, nil
}

// Resample converts audio from one sample rate to another using linear
// interpolation. This is a simple resampler suitable for speech audio.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)
	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			// Linear interpolation
			s1 := float64(samples[srcIdx])
			s2 := float64(samples[srcIdx+1])
			result[i] = int16(s1 + frac*(s2-s1))
		}
	}

	return result
}
