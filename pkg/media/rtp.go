package media

// RTP carries L16 audio in network byte order (RFC 3551); in-memory samples
// are host int16. These helpers convert between the two.

// payloadToSamples decodes a big-endian L16 RTP payload into samples.
func payloadToSamples(payload []byte) []int16 {
	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(payload[i*2])<<8 | int16(payload[i*2+1])
	}
	return samples
}

// samplesToPayload encodes samples as a big-endian L16 RTP payload.
func samplesToPayload(samples []int16) []byte {
	payload := make([]byte, len(samples)*2)
	for i, s := range samples {
		payload[i*2] = byte(s >> 8)
		payload[i*2+1] = byte(s)
	}
	return payload
}
