package realtime

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// DefaultFrequency is the sample rate of all protocol audio: 24kHz mono
// little-endian PCM16.
const DefaultFrequency = 24_000

// FloatToPCM16 clamps samples to [-1, 1] and scales them to the full int16
// range.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7fff)
		}
	}
	return out
}

// PCM16ToBytes serializes samples as little-endian PCM.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 reads little-endian PCM. A trailing odd byte is dropped.
func BytesToPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// EncodePCM16 is the wire representation of an int16 sample buffer.
func EncodePCM16(samples []int16) string {
	return base64.StdEncoding.EncodeToString(PCM16ToBytes(samples))
}

// EncodeFloat32 converts float samples to PCM16 and base64-encodes them.
func EncodeFloat32(samples []float32) string {
	return EncodePCM16(FloatToPCM16(samples))
}

// EncodeBytes base64-encodes raw little-endian PCM16 bytes.
func EncodeBytes(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePCM16 decodes a base64 audio payload into int16 samples.
func DecodePCM16(encoded string) ([]int16, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return BytesToPCM16(data), nil
}

// millisecondsToSamples floors a millisecond offset to a sample index at
// DefaultFrequency.
func millisecondsToSamples(ms int) int {
	return ms * DefaultFrequency / 1000
}

// samplesToMilliseconds floors a sample count to milliseconds at
// DefaultFrequency.
func samplesToMilliseconds(samples int) int {
	return samples * 1000 / DefaultFrequency
}
