package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatToPCM16(t *testing.T) {
	samples := FloatToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	assert.Equal(t, []int16{0, 32767, -32768, 32767, -32768, 16383}, samples)
}

func TestPCM16BytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	assert.Equal(t, in, BytesToPCM16(PCM16ToBytes(in)))
}

func TestEncodeDecodePCM16(t *testing.T) {
	in := []int16{100, -200, 300}
	out, err := DecodePCM16(EncodePCM16(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodePCM16("not base64 ???")
	assert.Error(t, err)
}

func TestSampleArithmetic(t *testing.T) {
	assert.Equal(t, 24000, millisecondsToSamples(1000))
	assert.Equal(t, 24, millisecondsToSamples(1))
	// floors, never rounds
	assert.Equal(t, 0, samplesToMilliseconds(23))
	assert.Equal(t, 1, samplesToMilliseconds(24))
	assert.Equal(t, 1000, samplesToMilliseconds(24000))
}
