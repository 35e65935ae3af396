package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuLawKnownValues(t *testing.T) {
	// Silence encodes to 0xFF, full negative scale decodes to the table floor.
	assert.Equal(t, byte(0xFF), MuLawEncodeSample(0))
	assert.Equal(t, int16(0), MuLawDecodeSample(0xFF))
	assert.Equal(t, int16(-32124), MuLawDecodeSample(0x00))
	assert.Equal(t, int16(32124), MuLawDecodeSample(0x80))
}

func TestMuLawDecodeEncodeRoundTrip(t *testing.T) {
	// Every μ-law code except the two zero representations survives a
	// decode/encode cycle exactly.
	for b := 0; b < 256; b++ {
		if b == 0x7F { // negative zero collapses onto 0xFF
			continue
		}
		pcm := MuLawDecodeSample(byte(b))
		back := MuLawEncodeSample(pcm)
		assert.Equal(t, byte(b), back, "code 0x%02X (pcm %d)", b, pcm)
	}
}

func TestMuLawQuantizationError(t *testing.T) {
	// Logarithmic quantization: error grows with magnitude but stays within
	// the segment step size.
	for _, s := range []int16{0, 1, -1, 50, -50, 500, -500, 4000, -4000, 20000, -20000, 32124, -32124} {
		decoded := MuLawDecodeSample(MuLawEncodeSample(s))
		diff := int(decoded) - int(s)
		if diff < 0 {
			diff = -diff
		}
		tolerance := int(s) / 8
		if tolerance < 0 {
			tolerance = -tolerance
		}
		if tolerance < 64 {
			tolerance = 64
		}
		assert.LessOrEqual(t, diff, tolerance, "sample %d decoded to %d", s, decoded)
	}
}

func TestMuLawBufferConversion(t *testing.T) {
	mulaw := []byte{0x00, 0x7F, 0xFF, 0x80, 0x42}
	pcm := MuLawToPCM16(mulaw)
	require.Len(t, pcm, len(mulaw))

	back := PCM16ToMuLaw(pcm)
	require.Len(t, back, len(mulaw))
	for i := range mulaw {
		if mulaw[i] == 0x7F {
			assert.Equal(t, byte(0xFF), back[i])
			continue
		}
		assert.Equal(t, mulaw[i], back[i], "index %d", i)
	}
}
