package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerFrameSize(t *testing.T) {
	p := NewPacer(8000)
	// 20ms at 8kHz mono 16-bit: 8000 * 0.02 * 2 = 320 bytes
	assert.Equal(t, 320, p.BytesPerFrame())
}

func TestPacerEmptyReturnsSilence(t *testing.T) {
	p := NewPacer(8000)
	frame := p.ReadFrame()
	require.Len(t, frame, p.BytesPerFrame())
	for _, b := range frame {
		assert.Equal(t, byte(0), b)
	}
}

func TestPacerSlicesFrames(t *testing.T) {
	p := NewPacer(8000)
	data := make([]byte, p.BytesPerFrame()*2+10)
	for i := range data {
		data[i] = byte(i%255 + 1)
	}
	p.Write(data)

	first := p.ReadFrame()
	assert.Equal(t, data[:p.BytesPerFrame()], first)

	second := p.ReadFrame()
	assert.Equal(t, data[p.BytesPerFrame():p.BytesPerFrame()*2], second)

	// Remainder is zero-padded to a full frame.
	third := p.ReadFrame()
	require.Len(t, third, p.BytesPerFrame())
	assert.Equal(t, data[p.BytesPerFrame()*2:], third[:10])
	for _, b := range third[10:] {
		assert.Equal(t, byte(0), b)
	}

	assert.Equal(t, 0, p.Len())
}

func TestPacerClear(t *testing.T) {
	p := NewPacer(8000)
	p.Write(make([]byte, 1000))
	p.Clear()
	assert.Equal(t, 0, p.Len())
}
