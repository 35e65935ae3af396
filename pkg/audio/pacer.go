package audio

import "sync"

// Pacer frame timing. Telephony media streams expect a steady cadence of
// 20 ms frames; synthesized audio arrives in bursts, so the pacer buffers
// and re-slices it.
const (
	pacerFrameMs       = 20
	pacerBytesPerSamp  = 2
	pacerReserveFrames = 100 // ~2 s preallocated
)

// Pacer buffers synthesized PCM and hands it out in fixed 20 ms frames.
// ReadFrame on an empty buffer returns silence so the outbound cadence never
// stalls. Clear drops everything buffered, which is how an interruption
// stops further synthesized audio from reaching the caller.
type Pacer struct {
	buffer        []byte
	bytesPerFrame int
	mu            sync.Mutex
}

// NewPacer creates a pacer for 16-bit mono PCM at sampleRate.
func NewPacer(sampleRate int) *Pacer {
	samplesPerFrame := sampleRate * pacerFrameMs / 1000
	bytesPerFrame := samplesPerFrame * pacerBytesPerSamp
	return &Pacer{
		buffer:        make([]byte, 0, bytesPerFrame*pacerReserveFrames),
		bytesPerFrame: bytesPerFrame,
	}
}

// BytesPerFrame returns the size of one 20 ms frame.
func (p *Pacer) BytesPerFrame() int {
	return p.bytesPerFrame
}

// Write appends PCM bytes to the buffer.
func (p *Pacer) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	p.mu.Lock()
	p.buffer = append(p.buffer, data...)
	p.mu.Unlock()
}

// ReadFrame returns the next 20 ms frame, zero-padded if the buffer holds
// less than a full frame, all-silence if it is empty.
func (p *Pacer) ReadFrame() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame := make([]byte, p.bytesPerFrame)
	if len(p.buffer) == 0 {
		return frame
	}

	n := copy(frame, p.buffer)
	if n >= len(p.buffer) {
		p.buffer = p.buffer[:0]
	} else {
		p.buffer = p.buffer[n:]
	}
	return frame
}

// Len reports buffered bytes not yet read.
func (p *Pacer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Clear drops all buffered audio.
func (p *Pacer) Clear() {
	p.mu.Lock()
	p.buffer = p.buffer[:0]
	p.mu.Unlock()
}
