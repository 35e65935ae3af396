package audio

import "sync"

// RingBuffer is a fixed-capacity circular byte buffer with oldest-drop
// semantics. The relay uses it to hold caller audio during a recognition-leg
// reconnect window: writes past capacity overwrite the oldest audio so memory
// and replay latency stay bounded.
type RingBuffer struct {
	data     []byte
	capacity int
	writePos int
	size     int
	mu       sync.Mutex
}

// NewRingBuffer sizes a buffer for durationMs of 16-bit mono PCM at
// sampleRate.
func NewRingBuffer(sampleRate, durationMs int) *RingBuffer {
	capacity := sampleRate * durationMs / 1000 * 2
	if capacity < 2 {
		capacity = 2
	}
	return &RingBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends data, overwriting the oldest bytes when full.
func (rb *RingBuffer) Write(data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if n == 0 {
		return
	}

	if n >= rb.capacity {
		copy(rb.data, data[n-rb.capacity:])
		rb.writePos = 0
		rb.size = rb.capacity
		return
	}

	tail := rb.capacity - rb.writePos
	if n <= tail {
		copy(rb.data[rb.writePos:], data)
		rb.writePos = (rb.writePos + n) % rb.capacity
	} else {
		copy(rb.data[rb.writePos:], data[:tail])
		copy(rb.data, data[tail:])
		rb.writePos = n - tail
	}

	rb.size += n
	if rb.size > rb.capacity {
		rb.size = rb.capacity
	}
}

// Drain returns the buffered bytes in write order and resets the buffer.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.size)
	if rb.size == rb.capacity {
		// Oldest byte sits at writePos once the buffer has wrapped.
		n := copy(out, rb.data[rb.writePos:])
		copy(out[n:], rb.data[:rb.writePos])
	} else {
		copy(out, rb.data[:rb.size])
	}

	rb.writePos = 0
	rb.size = 0
	return out
}

// Len reports the number of buffered bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Reset discards all buffered bytes.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writePos = 0
	rb.size = 0
}
