package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Chunk validation limits.
const (
	// MaxChunkSamples guards against malformed frames; no leg produces
	// chunks anywhere near this size (10 s of 24 kHz audio).
	MaxChunkSamples = 240000

	// DefaultSilenceFloor is the peak amplitude below which a chunk is
	// treated as dead air and skipped rather than forwarded.
	DefaultSilenceFloor = 500

	// encodeChunkSamples bounds the number of samples converted per pass
	// so a single oversized frame never produces one huge allocation.
	encodeChunkSamples = 8192
)

// Validation errors.
var (
	ErrEmptyChunk     = errors.New("audio: empty chunk")
	ErrNonFiniteValue = errors.New("audio: non-finite sample")
)

// ChunkTooLargeError reports a frame exceeding the sample-count guard.
type ChunkTooLargeError struct {
	Samples int
	Max     int
}

func (e *ChunkTooLargeError) Error() string {
	return fmt.Sprintf("audio: chunk of %d samples exceeds maximum %d", e.Samples, e.Max)
}

// Float32ToInt16 clips s to [-1, 1] and scales it to the 16-bit signed range.
func Float32ToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7fff)
}

// Int16ToBytes packs samples little-endian, two bytes per sample.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 unpacks little-endian PCM16 bytes. A trailing odd byte is
// dropped.
func BytesToInt16(data []byte) []int16 {
	n := len(data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodePCM16 converts float32 samples to base64-encoded little-endian PCM16.
// Samples are clipped to [-1, 1]; conversion runs in bounded-size chunks.
func EncodePCM16(samples []float32) string {
	buf := make([]byte, 0, len(samples)*2)
	for start := 0; start < len(samples); start += encodeChunkSamples {
		end := start + encodeChunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		for _, s := range samples[start:end] {
			v := uint16(Float32ToInt16(s))
			buf = append(buf, byte(v), byte(v>>8))
		}
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// EncodeInt16 converts PCM16 samples to base64-encoded little-endian bytes.
func EncodeInt16(samples []int16) string {
	return base64.StdEncoding.EncodeToString(Int16ToBytes(samples))
}

// DecodePCM16 reverses EncodePCM16/EncodeInt16 back to PCM16 samples.
func DecodePCM16(encoded string) ([]int16, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("audio: invalid base64 payload: %w", err)
	}
	return BytesToInt16(data), nil
}

// WrapWAV synthesizes a minimal RIFF/WAVE header (PCM format tag 1, mono,
// 16-bit) around raw PCM bytes, for legs that require a self-describing
// container before decode.
func WrapWAV(pcm []byte, sampleRate int) []byte {
	const (
		headerLen     = 44
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	out := make([]byte, headerLen+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:24], numChannels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerLen:], pcm)
	return out
}

// ValidateFloat32Chunk rejects chunks that are empty, exceed the sample
// guard, or contain non-finite samples.
func ValidateFloat32Chunk(samples []float32, maxSamples int) error {
	if maxSamples <= 0 {
		maxSamples = MaxChunkSamples
	}
	if len(samples) == 0 {
		return ErrEmptyChunk
	}
	if len(samples) > maxSamples {
		return &ChunkTooLargeError{Samples: len(samples), Max: maxSamples}
	}
	for _, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return ErrNonFiniteValue
		}
	}
	return nil
}

// ValidateChunk rejects PCM16 chunks that are empty or oversized.
func ValidateChunk(samples []int16, maxSamples int) error {
	if maxSamples <= 0 {
		maxSamples = MaxChunkSamples
	}
	if len(samples) == 0 {
		return ErrEmptyChunk
	}
	if len(samples) > maxSamples {
		return &ChunkTooLargeError{Samples: len(samples), Max: maxSamples}
	}
	return nil
}

// IsSilence reports whether the chunk's peak amplitude stays below the
// silence floor. Silent chunks are skipped, not treated as errors.
func IsSilence(samples []int16, floor int16) bool {
	for _, s := range samples {
		if s > floor || s < -floor {
			return false
		}
	}
	return true
}
