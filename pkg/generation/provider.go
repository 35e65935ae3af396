// Package generation implements the language and speech generation leg in
// its two shapes: a split pipeline (streaming text completion followed by a
// text-to-speech call) and a collapsed realtime session that accepts audio
// and returns synthesized audio directly.
package generation

import (
	"context"
	"fmt"
	"sync"
)

// SynthesisSampleRate is the PCM rate returned by Synthesize.
const SynthesisSampleRate = 24000

// Message is one turn of context passed to the model.
type Message struct {
	Role    string
	Content string
}

// Request describes one generation invocation.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
}

// Stream delivers incremental text from a generation invocation. Read Deltas
// until it closes, then check Err.
type Stream struct {
	deltas chan string
	err    error
}

func newStream() *Stream {
	return &Stream{deltas: make(chan string, 16)}
}

// Deltas returns the channel of incremental text. Closed when the response
// completes or fails.
func (s *Stream) Deltas() <-chan string {
	return s.deltas
}

// Err reports the terminal error, if any. Valid only after Deltas closes.
func (s *Stream) Err() error {
	return s.err
}

// StreamWriter is the producing side of a Stream, for providers that push
// deltas from their own event loops rather than pulling an HTTP stream.
type StreamWriter struct {
	stream *Stream
	once   sync.Once
}

// NewStreamWriter creates a connected writer/stream pair.
func NewStreamWriter() *StreamWriter {
	return &StreamWriter{stream: newStream()}
}

// Stream returns the consuming side.
func (w *StreamWriter) Stream() *Stream {
	return w.stream
}

// Write pushes one delta. Blocks if the consumer is behind.
func (w *StreamWriter) Write(delta string) {
	w.stream.deltas <- delta
}

// Close finishes the stream with an optional terminal error. Safe to call
// more than once.
func (w *StreamWriter) Close(err error) {
	w.once.Do(func() {
		w.stream.err = err
		close(w.stream.deltas)
	})
}

// Provider produces assistant text and speech.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// Generate starts a streaming completion. The returned Stream is
	// abandoned (and the underlying request cancelled via ctx) when the
	// invocation is superseded by an interruption.
	Generate(ctx context.Context, req Request) (*Stream, error)

	// Synthesize converts text to PCM16 mono audio at SynthesisSampleRate.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Error wraps a provider failure with the provider's name.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation: %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
