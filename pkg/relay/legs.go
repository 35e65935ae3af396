// Package relay contains the turn-taking orchestrator, the session
// lifecycle manager, and the heartbeat monitor. The orchestrator is the
// state machine that decides, per inbound audio chunk or transcript event,
// whether to forward, buffer, or trigger a generation cycle, and enforces
// the ordering guarantee between "stop current playback" and "resume
// capturing user audio" on interruption.
package relay

import "errors"

// WebSocket close codes used by the session host.
const (
	// CloseUnauthorized rejects a session before it starts. Never retried.
	CloseUnauthorized = 4001

	// CloseHeartbeatTimeout force-closes a client that stopped answering
	// pings.
	CloseHeartbeatTimeout = 4002
)

// ErrGenerationTimeout marks a generation cycle that produced no first token
// within the response timeout. It triggers the fallback utterance, not
// session termination.
var ErrGenerationTimeout = errors.New("relay: generation timed out")

// TelephonyLeg is the outbound audio surface of a session.
type TelephonyLeg interface {
	// SendAudio queues PCM16 samples for playback.
	SendAudio(samples []int16, sampleRate int)

	// Clear flushes all queued and buffered playback. Called on
	// interruption.
	Clear() error

	// SendMark requests a playback-position echo.
	SendMark(name string) error

	// Close releases the leg. Safe to call more than once.
	Close()
}

// RecognitionLeg is the speech-to-text surface of a session.
type RecognitionLeg interface {
	// SendAudio forwards one PCM16 frame. Returns false if the leg queued
	// it instead of sending.
	SendAudio(pcm []byte) bool

	// Finalize commits the in-progress utterance.
	Finalize()

	// Connected reports whether the leg can currently deliver audio.
	Connected() bool

	// Close shuts the leg down.
	Close()
}

// ClientSink delivers wire messages to the consumer-facing connection.
type ClientSink interface {
	// Send serializes and transmits one outbound message.
	Send(v any) bool
}
