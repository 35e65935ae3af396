// Package vad provides silence-based voice activity detection for turn
// taking. The detector watches the caller's PCM stream and reports when
// speech starts (used to detect interruptions) and when a trailing silence
// window elapses (used to commit the recognition leg and end the turn).
//
// Time is derived from sample counts, not the wall clock, so detection is
// deterministic and testable without real audio timing.
package vad

import (
	"time"

	"github.com/voicebridge-ai/voicebridge/pkg/audio"
)

// Defaults tuned for narrowband telephony input.
const (
	DefaultSampleRate        = 8000
	DefaultSilenceFloor      = audio.DefaultSilenceFloor
	DefaultSilenceDuration   = 800 * time.Millisecond
	DefaultMinSpeechDuration = 100 * time.Millisecond
)

// EventType identifies a detector transition.
type EventType int

const (
	SpeechStart EventType = iota
	SpeechEnd
)

func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Event is emitted by Process when the detector changes state. Offset is the
// stream position (derived from samples consumed) at which the transition
// occurred.
type Event struct {
	Type   EventType
	Offset time.Duration
}

// Config holds detector tuning.
type Config struct {
	// SampleRate of the inbound stream in Hz.
	SampleRate int

	// SilenceFloor is the peak amplitude at or below which a chunk counts
	// as silence.
	SilenceFloor int16

	// SilenceDuration is the trailing-silence window that ends a turn.
	SilenceDuration time.Duration

	// MinSpeechDuration debounces SpeechStart so a single noisy chunk does
	// not open a turn.
	MinSpeechDuration time.Duration
}

// Detector is a stateful silence-threshold VAD. Not safe for concurrent use;
// each session owns one.
type Detector struct {
	config Config

	position   time.Duration // stream clock
	speaking   bool
	speechRun  time.Duration
	silenceRun time.Duration
}

// NewDetector creates a detector, filling zero config fields with defaults.
func NewDetector(config Config) *Detector {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.SilenceFloor <= 0 {
		config.SilenceFloor = DefaultSilenceFloor
	}
	if config.SilenceDuration <= 0 {
		config.SilenceDuration = DefaultSilenceDuration
	}
	if config.MinSpeechDuration <= 0 {
		config.MinSpeechDuration = DefaultMinSpeechDuration
	}
	return &Detector{config: config}
}

// Process consumes one chunk of PCM16 samples and returns any transitions it
// caused, in order.
func (d *Detector) Process(samples []int16) []Event {
	if len(samples) == 0 {
		return nil
	}

	chunk := time.Duration(len(samples)) * time.Second / time.Duration(d.config.SampleRate)
	d.position += chunk

	var events []Event
	if audio.IsSilence(samples, d.config.SilenceFloor) {
		d.speechRun = 0
		if d.speaking {
			d.silenceRun += chunk
			if d.silenceRun >= d.config.SilenceDuration {
				d.speaking = false
				d.silenceRun = 0
				events = append(events, Event{Type: SpeechEnd, Offset: d.position})
			}
		}
		return events
	}

	d.silenceRun = 0
	if !d.speaking {
		d.speechRun += chunk
		if d.speechRun >= d.config.MinSpeechDuration {
			d.speaking = true
			d.speechRun = 0
			events = append(events, Event{Type: SpeechStart, Offset: d.position})
		}
	}
	return events
}

// Speaking reports whether the detector currently considers the caller to be
// mid-utterance.
func (d *Detector) Speaking() bool {
	return d.speaking
}

// Reset clears all detector state, keeping configuration.
func (d *Detector) Reset() {
	d.position = 0
	d.speaking = false
	d.speechRun = 0
	d.silenceRun = 0
}
