// Package recognition implements the streaming speech-to-text leg. It speaks
// a Deepgram-style protocol over a transport.Adapter: raw PCM16 frames go out
// as binary messages, transcript events come back as JSON Results with
// interim and final alternatives.
package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/voicebridge-ai/voicebridge/pkg/transport"
)

const (
	// DefaultSampleRate is the wideband rate the recognizer consumes.
	DefaultSampleRate = 16000

	// DefaultModel is the recognizer model requested when none is configured.
	DefaultModel = "nova-2"

	// DefaultKeepAliveInterval keeps the recognizer from closing an idle
	// stream between user turns.
	DefaultKeepAliveInterval = 8 * time.Second
)

// Result is one transcript event from the recognizer.
type Result struct {
	Transcript string
	Confidence float64
	IsFinal    bool
}

// Callbacks receive recognizer events. Nil callbacks are skipped.
type Callbacks struct {
	// OnInterim fires for partial transcripts of the in-progress utterance.
	OnInterim func(Result)

	// OnFinal fires when the recognizer commits an utterance.
	OnFinal func(Result)

	// OnError fires for protocol errors and terminal transport failures.
	OnError func(error)

	// OnClose fires when the leg's connection closes for good.
	OnClose func(code int, reason string)
}

// Config holds recognition leg settings.
type Config struct {
	// URL is the recognizer WebSocket endpoint, without query parameters.
	URL string

	// APIKey authenticates the connection.
	APIKey string

	// SampleRate of the PCM16 audio that will be sent, in Hz.
	SampleRate int

	// Model and Language select the recognizer configuration.
	Model    string
	Language string

	// KeepAliveInterval between protocol-level keepalive messages.
	KeepAliveInterval time.Duration

	// Transport overrides reconnect tuning. URL and Header are filled in
	// from the fields above.
	Transport transport.Config
}

// Leg is a live recognition connection for one session.
type Leg struct {
	config    Config
	callbacks Callbacks
	adapter   *transport.Adapter

	closeOnce sync.Once
	done      chan struct{}
}

// NewLeg creates a recognition leg. Connect must be called before audio is
// sent.
func NewLeg(config Config, callbacks Callbacks) (*Leg, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("recognition: URL is required")
	}
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = DefaultKeepAliveInterval
	}

	endpoint, err := buildURL(config)
	if err != nil {
		return nil, err
	}

	l := &Leg{
		config:    config,
		callbacks: callbacks,
		done:      make(chan struct{}),
	}

	tc := config.Transport
	tc.Name = "Recognition"
	tc.URL = endpoint
	tc.Header = http.Header{}
	if config.APIKey != "" {
		tc.Header.Set("Authorization", "Token "+config.APIKey)
	}

	l.adapter = transport.NewAdapter(tc, transport.Callbacks{
		OnMessage: l.handleMessage,
		OnError: func(err error) {
			if l.callbacks.OnError != nil {
				l.callbacks.OnError(err)
			}
		},
		OnClose: func(code int, reason string) {
			if l.callbacks.OnClose != nil {
				l.callbacks.OnClose(code, reason)
			}
		},
	})

	return l, nil
}

func buildURL(config Config) (string, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return "", fmt.Errorf("recognition: parse URL: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(config.SampleRate))
	q.Set("channels", "1")
	q.Set("model", config.Model)
	q.Set("interim_results", "true")
	if config.Language != "" {
		q.Set("language", config.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the recognizer and starts the keepalive loop.
func (l *Leg) Connect(ctx context.Context) error {
	if err := l.adapter.Connect(ctx); err != nil {
		return err
	}
	go l.keepAliveLoop()
	return nil
}

// SendAudio forwards one PCM16 frame. Returns false if the frame was queued
// rather than sent.
func (l *Leg) SendAudio(pcm []byte) bool {
	return l.adapter.SendBinary(pcm)
}

// Finalize asks the recognizer to flush and commit the in-progress
// utterance. Called when local turn detection declares the turn over.
func (l *Leg) Finalize() {
	l.adapter.Send(controlMessage{Type: "Finalize"})
}

// Close shuts the leg down. Safe to call more than once.
func (l *Leg) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.adapter.Send(controlMessage{Type: "CloseStream"})
		l.adapter.Close()
	})
}

// State exposes the underlying transport state.
func (l *Leg) State() transport.State {
	return l.adapter.State()
}

// Connected reports whether audio sent now will be delivered immediately
// rather than queued for a reconnect.
func (l *Leg) Connected() bool {
	return l.adapter.State() == transport.StateConnected
}

type controlMessage struct {
	Type string `json:"type"`
}

type resultsMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (l *Leg) handleMessage(data []byte) {
	var probe controlMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		if l.callbacks.OnError != nil {
			l.callbacks.OnError(&transport.ParseError{Payload: data, Err: err})
		}
		return
	}

	switch probe.Type {
	case "Results":
		var msg resultsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if l.callbacks.OnError != nil {
				l.callbacks.OnError(&transport.ParseError{Payload: data, Err: err})
			}
			return
		}
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}
		result := Result{
			Transcript: alt.Transcript,
			Confidence: alt.Confidence,
			IsFinal:    msg.IsFinal,
		}
		if result.IsFinal {
			if l.callbacks.OnFinal != nil {
				l.callbacks.OnFinal(result)
			}
		} else if l.callbacks.OnInterim != nil {
			l.callbacks.OnInterim(result)
		}
	case "Metadata", "UtteranceEnd", "SpeechStarted":
		// Informational; turn detection is handled locally.
	default:
		log.Printf("[Recognition] Ignoring message type: %s", probe.Type)
	}
}

func (l *Leg) keepAliveLoop() {
	ticker := time.NewTicker(l.config.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.adapter.Send(controlMessage{Type: "KeepAlive"})
		}
	}
}
