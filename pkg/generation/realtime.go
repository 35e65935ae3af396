package generation

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"

	openairt "github.com/WqyJh/go-openai-realtime"
)

// RealtimeConfig holds settings for the collapsed realtime session.
type RealtimeConfig struct {
	// APIKey is required.
	APIKey string

	// SystemPrompt seeds the session instructions.
	SystemPrompt string

	// Voice selects the synthesized voice (default shimmer).
	Voice openairt.Voice

	// VADThreshold and SilenceDurationMs tune the vendor's server-side turn
	// detection.
	VADThreshold      float64
	SilenceDurationMs int

	// MaxOutputTokens caps each response (0 = vendor default).
	MaxOutputTokens int
}

// RealtimeCallbacks receive session events. Nil callbacks are skipped.
type RealtimeCallbacks struct {
	// OnAudioDelta fires for each synthesized PCM16 24kHz chunk.
	OnAudioDelta func(audio []byte)

	// OnTextDelta fires for each transcript delta of the assistant's speech.
	OnTextDelta func(text string)

	// OnResponseDone fires when a response finishes, with the full
	// transcript.
	OnResponseDone func(transcript string)

	// OnUserTranscript fires when the vendor finishes transcribing a user
	// utterance.
	OnUserTranscript func(transcript string)

	// OnSpeechStarted fires when the vendor's VAD hears the user start
	// talking. The session has already begun discarding the in-flight
	// response; the caller must flush its own playback.
	OnSpeechStarted func()

	// OnError fires for vendor error events.
	OnError func(error)
}

// RealtimeLeg is a collapsed generation leg: one bidirectional session that
// handles recognition, generation, and synthesis on the vendor side.
type RealtimeLeg struct {
	config    RealtimeConfig
	callbacks RealtimeCallbacks

	conn      *openairt.Conn
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu         sync.Mutex
	transcript string
}

// NewRealtimeLeg creates the leg. Connect must be called before use.
func NewRealtimeLeg(config RealtimeConfig, callbacks RealtimeCallbacks) (*RealtimeLeg, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("generation: realtime API key is required")
	}
	if config.Voice == "" {
		config.Voice = openairt.VoiceShimmer
	}
	if config.VADThreshold <= 0 {
		config.VADThreshold = 0.7
	}
	if config.SilenceDurationMs <= 0 {
		config.SilenceDurationMs = 800
	}
	return &RealtimeLeg{config: config, callbacks: callbacks}, nil
}

// Connect dials the vendor session and configures it.
func (l *RealtimeLeg) Connect(ctx context.Context) error {
	client := openairt.NewClient(l.config.APIKey)
	conn, err := client.Connect(ctx)
	if err != nil {
		return fmt.Errorf("generation: realtime connect: %w", err)
	}
	l.conn = conn

	handlerCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	connHandler := openairt.NewConnHandler(handlerCtx, conn, l.handleEvent)
	connHandler.Start()

	if err := conn.SendMessage(ctx, openairt.SessionUpdateEvent{Session: l.sessionConfig()}); err != nil {
		l.Close()
		return fmt.Errorf("generation: realtime session update: %w", err)
	}
	return nil
}

// sessionConfig builds the vendor session settings from the leg config.
func (l *RealtimeLeg) sessionConfig() openairt.ClientSession {
	session := openairt.ClientSession{
		Modalities:        []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
		Voice:             l.config.Voice,
		OutputAudioFormat: openairt.AudioFormatPcm16,
		TurnDetection: &openairt.ClientTurnDetection{
			Type: openairt.ClientTurnDetectionTypeServerVad,
			TurnDetectionParams: openairt.TurnDetectionParams{
				Threshold:         l.config.VADThreshold,
				SilenceDurationMs: l.config.SilenceDurationMs,
			},
		},
	}
	if l.config.SystemPrompt != "" {
		session.Instructions = l.config.SystemPrompt
	}
	if l.config.MaxOutputTokens > 0 {
		session.MaxOutputTokens = openairt.IntOrInf(l.config.MaxOutputTokens)
	}
	return session
}

// AppendAudio forwards one PCM16 chunk of caller audio into the session.
func (l *RealtimeLeg) AppendAudio(ctx context.Context, pcm []byte) error {
	if l.conn == nil {
		return fmt.Errorf("generation: realtime leg not connected")
	}
	return l.conn.SendMessage(ctx, openairt.InputAudioBufferAppendEvent{
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendText injects a user text turn and requests a response.
func (l *RealtimeLeg) SendText(ctx context.Context, text string) error {
	if l.conn == nil {
		return fmt.Errorf("generation: realtime leg not connected")
	}
	err := l.conn.SendMessage(ctx, openairt.ConversationItemCreateEvent{
		Item: openairt.MessageItem{
			Type: openairt.MessageItemTypeMessage,
			Role: openairt.MessageRoleUser,
			Content: []openairt.MessageContentPart{
				{Type: openairt.MessageContentTypeInputText, Text: text},
			},
		},
	})
	if err != nil {
		return err
	}
	return l.conn.SendMessage(ctx, openairt.ResponseCreateEvent{})
}

// Cancel aborts the in-flight response. Used on interruption.
func (l *RealtimeLeg) Cancel(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	return l.conn.SendMessage(ctx, openairt.ResponseCancelEvent{})
}

// Close tears the session down. Safe to call more than once.
func (l *RealtimeLeg) Close() {
	l.closeOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		if l.conn != nil {
			if err := l.conn.Close(); err != nil {
				log.Printf("[RealtimeLeg] Close error: %v", err)
			}
		}
	})
}

func (l *RealtimeLeg) handleEvent(ctx context.Context, event openairt.ServerEvent) {
	switch event.ServerEventType() {
	case openairt.ServerEventTypeResponseAudioDelta:
		msg := event.(openairt.ResponseAudioDeltaEvent)
		data, err := base64.StdEncoding.DecodeString(msg.Delta)
		if err != nil {
			if l.callbacks.OnError != nil {
				l.callbacks.OnError(fmt.Errorf("generation: decode audio delta: %w", err))
			}
			return
		}
		if l.callbacks.OnAudioDelta != nil {
			l.callbacks.OnAudioDelta(data)
		}

	case openairt.ServerEventTypeResponseAudioTranscriptDelta:
		msg := event.(openairt.ResponseAudioTranscriptDeltaEvent)
		l.mu.Lock()
		l.transcript += msg.Delta
		l.mu.Unlock()
		if l.callbacks.OnTextDelta != nil {
			l.callbacks.OnTextDelta(msg.Delta)
		}

	case openairt.ServerEventTypeResponseDone:
		l.mu.Lock()
		transcript := l.transcript
		l.transcript = ""
		l.mu.Unlock()
		if l.callbacks.OnResponseDone != nil {
			l.callbacks.OnResponseDone(transcript)
		}

	case openairt.ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		msg := event.(openairt.ConversationItemInputAudioTranscriptionCompletedEvent)
		if l.callbacks.OnUserTranscript != nil {
			l.callbacks.OnUserTranscript(msg.Transcript)
		}

	case openairt.ServerEventTypeInputAudioBufferSpeechStarted:
		if l.callbacks.OnSpeechStarted != nil {
			l.callbacks.OnSpeechStarted()
		}

	case openairt.ServerEventTypeError:
		msg := event.(openairt.ErrorEvent)
		if l.callbacks.OnError != nil {
			l.callbacks.OnError(fmt.Errorf("generation: realtime: %s", msg.Error.Message))
		}
	}
}
