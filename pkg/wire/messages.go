// Package wire defines the client-facing streaming protocol: the JSON
// messages exchanged with a consumer over its persistent duplex connection.
// Two audio framings appear in the wild, the telephony-style
// {event:"media"} envelope and the realtime-style input_audio_buffer.append;
// ParseClientMessage normalizes both to a single AudioAppend.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message types.
const (
	TypeStart       = "start"
	TypeTextInput   = "text_input"
	TypeTranscript  = "transcript"
	TypePing        = "ping"
	TypeAudioAppend = "input_audio_buffer.append"
	EventMedia      = "media"
)

// Outbound message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeAIResponse            = "ai_response"
	TypeTextDelta             = "response.text.delta"
	TypeAudioResponse         = "audio_response"
	TypeAudioDelta            = "response.audio.delta"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Message is any parsed inbound client message.
type Message interface {
	// Kind returns the normalized message type.
	Kind() string
}

// Start begins a session.
type Start struct {
	AssistantID string `json:"assistantId"`
	UserID      string `json:"userId,omitempty"`
}

func (Start) Kind() string { return TypeStart }

// TextInput carries typed (non-audio) user input. Both "text_input" and
// "transcript" inbound types normalize to this.
type TextInput struct {
	Text string `json:"text"`
}

func (TextInput) Kind() string { return TypeTextInput }

// Ping is a client liveness probe.
type Ping struct{}

func (Ping) Kind() string { return TypePing }

// AudioAppend carries one chunk of caller audio, decoded from base64.
type AudioAppend struct {
	Audio []byte
}

func (AudioAppend) Kind() string { return TypeAudioAppend }

// UnknownMessageError reports an inbound message whose type is not part of
// the protocol.
type UnknownMessageError struct {
	Type string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("wire: unknown message type %q", e.Type)
}

type inboundEnvelope struct {
	Type  string `json:"type"`
	Event string `json:"event"`

	AssistantID string `json:"assistantId"`
	UserID      string `json:"userId"`
	Text        string `json:"text"`
	Audio       string `json:"audio"`
	Media       *struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// ParseClientMessage decodes one inbound JSON message into its typed form.
func ParseClientMessage(data []byte) (Message, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode message: %w", err)
	}

	// Telephony-style framing uses "event" instead of "type".
	if env.Event == EventMedia {
		if env.Media == nil {
			return nil, fmt.Errorf("wire: media message missing payload")
		}
		audio, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("wire: decode media payload: %w", err)
		}
		return AudioAppend{Audio: audio}, nil
	}

	switch env.Type {
	case TypeStart:
		return Start{AssistantID: env.AssistantID, UserID: env.UserID}, nil
	case TypeTextInput, TypeTranscript:
		return TextInput{Text: env.Text}, nil
	case TypePing:
		return Ping{}, nil
	case TypeAudioAppend:
		audio, err := base64.StdEncoding.DecodeString(env.Audio)
		if err != nil {
			return nil, fmt.Errorf("wire: decode audio: %w", err)
		}
		return AudioAppend{Audio: audio}, nil
	default:
		return nil, &UnknownMessageError{Type: env.Type}
	}
}

// AssistantInfo is the assistant summary sent on session establishment.
type AssistantInfo struct {
	Name         string `json:"name"`
	FirstMessage string `json:"first_message,omitempty"`
}

// ConnectionEstablished acknowledges a Start message.
type ConnectionEstablished struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId"`
	Assistant AssistantInfo `json:"assistant"`
}

// NewConnectionEstablished builds the session acknowledgement.
func NewConnectionEstablished(sessionID, name, firstMessage string) ConnectionEstablished {
	return ConnectionEstablished{
		Type:      TypeConnectionEstablished,
		SessionID: sessionID,
		Assistant: AssistantInfo{Name: name, FirstMessage: firstMessage},
	}
}

// AIResponse carries assistant text, either a complete utterance
// (ai_response) or an incremental delta (response.text.delta).
type AIResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewAIResponse builds a complete-utterance text message.
func NewAIResponse(text string) AIResponse {
	return AIResponse{Type: TypeAIResponse, Text: text}
}

// NewTextDelta builds an incremental text delta.
func NewTextDelta(text string) AIResponse {
	return AIResponse{Type: TypeTextDelta, Text: text}
}

// AudioResponse carries base64 synthesized audio, either a chunk of a
// buffered response (audio_response) or a streaming delta
// (response.audio.delta).
type AudioResponse struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewAudioResponse builds a buffered audio message from raw bytes.
func NewAudioResponse(audio []byte) AudioResponse {
	return AudioResponse{Type: TypeAudioResponse, Audio: base64.StdEncoding.EncodeToString(audio)}
}

// NewAudioDelta builds a streaming audio delta from raw bytes.
func NewAudioDelta(audio []byte) AudioResponse {
	return AudioResponse{Type: TypeAudioDelta, Audio: base64.StdEncoding.EncodeToString(audio)}
}

// Pong answers a Ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewPong builds a pong stamped with the current Unix milliseconds.
func NewPong() Pong {
	return Pong{Type: TypePong, Timestamp: time.Now().UnixMilli()}
}

// ErrorMessage surfaces a session error to the client.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewError builds an error message.
func NewError(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Error: msg}
}
