package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicebridge-ai/voicebridge/pkg/conversation"
	"github.com/voicebridge-ai/voicebridge/pkg/generation"
	"github.com/voicebridge-ai/voicebridge/pkg/relay"
	"github.com/voicebridge-ai/voicebridge/pkg/store"
	"github.com/voicebridge-ai/voicebridge/pkg/wire"
)

// realtimeSession serves one client in collapsed mode: recognition,
// generation, and synthesis all run inside a single vendor session, so there
// is no orchestrator. The vendor's server-side VAD owns turn taking; this
// type only translates between the client wire protocol and the vendor leg,
// and keeps the same conversation state and audit trail as split mode.
type realtimeSession struct {
	id     string
	state  *conversation.State
	leg    *generation.RealtimeLeg
	client relay.ClientSink
	store  store.Store

	stopOnce sync.Once
}

func (s *Server) startRealtimeSession(ctx context.Context, start wire.Start, client relay.ClientSink) (*realtimeSession, error) {
	assistant, err := s.store.LoadAssistant(start.AssistantID)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	state := conversation.NewState(sessionID, *assistant, s.config.HistoryLimit)

	rs := &realtimeSession{
		id:     sessionID,
		state:  state,
		client: client,
		store:  s.store,
	}

	leg, err := generation.NewRealtimeLeg(generation.RealtimeConfig{
		APIKey:          s.config.OpenAIAPIKey,
		SystemPrompt:    assistant.SystemPrompt,
		MaxOutputTokens: assistant.MaxTokens,
	}, generation.RealtimeCallbacks{
		OnAudioDelta: func(pcm []byte) {
			state.SetTurnState(conversation.TurnSpeaking)
			client.Send(wire.NewAudioDelta(pcm))
		},
		OnTextDelta: func(delta string) {
			client.Send(wire.NewTextDelta(delta))
		},
		OnResponseDone: func(transcript string) {
			if transcript != "" {
				rs.appendTranscript(conversation.RoleAssistant, transcript)
				client.Send(wire.NewAIResponse(transcript))
			}
			state.SetTurnState(conversation.TurnIdle)
		},
		OnUserTranscript: func(transcript string) {
			rs.appendTranscript(conversation.RoleUser, transcript)
		},
		OnSpeechStarted: func() {
			// The vendor has already cancelled its in-flight response.
			if state.TurnState() == conversation.TurnSpeaking || state.TurnState() == conversation.TurnThinking {
				state.IncrementInterruption()
			}
			state.SetTurnState(conversation.TurnListening)
		},
		OnError: func(err error) {
			log.Printf("[Server] Realtime session %s: %v", sessionID, err)
			client.Send(wire.NewError(err.Error()))
		},
	})
	if err != nil {
		return nil, err
	}
	if err := leg.Connect(ctx); err != nil {
		return nil, err
	}
	rs.leg = leg

	log.Printf("[Server] Realtime session %s started (assistant: %s)", sessionID, assistant.ID)
	return rs, nil
}

func (rs *realtimeSession) ID() string { return rs.id }

func (rs *realtimeSession) Established() wire.ConnectionEstablished {
	assistant := rs.state.Assistant()
	return wire.NewConnectionEstablished(rs.id, assistant.Name, assistant.FirstMessage)
}

// Greet sends the assistant's first message as text. The vendor session
// synthesizes its own audio, so the greeting is not spoken here.
func (rs *realtimeSession) Greet() {
	first := rs.state.Assistant().FirstMessage
	if first == "" {
		return
	}
	rs.appendTranscript(conversation.RoleAssistant, first)
	rs.client.Send(wire.NewAIResponse(first))
}

func (rs *realtimeSession) HandleText(text string) {
	rs.state.Touch()
	rs.appendTranscript(conversation.RoleUser, text)
	rs.state.SetTurnState(conversation.TurnThinking)
	if err := rs.leg.SendText(context.Background(), text); err != nil {
		log.Printf("[Server] Realtime text send failed: %v", err)
		rs.client.Send(wire.NewError("failed to send text input"))
	}
}

func (rs *realtimeSession) HandleAudio(audio []byte) {
	rs.state.Touch()
	if err := rs.leg.AppendAudio(context.Background(), audio); err != nil {
		log.Printf("[Server] Realtime audio send failed: %v", err)
	}
}

func (rs *realtimeSession) Stop(reason string) {
	rs.stopOnce.Do(func() {
		log.Printf("[Server] Stopping realtime session %s (%s)", rs.id, reason)
		rs.leg.Close()

		record := store.CallRecord{
			SessionID:     rs.id,
			AssistantID:   rs.state.Assistant().ID,
			StartedAt:     rs.state.StartedAt(),
			EndedAt:       time.Now(),
			Interruptions: rs.state.Interruptions(),
			EndReason:     reason,
		}
		if err := rs.store.AppendCallRecord(record); err != nil {
			log.Printf("[Server] Audit append failed for %s: %v", rs.id, err)
		}
	})
}

func (rs *realtimeSession) appendTranscript(role conversation.Role, content string) {
	rs.state.AppendTranscript(conversation.Entry{Role: role, Content: content})
	go func() {
		if err := rs.store.AppendTranscript(store.TranscriptRecord{
			SessionID: rs.id,
			Role:      string(role),
			Content:   content,
			Timestamp: time.Now(),
		}); err != nil {
			log.Printf("[Server] Transcript append failed for %s: %v", rs.id, err)
		}
	}()
}
