package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/voicebridge-ai/voicebridge/pkg/conversation"
	"github.com/voicebridge-ai/voicebridge/pkg/generation"
	"github.com/voicebridge-ai/voicebridge/pkg/recognition"
	"github.com/voicebridge-ai/voicebridge/pkg/store"
	"github.com/voicebridge-ai/voicebridge/pkg/trace"
)

// RecognitionOpener dials a recognition leg with the given callbacks wired.
type RecognitionOpener func(ctx context.Context, callbacks recognition.Callbacks) (RecognitionLeg, error)

// TelephonyOpener attaches (or dials) the telephony leg.
type TelephonyOpener func(ctx context.Context) (TelephonyLeg, error)

// Params describes one session to start.
type Params struct {
	// AssistantID selects the assistant configuration from the store.
	AssistantID string
	UserID      string

	// SessionID is assigned when empty.
	SessionID string

	// OpenRecognition and OpenTelephony are optional; a text-only client
	// session has neither leg.
	OpenRecognition RecognitionOpener
	OpenTelephony   TelephonyOpener

	// Generator produces assistant turns. Required.
	Generator generation.Provider

	// Client receives wire messages. Optional.
	Client ClientSink

	HistoryLimit    int
	ThinkingTimeout time.Duration
	SampleRate      int
}

// Session is one live relay session: its conversation state, orchestrator,
// and legs, torn down as a unit.
type Session struct {
	id        string
	params    Params
	state     *conversation.State
	orch      *Orchestrator
	rec       RecognitionLeg
	tel       TelephonyLeg
	manager   *Manager
	span      oteltrace.Span
	endReason string

	stopOnce sync.Once
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's conversation state.
func (s *Session) State() *conversation.State { return s.state }

// Orchestrator returns the session's event loop.
func (s *Session) Orchestrator() *Orchestrator { return s.orch }

// Stop tears the session down: cancels the orchestrator and its timers,
// closes the legs, appends the audit record, and removes the session from
// the registry. Idempotent.
func (s *Session) Stop(reason string) {
	s.stopOnce.Do(func() {
		s.endReason = reason
		log.Printf("[Manager] Stopping session %s (%s)", s.id, reason)

		s.orch.Stop()
		if s.rec != nil {
			s.rec.Close()
		}
		if s.tel != nil {
			s.tel.Close()
		}

		if s.manager.store != nil {
			record := store.CallRecord{
				SessionID:       s.id,
				AssistantID:     s.state.Assistant().ID,
				UserID:          s.params.UserID,
				ExternalCallRef: s.state.ExternalCallRef(),
				StartedAt:       s.state.StartedAt(),
				EndedAt:         time.Now(),
				Interruptions:   s.state.Interruptions(),
				EndReason:       reason,
			}
			if err := s.manager.store.AppendCallRecord(record); err != nil {
				log.Printf("[Manager] Audit append failed for %s: %v", s.id, err)
			}
		}

		if s.span != nil {
			trace.RecordSessionEnd(s.span, reason, s.state.Interruptions())
			s.span.End()
		}

		s.manager.remove(s.id)
	})
}

// Manager owns the session registry. Sessions are explicit values, never
// globals, so multiple managers can coexist in tests.
type Manager struct {
	store store.Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty registry backed by the given store.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st, sessions: make(map[string]*Session)}
}

// Start creates a session: loads the assistant, then opens legs in order
// recognition, generation, telephony, so inbound audio has somewhere to go
// from the first frame. Any open failure unwinds the legs already opened.
func (m *Manager) Start(ctx context.Context, params Params) (*Session, error) {
	if params.Generator == nil {
		return nil, fmt.Errorf("relay: generator is required")
	}

	var assistant conversation.AssistantConfig
	if m.store != nil && params.AssistantID != "" {
		loaded, err := m.store.LoadAssistant(params.AssistantID)
		if err != nil {
			return nil, fmt.Errorf("relay: load assistant %q: %w", params.AssistantID, err)
		}
		assistant = *loaded
	} else {
		assistant = conversation.AssistantConfig{ID: params.AssistantID}
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, span := trace.InstrumentSessionStart(ctx, sessionID, assistant.ID)

	state := conversation.NewState(sessionID, assistant, params.HistoryLimit)

	session := &Session{
		id:      sessionID,
		params:  params,
		state:   state,
		manager: m,
		span:    span,
	}

	orch, err := NewOrchestrator(OrchestratorConfig{
		State:           state,
		Generator:       params.Generator,
		Client:          params.Client,
		Store:           m.store,
		ThinkingTimeout: params.ThinkingTimeout,
		SampleRate:      params.SampleRate,
		OnFatal:         func(reason string) { go session.Stop(reason) },
	})
	if err != nil {
		return nil, err
	}
	session.orch = orch

	// Recognition first.
	if params.OpenRecognition != nil {
		legCtx, legSpan := trace.InstrumentLegConnect(ctx, sessionID, "recognition")
		rec, err := params.OpenRecognition(legCtx, recognition.Callbacks{
			OnInterim: orch.HandleInterimTranscript,
			OnFinal:   orch.HandleFinalTranscript,
			OnError: func(err error) {
				orch.HandleLegError("recognition", err)
			},
		})
		if err != nil {
			trace.RecordError(legSpan, err)
			legSpan.End()
			span.End()
			return nil, fmt.Errorf("relay: open recognition leg: %w", err)
		}
		legSpan.End()
		session.rec = rec
		orch.config.Recognition = rec
	}

	// Telephony last, once there is somewhere for its audio to go.
	if params.OpenTelephony != nil {
		tel, err := params.OpenTelephony(ctx)
		if err != nil {
			if session.rec != nil {
				session.rec.Close()
			}
			span.End()
			return nil, fmt.Errorf("relay: open telephony leg: %w", err)
		}
		session.tel = tel
		orch.config.Telephony = tel
	}

	orch.Start(ctx)

	m.mu.Lock()
	m.sessions[sessionID] = session
	m.mu.Unlock()

	log.Printf("[Manager] Session %s started (assistant: %s)", sessionID, assistant.ID)
	return session, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count reports the live session count.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StopAll tears down every live session.
func (m *Manager) StopAll(reason string) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Stop(reason)
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
