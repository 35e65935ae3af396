// Package conversation holds the authoritative in-memory record for one call
// session: rolling transcript history, turn status, and interruption
// counters. Pure data plus mutation methods; no I/O. The state is consumed
// and mutated exclusively by the session's orchestrator.
package conversation

import (
	"sync"
	"time"
)

// DefaultHistoryLimit bounds the transcript entries retained (and therefore
// the context sent to the generation leg).
const DefaultHistoryLimit = 20

// TurnState tracks who owns the conversational floor.
type TurnState int

const (
	// TurnIdle - nobody speaking.
	TurnIdle TurnState = iota
	// TurnListening - user audio arriving, recognition leg active.
	TurnListening
	// TurnThinking - final transcript received, generation leg invoked,
	// waiting for the first token or audio delta.
	TurnThinking
	// TurnSpeaking - assistant audio streaming to the telephony leg.
	TurnSpeaking
	// TurnFailed - terminal; a leg failed and the session is tearing down.
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnListening:
		return "listening"
	case TurnThinking:
		return "thinking"
	case TurnSpeaking:
		return "speaking"
	case TurnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Role identifies a transcript entry's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one transcript line.
type Entry struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// AssistantConfig is loaded once at session start and immutable for the
// session's lifetime.
type AssistantConfig struct {
	ID           string
	Name         string
	SystemPrompt string
	FirstMessage string
	VoiceID      string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// State is the per-session mutable record.
type State struct {
	sessionID string
	assistant AssistantConfig

	historyLimit int

	mu              sync.RWMutex
	turnState       TurnState
	history         []Entry
	interruptions   int
	externalCallRef string
	lastActivityAt  time.Time
	startedAt       time.Time
}

// NewState creates the record for one session. historyLimit <= 0 selects
// DefaultHistoryLimit.
func NewState(sessionID string, assistant AssistantConfig, historyLimit int) *State {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	now := time.Now()
	return &State{
		sessionID:      sessionID,
		assistant:      assistant,
		historyLimit:   historyLimit,
		turnState:      TurnIdle,
		lastActivityAt: now,
		startedAt:      now,
	}
}

// SessionID returns the immutable session identifier.
func (s *State) SessionID() string {
	return s.sessionID
}

// Assistant returns the immutable assistant configuration.
func (s *State) Assistant() AssistantConfig {
	return s.assistant
}

// StartedAt returns the session creation time.
func (s *State) StartedAt() time.Time {
	return s.startedAt
}

// TurnState returns the current turn status.
func (s *State) TurnState() TurnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turnState
}

// SetTurnState moves to a new turn status and refreshes the activity clock.
func (s *State) SetTurnState(state TurnState) {
	s.mu.Lock()
	s.turnState = state
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// AppendTranscript records an entry, evicting the oldest entries first once
// the bounded history is full.
func (s *State) AppendTranscript(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.history = append(s.history, entry)
	if overflow := len(s.history) - s.historyLimit; overflow > 0 {
		s.history = append(s.history[:0], s.history[overflow:]...)
	}
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// History returns a copy of the transcript, oldest first.
func (s *State) History() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryLen reports the number of retained entries.
func (s *State) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// IncrementInterruption bumps the interruption counter and returns the new
// value.
func (s *State) IncrementInterruption() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptions++
	return s.interruptions
}

// Interruptions returns the number of times the user spoke over the
// assistant.
func (s *State) Interruptions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interruptions
}

// SetExternalCallRef records the identifier assigned by the telephony
// provider once the call is accepted.
func (s *State) SetExternalCallRef(ref string) {
	s.mu.Lock()
	s.externalCallRef = ref
	s.mu.Unlock()
}

// ExternalCallRef returns the telephony provider's call identifier, empty
// until assigned.
func (s *State) ExternalCallRef() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.externalCallRef
}

// Touch refreshes the activity clock; called on every inbound or outbound
// event.
func (s *State) Touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent event.
func (s *State) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}
