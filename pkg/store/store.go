// Package store persists assistant configurations and call audit records.
// The relay treats it as a fire-and-forget collaborator: persistence
// failures are logged, never allowed to disturb a live call.
package store

import (
	"errors"
	"time"

	"github.com/voicebridge-ai/voicebridge/pkg/conversation"
)

// ErrAssistantNotFound is returned when no assistant matches the requested
// identifier.
var ErrAssistantNotFound = errors.New("store: assistant not found")

// CallRecord is the audit row appended at session teardown.
type CallRecord struct {
	SessionID       string
	AssistantID     string
	UserID          string
	ExternalCallRef string
	StartedAt       time.Time
	EndedAt         time.Time
	Interruptions   int
	EndReason       string
}

// TranscriptRecord is one persisted transcript line.
type TranscriptRecord struct {
	SessionID string
	Role      string
	Content   string
	Timestamp time.Time
}

// Store loads assistant configuration and appends call audit data.
type Store interface {
	// LoadAssistant fetches an assistant by ID, ErrAssistantNotFound if
	// absent.
	LoadAssistant(id string) (*conversation.AssistantConfig, error)

	// AppendCallRecord writes the session audit row.
	AppendCallRecord(record CallRecord) error

	// AppendTranscript writes one transcript line.
	AppendTranscript(record TranscriptRecord) error

	// Close releases the backing resources.
	Close() error
}
