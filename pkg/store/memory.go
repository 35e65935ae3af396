package store

import (
	"sync"

	"github.com/voicebridge-ai/voicebridge/pkg/conversation"
)

// MemoryStore is an in-memory Store used in tests and when no database path
// is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	assistants  map[string]conversation.AssistantConfig
	calls       []CallRecord
	transcripts []TranscriptRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assistants: make(map[string]conversation.AssistantConfig)}
}

// SaveAssistant inserts or replaces an assistant configuration.
func (s *MemoryStore) SaveAssistant(a conversation.AssistantConfig) error {
	s.mu.Lock()
	s.assistants[a.ID] = a
	s.mu.Unlock()
	return nil
}

// LoadAssistant fetches an assistant by ID.
func (s *MemoryStore) LoadAssistant(id string) (*conversation.AssistantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assistants[id]
	if !ok {
		return nil, ErrAssistantNotFound
	}
	return &a, nil
}

// AppendCallRecord records the session audit row.
func (s *MemoryStore) AppendCallRecord(record CallRecord) error {
	s.mu.Lock()
	s.calls = append(s.calls, record)
	s.mu.Unlock()
	return nil
}

// AppendTranscript records one transcript line.
func (s *MemoryStore) AppendTranscript(record TranscriptRecord) error {
	s.mu.Lock()
	s.transcripts = append(s.transcripts, record)
	s.mu.Unlock()
	return nil
}

// CallRecords returns a copy of the recorded calls.
func (s *MemoryStore) CallRecords() []CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CallRecord, len(s.calls))
	copy(out, s.calls)
	return out
}

// Transcripts returns a copy of the recorded transcript lines.
func (s *MemoryStore) Transcripts() []TranscriptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TranscriptRecord, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
