package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge-ai/voicebridge/pkg/conversation"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAssistantRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := conversation.AssistantConfig{
		ID:           "demo",
		Name:         "Demo Assistant",
		SystemPrompt: "You are helpful.",
		FirstMessage: "Hello! How can I help?",
		VoiceID:      "nova",
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		MaxTokens:    500,
	}
	require.NoError(t, s.SaveAssistant(in))

	out, err := s.LoadAssistant("demo")
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestLoadAssistantNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadAssistant("missing")
	assert.ErrorIs(t, err, ErrAssistantNotFound)
}

func TestAppendCallRecord(t *testing.T) {
	s := newTestStore(t)

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	ended := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.AppendCallRecord(CallRecord{
		SessionID:       "sess-1",
		AssistantID:     "demo",
		ExternalCallRef: "CA-1",
		StartedAt:       started,
		EndedAt:         ended,
		Interruptions:   2,
		EndReason:       "client_disconnect",
	}))

	// Re-appending with the same session ID replaces rather than errors,
	// matching the idempotent-teardown contract.
	require.NoError(t, s.AppendCallRecord(CallRecord{
		SessionID:   "sess-1",
		AssistantID: "demo",
		StartedAt:   started,
		EndedAt:     ended,
		EndReason:   "client_disconnect",
	}))
}

func TestTranscriptOrdering(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC()
	for i, line := range []string{"hello", "hi there", "what time is it"} {
		role := "user"
		if i == 1 {
			role = "assistant"
		}
		require.NoError(t, s.AppendTranscript(TranscriptRecord{
			SessionID: "sess-1",
			Role:      role,
			Content:   line,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.AppendTranscript(TranscriptRecord{
		SessionID: "other", Role: "user", Content: "unrelated", Timestamp: base,
	}))

	got, err := s.TranscriptsForSession("sess-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, "assistant", got[1].Role)
	assert.Equal(t, "what time is it", got[2].Content)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.LoadAssistant("demo")
	assert.ErrorIs(t, err, ErrAssistantNotFound)

	require.NoError(t, s.SaveAssistant(conversation.AssistantConfig{ID: "demo", Name: "Demo"}))
	a, err := s.LoadAssistant("demo")
	require.NoError(t, err)
	assert.Equal(t, "Demo", a.Name)

	require.NoError(t, s.AppendCallRecord(CallRecord{SessionID: "sess-1"}))
	require.NoError(t, s.AppendTranscript(TranscriptRecord{SessionID: "sess-1", Role: "user", Content: "hi"}))
	assert.Len(t, s.CallRecords(), 1)
	assert.Len(t, s.Transcripts(), 1)
}
