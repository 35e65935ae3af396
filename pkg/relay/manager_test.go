package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge-ai/voicebridge/pkg/conversation"
	"github.com/voicebridge-ai/voicebridge/pkg/recognition"
	"github.com/voicebridge-ai/voicebridge/pkg/store"
)

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveAssistant(conversation.AssistantConfig{
		ID:           "demo",
		Name:         "Demo",
		FirstMessage: "Hello!",
	}))
	return st
}

func TestManagerStartAndStop(t *testing.T) {
	st := seededStore(t)
	m := NewManager(st)

	rec := &fakeRecognition{rec: &recorder{}, connected: true}
	session, err := m.Start(context.Background(), Params{
		AssistantID: "demo",
		UserID:      "u-1",
		Generator:   &fakeGenerator{},
		Client:      &fakeClient{},
		OpenRecognition: func(ctx context.Context, cb recognition.Callbacks) (RecognitionLeg, error) {
			return rec, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, "Demo", session.State().Assistant().Name)

	session.Stop("client_disconnect")
	assert.Equal(t, 0, m.Count())

	records := st.CallRecords()
	require.Len(t, records, 1)
	assert.Equal(t, session.ID(), records[0].SessionID)
	assert.Equal(t, "demo", records[0].AssistantID)
	assert.Equal(t, "u-1", records[0].UserID)
	assert.Equal(t, "client_disconnect", records[0].EndReason)
}

func TestSessionStopIdempotent(t *testing.T) {
	st := seededStore(t)
	m := NewManager(st)

	session, err := m.Start(context.Background(), Params{
		AssistantID: "demo",
		Generator:   &fakeGenerator{},
	})
	require.NoError(t, err)

	session.Stop("first")
	session.Stop("second")
	session.Stop("third")

	records := st.CallRecords()
	require.Len(t, records, 1, "teardown must run exactly once")
	assert.Equal(t, "first", records[0].EndReason)
}

func TestSessionStopClosesTelephonyLeg(t *testing.T) {
	st := seededStore(t)
	m := NewManager(st)

	events := &recorder{}
	tel := &fakeTelephony{rec: events}
	session, err := m.Start(context.Background(), Params{
		AssistantID: "demo",
		Generator:   &fakeGenerator{},
		OpenTelephony: func(ctx context.Context) (TelephonyLeg, error) {
			return tel, nil
		},
	})
	require.NoError(t, err)

	session.Stop("provider_stop")
	assert.Contains(t, events.entries(), "tel:close",
		"telephony leg must be released with the session")
}

func TestManagerStartUnknownAssistant(t *testing.T) {
	m := NewManager(store.NewMemoryStore())
	_, err := m.Start(context.Background(), Params{
		AssistantID: "missing",
		Generator:   &fakeGenerator{},
	})
	assert.ErrorIs(t, err, store.ErrAssistantNotFound)
}

func TestManagerStartUnwindsOnTelephonyFailure(t *testing.T) {
	st := seededStore(t)
	m := NewManager(st)

	recClosed := make(chan struct{}, 1)
	rec := &closableRecognition{onClose: func() { recClosed <- struct{}{} }}

	_, err := m.Start(context.Background(), Params{
		AssistantID: "demo",
		Generator:   &fakeGenerator{},
		OpenRecognition: func(ctx context.Context, cb recognition.Callbacks) (RecognitionLeg, error) {
			return rec, nil
		},
		OpenTelephony: func(ctx context.Context) (TelephonyLeg, error) {
			return nil, assert.AnError
		},
	})
	require.Error(t, err)
	assert.Equal(t, 0, m.Count())

	select {
	case <-recClosed:
	case <-time.After(time.Second):
		t.Fatal("recognition leg not closed after telephony open failure")
	}
}

func TestManagerFatalLegErrorTearsDown(t *testing.T) {
	st := seededStore(t)
	m := NewManager(st)

	session, err := m.Start(context.Background(), Params{
		AssistantID: "demo",
		Generator:   &fakeGenerator{},
		Client:      &fakeClient{},
	})
	require.NoError(t, err)

	session.Orchestrator().HandleLegError("recognition", assert.AnError)

	waitUntil(t, func() bool { return m.Count() == 0 }, "session never torn down")
	records := st.CallRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "recognition_leg_failure", records[0].EndReason)
}

func TestManagerStopAll(t *testing.T) {
	st := seededStore(t)
	m := NewManager(st)

	for i := 0; i < 3; i++ {
		_, err := m.Start(context.Background(), Params{
			AssistantID: "demo",
			Generator:   &fakeGenerator{},
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Count())

	m.StopAll("shutdown")
	assert.Equal(t, 0, m.Count())
	assert.Len(t, st.CallRecords(), 3)
}

// closableRecognition tracks Close for unwind tests.
type closableRecognition struct {
	onClose func()
}

func (c *closableRecognition) SendAudio(pcm []byte) bool { return true }
func (c *closableRecognition) Finalize()                 {}
func (c *closableRecognition) Connected() bool           { return true }
func (c *closableRecognition) Close() {
	if c.onClose != nil {
		c.onClose()
	}
}
