package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge-ai/voicebridge/pkg/conversation"
	"github.com/voicebridge-ai/voicebridge/pkg/generation"
	"github.com/voicebridge-ai/voicebridge/pkg/relay"
	"github.com/voicebridge-ai/voicebridge/pkg/store"
	"github.com/voicebridge-ai/voicebridge/pkg/wire"
)

// scriptedProvider answers every generation with a fixed response.
type scriptedProvider struct {
	response string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req generation.Request) (*generation.Stream, error) {
	w := generation.NewStreamWriter()
	go func() {
		w.Write(p.response)
		w.Close(nil)
	}()
	return w.Stream(), nil
}

func (p *scriptedProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return []byte{0x01, 0x00}, nil
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	st := store.NewMemoryStore()
	require.NoError(t, st.SaveAssistant(conversation.AssistantConfig{
		ID:           "demo",
		Name:         "Demo Assistant",
		FirstMessage: "Hello! How can I help?",
	}))

	config := &Config{
		Address:           ":0",
		OpenAIAPIKey:      "test-key",
		RelayMode:         RelayModeSplit,
		HeartbeatInterval: time.Second,
		ThinkingTimeout:   5 * time.Second,
		HistoryLimit:      20,
	}
	if mutate != nil {
		mutate(config)
	}

	srv := NewWithProvider(config, st, &scriptedProvider{response: "Hi there!"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestUnauthorizedClosedWith4001(t *testing.T) {
	_, ts := newTestServer(t, func(c *Config) { c.AuthToken = "secret" })

	ws := dialWS(t, ts, "/ws", nil)
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, relay.CloseUnauthorized, closeErr.Code)
}

func TestRawHeaderTokenRejected(t *testing.T) {
	_, ts := newTestServer(t, func(c *Config) { c.AuthToken = "secret" })

	// The token matches but the scheme prefix is missing.
	header := http.Header{"Authorization": []string{"secret"}}
	ws := dialWS(t, ts, "/ws", header)
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, relay.CloseUnauthorized, closeErr.Code)
}

func TestAuthorizedViaQueryToken(t *testing.T) {
	_, ts := newTestServer(t, func(c *Config) { c.AuthToken = "secret" })

	ws := dialWS(t, ts, "/ws?token=secret", nil)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "ping"}))
	msg := readMessage(t, ws)
	assert.Equal(t, wire.TypePong, msg["type"])
}

func TestAuthorizedViaBearerHeader(t *testing.T) {
	_, ts := newTestServer(t, func(c *Config) { c.AuthToken = "secret" })

	header := http.Header{"Authorization": []string{"Bearer secret"}}
	ws := dialWS(t, ts, "/ws", header)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "ping"}))
	msg := readMessage(t, ws)
	assert.Equal(t, wire.TypePong, msg["type"])
}

func TestClientSessionHappyPath(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	ws := dialWS(t, ts, "/ws", nil)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "start", "assistantId": "demo"}))

	est := readMessage(t, ws)
	assert.Equal(t, wire.TypeConnectionEstablished, est["type"])
	assistant := est["assistant"].(map[string]any)
	assert.Equal(t, "Demo Assistant", assistant["name"])
	assert.Equal(t, "Hello! How can I help?", assistant["first_message"])
	assert.Equal(t, 1, srv.Manager().Count())

	// Greeting arrives as a complete response.
	var sawGreeting bool
	for i := 0; i < 10 && !sawGreeting; i++ {
		msg := readMessage(t, ws)
		if msg["type"] == wire.TypeAIResponse && msg["text"] == "Hello! How can I help?" {
			sawGreeting = true
		}
	}
	require.True(t, sawGreeting, "greeting never arrived")

	// Text input produces deltas, one complete response, and audio.
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "text_input", "text": "hello"}))

	var sawResponse, sawAudio bool
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !(sawResponse && sawAudio) {
		msg := readMessage(t, ws)
		switch msg["type"] {
		case wire.TypeAIResponse:
			if msg["text"] == "Hi there!" {
				sawResponse = true
			}
		case wire.TypeAudioResponse:
			sawAudio = true
		}
	}
	assert.True(t, sawResponse, "no complete response")
	assert.True(t, sawAudio, "no audio response")
}

func TestClientDisconnectTearsDownSession(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	ws := dialWS(t, ts, "/ws", nil)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "start", "assistantId": "demo"}))
	readMessage(t, ws) // connection_established

	ws.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Manager().Count() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session not torn down after disconnect")
}

func TestUnknownMessageReturnsError(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dialWS(t, ts, "/ws", nil)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "bogus"}))
	msg := readMessage(t, ws)
	assert.Equal(t, wire.TypeError, msg["type"])
}

func TestDoubleStartRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dialWS(t, ts, "/ws", nil)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "start", "assistantId": "demo"}))
	readMessage(t, ws) // connection_established

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "start", "assistantId": "demo"}))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg := readMessage(t, ws)
		if msg["type"] == wire.TypeError {
			assert.Contains(t, msg["error"], "already started")
			return
		}
	}
	t.Fatal("second start not rejected")
}

func TestUnknownAssistantRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dialWS(t, ts, "/ws", nil)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "start", "assistantId": "missing"}))
	msg := readMessage(t, ws)
	assert.Equal(t, wire.TypeError, msg["type"])
}

func TestConfigLoad(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("RELAY_MODE", "split")
	t.Setenv("RESPONSE_TIMEOUT_SEC", "45")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Address)
	assert.Equal(t, 45*time.Second, cfg.ThinkingTimeout)
	assert.Equal(t, 20, cfg.HistoryLimit)
}

func TestConfigLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestConfigLoadRejectsBadMode(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("RELAY_MODE", "bogus")
	_, err := Load()
	assert.Error(t, err)
}
