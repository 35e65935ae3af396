// Package server hosts the relay: the client-facing WebSocket endpoint, the
// telephony media-stream endpoint, and a health check.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge-ai/voicebridge/pkg/audio"
	"github.com/voicebridge-ai/voicebridge/pkg/generation"
	"github.com/voicebridge-ai/voicebridge/pkg/recognition"
	"github.com/voicebridge-ai/voicebridge/pkg/relay"
	"github.com/voicebridge-ai/voicebridge/pkg/store"
	"github.com/voicebridge-ai/voicebridge/pkg/wire"
)

// Server hosts the relay endpoints.
type Server struct {
	config   *Config
	store    store.Store
	manager  *relay.Manager
	provider generation.Provider

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// New creates a server backed by the OpenAI provider. The store is owned by
// the caller.
func New(config *Config, st store.Store) (*Server, error) {
	provider, err := generation.NewOpenAIProvider(generation.OpenAIConfig{
		APIKey: config.OpenAIAPIKey,
	})
	if err != nil {
		return nil, err
	}
	return NewWithProvider(config, st, provider), nil
}

// NewWithProvider creates a server with an explicit generation provider.
func NewWithProvider(config *Config, st store.Store, provider generation.Provider) *Server {
	s := &Server{
		config:   config,
		store:    st,
		manager:  relay.NewManager(st),
		provider: provider,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleClient)
	mux.HandleFunc("/media", s.handleMedia)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Manager exposes the session registry.
func (s *Server) Manager() *relay.Manager {
	return s.manager
}

// ListenAndServe blocks serving requests.
func (s *Server) ListenAndServe() error {
	log.Printf("[Server] Listening on %s (mode: %s)", s.config.Address, s.config.RelayMode)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops all sessions and the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.manager.StopAll("server_shutdown")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.manager.Count(),
	})
}

// authorized checks the bearer credential. Token may also arrive as a query
// parameter for clients that cannot set headers on WebSocket dials.
func (s *Server) authorized(r *http.Request) bool {
	if s.config.AuthToken == "" {
		return true
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, prefix) && header[len(prefix):] == s.config.AuthToken {
		return true
	}
	return r.URL.Query().Get("token") == s.config.AuthToken
}

// clientConn adapts a client WebSocket to the relay's sink interface.
// gorilla connections require synchronized writes.
type clientConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *clientConn) Send(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		log.Printf("[Server] Client write failed: %v", err)
		return false
	}
	return true
}

func (c *clientConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	c.ws.Close()
}

func (c *clientConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

// clientSession is one live client conversation, either a split-mode relay
// session or a collapsed realtime session.
type clientSession interface {
	ID() string
	Established() wire.ConnectionEstablished
	Greet()
	HandleText(text string)
	HandleAudio(audio []byte)
	Stop(reason string)
}

// splitSession adapts a relay session to the client loop.
type splitSession struct {
	sess *relay.Session
}

func (s *splitSession) ID() string { return s.sess.ID() }

func (s *splitSession) Established() wire.ConnectionEstablished {
	assistant := s.sess.State().Assistant()
	return wire.NewConnectionEstablished(s.sess.ID(), assistant.Name, assistant.FirstMessage)
}

func (s *splitSession) Greet() { s.sess.Orchestrator().SpeakGreeting() }

func (s *splitSession) HandleText(text string) { s.sess.Orchestrator().HandleTextInput(text) }

func (s *splitSession) HandleAudio(data []byte) {
	s.sess.Orchestrator().HandleUserAudio(audio.BytesToInt16(data))
}

func (s *splitSession) Stop(reason string) { s.sess.Stop(reason) }

// handleClient serves the consumer-facing wire protocol.
func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	authorized := s.authorized(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] Upgrade failed: %v", err)
		return
	}
	client := &clientConn{ws: ws}

	// Authorization failures are terminal: an explicit close code, never a
	// retry.
	if !authorized {
		log.Printf("[Server] Unauthorized client from %s", r.RemoteAddr)
		client.close(relay.CloseUnauthorized, "unauthorized")
		return
	}

	var (
		session   clientSession
		sessionMu sync.Mutex
	)
	getSession := func() clientSession {
		sessionMu.Lock()
		defer sessionMu.Unlock()
		return session
	}

	heartbeat := relay.NewHeartbeat(s.config.HeartbeatInterval, client.ping, func() {
		client.close(relay.CloseHeartbeatTimeout, "heartbeat timeout")
		if sess := getSession(); sess != nil {
			sess.Stop("heartbeat_timeout")
		}
	})
	ws.SetPongHandler(func(string) error {
		heartbeat.Pong()
		return nil
	})
	heartbeat.Start()

	defer func() {
		heartbeat.Stop()
		if sess := getSession(); sess != nil {
			sess.Stop("client_disconnect")
		}
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Server] Client read error: %v", err)
			}
			return
		}
		heartbeat.Pong()

		msg, err := wire.ParseClientMessage(data)
		if err != nil {
			client.Send(wire.NewError(err.Error()))
			continue
		}

		switch msg := msg.(type) {
		case wire.Start:
			sessionMu.Lock()
			if session != nil {
				sessionMu.Unlock()
				client.Send(wire.NewError("session already started"))
				continue
			}
			sess, err := s.startClientSession(r.Context(), msg, client)
			if err != nil {
				sessionMu.Unlock()
				log.Printf("[Server] Session start failed: %v", err)
				client.Send(wire.NewError(fmt.Sprintf("failed to start session: %v", err)))
				continue
			}
			session = sess
			sessionMu.Unlock()

			client.Send(sess.Established())
			sess.Greet()

		case wire.TextInput:
			if sess := getSession(); sess != nil {
				sess.HandleText(msg.Text)
			}

		case wire.AudioAppend:
			if sess := getSession(); sess != nil {
				sess.HandleAudio(msg.Audio)
			}

		case wire.Ping:
			client.Send(wire.NewPong())
		}
	}
}

func (s *Server) startClientSession(ctx context.Context, start wire.Start, client relay.ClientSink) (clientSession, error) {
	if s.config.RelayMode == RelayModeRealtime {
		return s.startRealtimeSession(ctx, start, client)
	}

	params := relay.Params{
		AssistantID:     start.AssistantID,
		UserID:          start.UserID,
		Generator:       s.provider,
		Client:          client,
		HistoryLimit:    s.config.HistoryLimit,
		ThinkingTimeout: s.config.ThinkingTimeout,
	}
	if s.config.RecognitionURL != "" {
		params.OpenRecognition = s.openRecognition
	}
	sess, err := s.manager.Start(ctx, params)
	if err != nil {
		return nil, err
	}
	return &splitSession{sess: sess}, nil
}

func (s *Server) openRecognition(ctx context.Context, callbacks recognition.Callbacks) (relay.RecognitionLeg, error) {
	leg, err := recognition.NewLeg(recognition.Config{
		URL:    s.config.RecognitionURL,
		APIKey: s.config.RecognitionAPIKey,
	}, callbacks)
	if err != nil {
		return nil, err
	}
	if err := leg.Connect(ctx); err != nil {
		return nil, err
	}
	return leg, nil
}
