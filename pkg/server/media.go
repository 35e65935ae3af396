package server

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/voicebridge-ai/voicebridge/pkg/relay"
	"github.com/voicebridge-ai/voicebridge/pkg/telephony"
)

// handleMedia serves the telephony provider's media-stream protocol. The
// session is created when the provider's start event arrives, because only
// that event carries the call metadata and assistant selection.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] Media upgrade failed: %v", err)
		return
	}

	var (
		conn      *telephony.Conn
		session   *relay.Session
		sessionMu sync.Mutex
	)
	getSession := func() *relay.Session {
		sessionMu.Lock()
		defer sessionMu.Unlock()
		return session
	}

	conn = telephony.NewConn(ws, telephony.Callbacks{
		OnStart: func(info telephony.StreamInfo) {
			assistantID := info.CustomParameters["assistantId"]
			userID := info.CustomParameters["userId"]

			params := relay.Params{
				AssistantID:     assistantID,
				UserID:          userID,
				Generator:       s.provider,
				HistoryLimit:    s.config.HistoryLimit,
				ThinkingTimeout: s.config.ThinkingTimeout,
				SampleRate:      telephony.StreamSampleRate,
				OpenTelephony: func(ctx context.Context) (relay.TelephonyLeg, error) {
					// Already upgraded and live; nothing to dial.
					return conn, nil
				},
			}
			if s.config.RecognitionURL != "" {
				params.OpenRecognition = s.openRecognition
			}

			sess, err := s.manager.Start(context.Background(), params)
			if err != nil {
				log.Printf("[Server] Media session start failed for call %s: %v", info.CallRef, err)
				conn.Close()
				return
			}
			sess.State().SetExternalCallRef(info.CallRef)

			sessionMu.Lock()
			session = sess
			sessionMu.Unlock()

			sess.Orchestrator().SpeakGreeting()
		},
		OnAudio: func(samples []int16) {
			if sess := getSession(); sess != nil {
				sess.Orchestrator().HandleUserAudio(samples)
			}
		},
		OnDTMF: func(digit string) {
			// Surfaced as a user turn so the assistant can react to keypad
			// input.
			if sess := getSession(); sess != nil {
				sess.Orchestrator().HandleTextInput("[keypad] " + digit)
			}
		},
		OnStop: func() {
			if sess := getSession(); sess != nil {
				sess.Stop("provider_stop")
			}
		},
		OnError: func(err error) {
			if sess := getSession(); sess != nil {
				sess.Orchestrator().HandleLegError("telephony", err)
			}
		},
	})

	conn.Start()
}
