// Package transport manages a single outbound streaming connection with
// resilience. One Adapter is created per leg (telephony, recognition,
// generation) and owns reconnection, message queuing while disconnected,
// and timeout detection.
//
// Features:
//   - Connect with handshake timeout
//   - Send-or-queue: messages written while disconnected are queued FIFO
//     and flushed in order on reconnection
//   - Exponential backoff reconnect on abnormal closure, bounded attempts
//   - Manual close suppresses reconnection and drops the queue
package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Default policy values, used when the corresponding Config field is zero.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxRetries     = 5
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
)

// State represents the adapter connection state.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds connection and reconnect policy for one adapter.
type Config struct {
	// Name identifies the leg in logs (e.g. "recognition").
	Name string

	// URL is the WebSocket endpoint to dial.
	URL string

	// Header carries credentials and protocol options for the dial.
	Header http.Header

	// ConnectTimeout bounds the handshake. Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// MaxRetries bounds reconnect attempts after an abnormal closure.
	MaxRetries int

	// BaseDelay and MaxDelay shape the exponential backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Callbacks are invoked from the adapter's read goroutine. Handlers must not
// block; hand off to a channel for anything expensive.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// ReconnectDelay computes the backoff delay before the given attempt
// (1-based): min(base * 2^(attempt-1), max).
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type queuedFrame struct {
	messageType int
	data        []byte
}

// Adapter wraps exactly one outbound WebSocket connection.
type Adapter struct {
	config    Config
	callbacks Callbacks

	conn   *websocket.Conn
	connMu sync.Mutex

	state   State
	stateMu sync.RWMutex

	queue   []queuedFrame
	queueMu sync.Mutex

	manualClose atomic.Bool
	closed      chan struct{}
	closeOnce   sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAdapter creates an adapter. Connect must be called before audio flows.
func NewAdapter(config Config, callbacks Callbacks) *Adapter {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.BaseDelay == 0 {
		config.BaseDelay = DefaultBaseDelay
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = DefaultMaxDelay
	}
	if config.Name == "" {
		config.Name = "leg"
	}
	return &Adapter{
		config:    config,
		callbacks: callbacks,
		state:     StateNew,
		closed:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
}

// Connect opens the connection. It blocks until the handshake completes or
// fails. On failure it returns ErrConnectTimeout or a *ConnectError without
// scheduling retries; retrying the initial connect is the caller's decision.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.manualClose.Load() {
		return ErrClosed
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.setState(StateConnecting)

	if err := a.dial(); err != nil {
		a.setState(StateFailed)
		return err
	}

	a.setState(StateConnected)
	log.Printf("[Transport:%s] connected to %s", a.config.Name, a.config.URL)

	a.flushQueue()
	if a.callbacks.OnOpen != nil {
		a.callbacks.OnOpen()
	}

	go a.readLoop()

	return nil
}

// dial performs one handshake attempt.
func (a *Adapter) dial() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: a.config.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(a.ctx, a.config.ConnectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, a.config.URL, a.config.Header)
	if err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			return ErrConnectTimeout
		}
		return &ConnectError{URL: a.config.URL, Err: err}
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()
	return nil
}

// Send marshals v as JSON and transmits it if connected. While disconnected
// the frame is queued and false is returned; queued frames are flushed in
// order on reconnection.
func (a *Adapter) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		if a.callbacks.OnError != nil {
			a.callbacks.OnError(err)
		}
		return false
	}
	return a.sendFrame(websocket.TextMessage, data)
}

// SendBinary transmits a binary frame with the same send-or-queue policy.
func (a *Adapter) SendBinary(data []byte) bool {
	return a.sendFrame(websocket.BinaryMessage, data)
}

func (a *Adapter) sendFrame(messageType int, data []byte) bool {
	if a.manualClose.Load() {
		return false
	}

	a.connMu.Lock()
	conn := a.conn
	connected := a.State() == StateConnected && conn != nil
	if connected {
		err := conn.WriteMessage(messageType, data)
		a.connMu.Unlock()
		if err != nil {
			if a.callbacks.OnError != nil {
				a.callbacks.OnError(err)
			}
			return false
		}
		return true
	}
	a.connMu.Unlock()

	a.queueMu.Lock()
	a.queue = append(a.queue, queuedFrame{messageType: messageType, data: data})
	n := len(a.queue)
	a.queueMu.Unlock()
	log.Printf("[Transport:%s] disconnected, queued message (%d pending)", a.config.Name, n)
	return false
}

// flushQueue writes all queued frames in FIFO order.
func (a *Adapter) flushQueue() {
	a.queueMu.Lock()
	pending := a.queue
	a.queue = nil
	a.queueMu.Unlock()

	if len(pending) == 0 {
		return
	}
	log.Printf("[Transport:%s] flushing %d queued messages", a.config.Name, len(pending))

	// Hold connMu across the writes: sendFrame may be writing concurrently
	// and a gorilla connection allows only one writer.
	a.connMu.Lock()
	var writeErr error
	if a.conn != nil {
		for _, f := range pending {
			if writeErr = a.conn.WriteMessage(f.messageType, f.data); writeErr != nil {
				break
			}
		}
	}
	a.connMu.Unlock()

	if writeErr != nil && a.callbacks.OnError != nil {
		a.callbacks.OnError(writeErr)
	}
}

// QueueLen reports the number of frames waiting for reconnection.
func (a *Adapter) QueueLen() int {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()
	return len(a.queue)
}

// Close marks the adapter as manually closed, suppresses reconnection,
// closes the underlying connection with a normal closure code, and drops
// the queue. Safe to call multiple times.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		a.manualClose.Store(true)
		close(a.closed)
		if a.cancel != nil {
			a.cancel()
		}

		a.connMu.Lock()
		conn := a.conn
		a.connMu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}

		a.queueMu.Lock()
		a.queue = nil
		a.queueMu.Unlock()

		a.setState(StateClosed)
	})
}

// readLoop reads until the connection drops, then decides whether to
// reconnect.
func (a *Adapter) readLoop() {
	for {
		a.connMu.Lock()
		conn := a.conn
		a.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			if a.callbacks.OnClose != nil {
				a.callbacks.OnClose(code, reason)
			}
			if a.shouldReconnect(code) {
				a.reconnect()
			}
			return
		}

		if a.callbacks.OnMessage != nil {
			a.callbacks.OnMessage(data)
		}
	}
}

// closeDetails extracts a close code and reason from a read error.
func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// shouldReconnect applies the reconnect policy: only abnormal closures while
// not manually closed trigger retries.
func (a *Adapter) shouldReconnect(code int) bool {
	if a.manualClose.Load() {
		return false
	}
	if code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway {
		return false
	}
	return true
}

// reconnect runs the backoff schedule. On success the queue is flushed and
// OnOpen fires again; after MaxRetries the adapter fails terminally.
func (a *Adapter) reconnect() {
	a.setState(StateReconnecting)

	for attempt := 1; attempt <= a.config.MaxRetries; attempt++ {
		delay := ReconnectDelay(attempt, a.config.BaseDelay, a.config.MaxDelay)
		log.Printf("[Transport:%s] reconnect attempt %d/%d in %v",
			a.config.Name, attempt, a.config.MaxRetries, delay)

		select {
		case <-a.closed:
			return
		case <-a.ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := a.dial(); err != nil {
			log.Printf("[Transport:%s] reconnect attempt %d failed: %v", a.config.Name, attempt, err)
			continue
		}

		a.setState(StateConnected)
		log.Printf("[Transport:%s] reconnected", a.config.Name)
		a.flushQueue()
		if a.callbacks.OnOpen != nil {
			a.callbacks.OnOpen()
		}
		go a.readLoop()
		return
	}

	a.setState(StateFailed)
	if a.callbacks.OnError != nil {
		a.callbacks.OnError(ErrMaxRetriesExceeded)
	}
}
