package relay

import (
	"log"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is the ping cadence for client connections.
const DefaultHeartbeatInterval = 15 * time.Second

// Heartbeat pings a connection on a fixed interval and declares it dead when
// no pong arrives within twice the interval.
type Heartbeat struct {
	interval  time.Duration
	ping      func() error
	onTimeout func()

	mu         sync.Mutex
	lastPongAt time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewHeartbeat creates a monitor. ping is called every interval; onTimeout
// fires once when the connection goes silent.
func NewHeartbeat(interval time.Duration, ping func() error, onTimeout func()) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		interval:  interval,
		ping:      ping,
		onTimeout: onTimeout,
		done:      make(chan struct{}),
	}
}

// Start launches the monitor loop.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	h.lastPongAt = time.Now()
	h.mu.Unlock()
	go h.loop()
}

// Pong records a liveness signal from the peer.
func (h *Heartbeat) Pong() {
	h.mu.Lock()
	h.lastPongAt = time.Now()
	h.mu.Unlock()
}

// LastPong returns the time of the most recent liveness signal.
func (h *Heartbeat) LastPong() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPongAt
}

// Stop halts the monitor. Safe to call more than once.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Heartbeat) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if time.Since(h.LastPong()) > 2*h.interval {
				log.Printf("[Heartbeat] No pong in %s, closing connection", 2*h.interval)
				h.Stop()
				if h.onTimeout != nil {
					h.onTimeout()
				}
				return
			}
			if h.ping != nil {
				if err := h.ping(); err != nil {
					log.Printf("[Heartbeat] Ping failed: %v", err)
				}
			}
		}
	}
}
