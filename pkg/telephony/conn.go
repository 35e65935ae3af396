// Package telephony implements the media-stream leg: the server side of a
// telephony provider's streaming protocol over WebSocket.
//
// Wire format is base64 mu-law at 8kHz mono in both directions. Inbound
// audio is decoded and resampled to 16kHz PCM before it reaches the session;
// outbound PCM is resampled to 8kHz, mu-law encoded, and paced into 20ms
// frames. Mark events track playback position and the clear event flushes
// the provider's buffered audio on interruption.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge-ai/voicebridge/pkg/audio"
)

const (
	// WireSampleRate is the mu-law rate on the wire.
	WireSampleRate = 8000

	// StreamSampleRate is the PCM rate delivered to and accepted from the
	// session.
	StreamSampleRate = 16000

	// frameInterval is the outbound pacing tick.
	frameInterval = 20 * time.Millisecond
)

// StreamInfo carries the metadata from the provider's start event.
type StreamInfo struct {
	StreamID         string
	CallRef          string
	AccountRef       string
	CustomParameters map[string]string
}

// Callbacks receive media-stream events. Nil callbacks are skipped.
type Callbacks struct {
	// OnStart fires once when the provider opens the stream.
	OnStart func(info StreamInfo)

	// OnAudio fires per inbound chunk with 16kHz PCM16 samples.
	OnAudio func(samples []int16)

	// OnDTMF fires per keypad digit.
	OnDTMF func(digit string)

	// OnMark fires when the provider confirms playback past a mark.
	OnMark func(name string)

	// OnStop fires when the provider ends the stream.
	OnStop func()

	// OnError fires for read and protocol errors.
	OnError func(err error)
}

// mediaMessage is the provider's WebSocket envelope, both directions.
type mediaMessage struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Protocol  string        `json:"protocol,omitempty"`
	Version   string        `json:"version,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Stop      *stopPayload  `json:"stop,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
	DTMF      *dtmfPayload  `json:"dtmf,omitempty"`
}

type startPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type stopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type markPayload struct {
	Name string `json:"name"`
}

type dtmfPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// Conn is one live media stream.
type Conn struct {
	ws        *websocket.Conn
	callbacks Callbacks

	streamID   string
	callRef    string
	accountRef string
	infoMu     sync.RWMutex

	pacer   *audio.Pacer
	pacerMu sync.Mutex

	writeMu sync.Mutex

	markChan chan string

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewConn wraps an upgraded WebSocket. Start must be called to begin
// pumping.
func NewConn(ws *websocket.Conn, callbacks Callbacks) *Conn {
	return &Conn{
		ws:        ws,
		callbacks: callbacks,
		pacer:     audio.NewPacer(WireSampleRate),
		markChan:  make(chan string, 10),
		done:      make(chan struct{}),
	}
}

// StreamID returns the provider's stream identifier, empty before start.
func (c *Conn) StreamID() string {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.streamID
}

// CallRef returns the provider's call identifier, empty before start.
func (c *Conn) CallRef() string {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.callRef
}

// Start launches the read and write pumps.
func (c *Conn) Start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// Close shuts the stream down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.ws.Close()
	})
}

// SendAudio queues PCM16 samples for paced delivery. Audio at a rate other
// than WireSampleRate is resampled first.
func (c *Conn) SendAudio(samples []int16, sampleRate int) {
	if c.closed.Load() || c.StreamID() == "" {
		return
	}
	if sampleRate != WireSampleRate {
		samples = audio.Resample(samples, sampleRate, WireSampleRate)
	}
	c.pacerMu.Lock()
	c.pacer.Write(audio.Int16ToBytes(samples))
	c.pacerMu.Unlock()
}

// PendingAudio reports the bytes queued for delivery.
func (c *Conn) PendingAudio() int {
	c.pacerMu.Lock()
	defer c.pacerMu.Unlock()
	return c.pacer.Len()
}

// Clear drops all queued outbound audio and tells the provider to flush its
// playback buffer. Called on interruption.
func (c *Conn) Clear() error {
	c.pacerMu.Lock()
	c.pacer.Clear()
	c.pacerMu.Unlock()

	if c.closed.Load() || c.StreamID() == "" {
		return nil
	}
	log.Printf("[Telephony] Clearing provider audio buffer for stream %s", c.StreamID())
	return c.writeJSON(mediaMessage{Event: "clear", StreamSid: c.StreamID()})
}

// SendMark asks the provider to echo the mark back once playback reaches it.
func (c *Conn) SendMark(name string) error {
	if c.closed.Load() || c.StreamID() == "" {
		return nil
	}
	return c.writeJSON(mediaMessage{
		Event:     "mark",
		StreamSid: c.StreamID(),
		Mark:      &markPayload{Name: name},
	})
}

// WaitForMark blocks until the named mark is echoed or the timeout elapses.
func (c *Conn) WaitForMark(name string, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case mark := <-c.markChan:
			if mark == name {
				return true
			}
		case <-c.done:
			return false
		case <-timer.C:
			return false
		}
	}
}

func (c *Conn) writeJSON(msg mediaMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *Conn) readPump() {
	defer c.wg.Done()
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed.Load() {
				if c.callbacks.OnError != nil {
					c.callbacks.OnError(err)
				}
			}
			return
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[Telephony] Failed to parse message: %v", err)
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Conn) writePump() {
	defer c.wg.Done()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.pacerMu.Lock()
			if c.pacer.Len() == 0 {
				c.pacerMu.Unlock()
				continue
			}
			frame := c.pacer.ReadFrame()
			c.pacerMu.Unlock()

			mulaw := audio.PCM16ToMuLaw(audio.BytesToInt16(frame))
			msg := mediaMessage{
				Event:     "media",
				StreamSid: c.StreamID(),
				Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
			}
			if err := c.writeJSON(msg); err != nil {
				if !c.closed.Load() {
					log.Printf("[Telephony] Failed to send audio: %v", err)
				}
				return
			}
		}
	}
}

func (c *Conn) handleMessage(msg *mediaMessage) {
	switch msg.Event {
	case "connected":
		log.Printf("[Telephony] Media stream connected (protocol: %s, version: %s)", msg.Protocol, msg.Version)

	case "start":
		c.handleStart(msg)

	case "media":
		c.handleMedia(msg)

	case "stop":
		log.Printf("[Telephony] Stream stopped, call %s", c.CallRef())
		if c.callbacks.OnStop != nil {
			c.callbacks.OnStop()
		}

	case "mark":
		if msg.Mark == nil {
			return
		}
		select {
		case c.markChan <- msg.Mark.Name:
		default:
		}
		if c.callbacks.OnMark != nil {
			c.callbacks.OnMark(msg.Mark.Name)
		}

	case "dtmf":
		if msg.DTMF == nil {
			return
		}
		log.Printf("[Telephony] DTMF digit: %s", msg.DTMF.Digit)
		if c.callbacks.OnDTMF != nil {
			c.callbacks.OnDTMF(msg.DTMF.Digit)
		}

	default:
		log.Printf("[Telephony] Unknown event: %s", msg.Event)
	}
}

func (c *Conn) handleStart(msg *mediaMessage) {
	if msg.Start == nil {
		log.Printf("[Telephony] Start event missing payload")
		return
	}

	c.infoMu.Lock()
	c.streamID = msg.Start.StreamSid
	c.callRef = msg.Start.CallSid
	c.accountRef = msg.Start.AccountSid
	c.infoMu.Unlock()

	log.Printf("[Telephony] Stream started - stream %s, call %s, tracks %v",
		msg.Start.StreamSid, msg.Start.CallSid, msg.Start.Tracks)

	if c.callbacks.OnStart != nil {
		c.callbacks.OnStart(StreamInfo{
			StreamID:         msg.Start.StreamSid,
			CallRef:          msg.Start.CallSid,
			AccountRef:       msg.Start.AccountSid,
			CustomParameters: msg.Start.CustomParameters,
		})
	}
}

func (c *Conn) handleMedia(msg *mediaMessage) {
	if msg.Media == nil || msg.Media.Payload == "" {
		return
	}
	if msg.Media.Track != "" && msg.Media.Track != "inbound" {
		return
	}

	mulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		log.Printf("[Telephony] Failed to decode audio: %v", err)
		return
	}

	pcm := audio.MuLawToPCM16(mulaw)
	wideband := audio.Resample(pcm, WireSampleRate, StreamSampleRate)

	if c.callbacks.OnAudio != nil {
		c.callbacks.OnAudio(wideband)
	}
}
