package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/voicebridge-ai/voicebridge/pkg/audio"
	"github.com/voicebridge-ai/voicebridge/pkg/conversation"
	"github.com/voicebridge-ai/voicebridge/pkg/generation"
	"github.com/voicebridge-ai/voicebridge/pkg/recognition"
	"github.com/voicebridge-ai/voicebridge/pkg/store"
	"github.com/voicebridge-ai/voicebridge/pkg/trace"
	"github.com/voicebridge-ai/voicebridge/pkg/vad"
	"github.com/voicebridge-ai/voicebridge/pkg/wire"
)

const (
	// DefaultThinkingTimeout bounds the silence between a committed user
	// turn and the first generation token.
	DefaultThinkingTimeout = 30 * time.Second

	// DefaultFallbackText is spoken when a generation cycle fails or times
	// out so the caller never sits in unexplained silence.
	DefaultFallbackText = "I'm having trouble right now, let me connect you to someone."

	// DefaultReconnectBufferMs bounds the audio retained while the
	// recognition leg is reconnecting.
	DefaultReconnectBufferMs = 2000

	// eventQueueSize bounds the orchestrator inbox. Posting to a full
	// inbox drops the event and logs, which for audio means losing one
	// chunk rather than stalling a pump.
	eventQueueSize = 256
)

// OrchestratorConfig wires one orchestrator.
type OrchestratorConfig struct {
	State     *conversation.State
	Generator generation.Provider

	// Telephony, Recognition, and Client are each optional; a text-only
	// client session has no telephony or recognition leg.
	Telephony   TelephonyLeg
	Recognition RecognitionLeg
	Client      ClientSink

	// Store receives fire-and-forget transcript appends. Optional.
	Store store.Store

	// OnFatal is invoked once when the session must tear down.
	OnFatal func(reason string)

	ThinkingTimeout   time.Duration
	FallbackText      string
	ReconnectBufferMs int

	// SampleRate of inbound user audio.
	SampleRate int

	// VAD tunes local turn detection. Zero fields take package defaults.
	VAD vad.Config
}

type event interface{ eventName() string }

type evUserAudio struct{ samples []int16 }
type evTextInput struct{ text string }
type evInterim struct{ result recognition.Result }
type evFinal struct{ result recognition.Result }
type evGenText struct {
	seq   uint64
	delta string
}
type evGenAudio struct {
	seq        uint64
	pcm        []byte
	sampleRate int
}
type evGenTextDone struct {
	seq  uint64
	full string
	err  error
}
type evGenDone struct{ seq uint64 }
type evThinkTimeout struct{ seq uint64 }
type evGreeting struct{}
type evLegError struct {
	leg string
	err error
}

func (evUserAudio) eventName() string    { return "user_audio" }
func (evTextInput) eventName() string    { return "text_input" }
func (evInterim) eventName() string      { return "interim_transcript" }
func (evFinal) eventName() string        { return "final_transcript" }
func (evGenText) eventName() string      { return "generation_text" }
func (evGenAudio) eventName() string     { return "generation_audio" }
func (evGenTextDone) eventName() string  { return "generation_text_done" }
func (evGenDone) eventName() string      { return "generation_done" }
func (evThinkTimeout) eventName() string { return "thinking_timeout" }
func (evGreeting) eventName() string     { return "greeting" }
func (evLegError) eventName() string     { return "leg_error" }

// Orchestrator runs the turn-taking state machine for one session. All
// decisions happen on a single event-loop goroutine; legs and pumps post
// events and never touch state directly.
type Orchestrator struct {
	config OrchestratorConfig
	state  *conversation.State

	detector     *vad.Detector
	reconnectBuf *audio.RingBuffer

	events chan event

	// Loop-owned fields, touched only inside run().
	genSeq     uint64
	genCancel  context.CancelFunc
	thinkTimer *time.Timer

	runCtx   context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewOrchestrator creates the orchestrator. Start must be called to begin
// processing.
func NewOrchestrator(config OrchestratorConfig) (*Orchestrator, error) {
	if config.State == nil {
		return nil, fmt.Errorf("relay: conversation state is required")
	}
	if config.Generator == nil {
		return nil, fmt.Errorf("relay: generator is required")
	}
	if config.ThinkingTimeout <= 0 {
		config.ThinkingTimeout = DefaultThinkingTimeout
	}
	if config.FallbackText == "" {
		config.FallbackText = DefaultFallbackText
	}
	if config.ReconnectBufferMs <= 0 {
		config.ReconnectBufferMs = DefaultReconnectBufferMs
	}
	if config.SampleRate <= 0 {
		config.SampleRate = vad.DefaultSampleRate
	}
	vadConfig := config.VAD
	if vadConfig.SampleRate == 0 {
		vadConfig.SampleRate = config.SampleRate
	}

	return &Orchestrator{
		config:       config,
		state:        config.State,
		detector:     vad.NewDetector(vadConfig),
		reconnectBuf: audio.NewRingBuffer(config.SampleRate, config.ReconnectBufferMs),
		events:       make(chan event, eventQueueSize),
		done:         make(chan struct{}),
	}, nil
}

// Start launches the event loop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runCtx, o.cancel = context.WithCancel(ctx)
	go o.run()
}

// Stop shuts the loop down. Safe to call more than once; pending timers and
// in-flight generation cycles are cancelled.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
	})
	<-o.done
}

// HandleUserAudio accepts one chunk of PCM16 user audio at the configured
// sample rate.
func (o *Orchestrator) HandleUserAudio(samples []int16) {
	o.post(evUserAudio{samples: samples})
}

// HandleTextInput accepts typed user input, bypassing recognition.
func (o *Orchestrator) HandleTextInput(text string) {
	o.post(evTextInput{text: text})
}

// HandleInterimTranscript accepts a partial transcript from the recognition
// leg.
func (o *Orchestrator) HandleInterimTranscript(result recognition.Result) {
	o.post(evInterim{result: result})
}

// HandleFinalTranscript accepts a committed transcript from the recognition
// leg.
func (o *Orchestrator) HandleFinalTranscript(result recognition.Result) {
	o.post(evFinal{result: result})
}

// HandleLegError accepts a leg failure report.
func (o *Orchestrator) HandleLegError(leg string, err error) {
	o.post(evLegError{leg: leg, err: err})
}

// SpeakGreeting plays the assistant's first message, if one is configured.
func (o *Orchestrator) SpeakGreeting() {
	if o.state.Assistant().FirstMessage != "" {
		o.post(evGreeting{})
	}
}

func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	default:
		log.Printf("[Orchestrator] Event queue full, dropping %s", ev.eventName())
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)
	for {
		select {
		case <-o.runCtx.Done():
			o.cancelGeneration()
			return
		case ev := <-o.events:
			o.dispatch(ev)
		}
	}
}

func (o *Orchestrator) dispatch(ev event) {
	switch ev := ev.(type) {
	case evUserAudio:
		o.onUserAudio(ev)
	case evTextInput:
		o.onTextInput(ev)
	case evInterim:
		o.state.Touch()
	case evFinal:
		o.onFinalTranscript(ev)
	case evGenText:
		o.onGenText(ev)
	case evGenAudio:
		o.onGenAudio(ev)
	case evGenTextDone:
		o.onGenTextDone(ev)
	case evGenDone:
		o.onGenDone(ev)
	case evThinkTimeout:
		o.onThinkTimeout(ev)
	case evGreeting:
		o.onGreeting()
	case evLegError:
		o.onLegError(ev)
	}
}

func (o *Orchestrator) onUserAudio(ev evUserAudio) {
	o.state.Touch()

	transitions := o.detector.Process(ev.samples)
	for _, t := range transitions {
		if t.Type != vad.SpeechStart {
			continue
		}
		switch o.state.TurnState() {
		case conversation.TurnSpeaking, conversation.TurnThinking:
			o.interrupt()
		case conversation.TurnIdle:
			o.state.SetTurnState(conversation.TurnListening)
		}
	}

	o.forwardToRecognition(audio.Int16ToBytes(ev.samples))

	for _, t := range transitions {
		if t.Type == vad.SpeechEnd && o.state.TurnState() == conversation.TurnListening {
			if o.config.Recognition != nil {
				o.config.Recognition.Finalize()
			}
		}
	}
}

// interrupt stops the assistant before any further user audio is forwarded:
// the in-flight generation cycle is superseded, playback is flushed, and
// only then does the loop return to forwarding.
func (o *Orchestrator) interrupt() {
	count := o.state.IncrementInterruption()
	log.Printf("[Orchestrator] Interruption #%d in state %s", count, o.state.TurnState())
	trace.RecordInterruption(o.runCtx, count)

	o.cancelGeneration()
	o.genSeq++ // supersede; stale deltas are dropped by seq check

	if o.config.Telephony != nil {
		if err := o.config.Telephony.Clear(); err != nil {
			log.Printf("[Orchestrator] Clear failed: %v", err)
		}
	}
	o.state.SetTurnState(conversation.TurnListening)
}

func (o *Orchestrator) forwardToRecognition(pcm []byte) {
	rec := o.config.Recognition
	if rec == nil {
		return
	}
	if !rec.Connected() {
		// Reconnect window: retain a bounded tail, oldest dropped first.
		o.reconnectBuf.Write(pcm)
		return
	}
	if buffered := o.reconnectBuf.Drain(); len(buffered) > 0 {
		rec.SendAudio(buffered)
	}
	rec.SendAudio(pcm)
}

func (o *Orchestrator) onTextInput(ev evTextInput) {
	if ev.text == "" {
		return
	}
	o.acceptUserTurn(ev.text)
}

func (o *Orchestrator) onFinalTranscript(ev evFinal) {
	if ev.result.Transcript == "" {
		return
	}
	o.acceptUserTurn(ev.result.Transcript)
}

func (o *Orchestrator) acceptUserTurn(text string) {
	o.appendTranscript(conversation.RoleUser, text)
	o.state.SetTurnState(conversation.TurnThinking)
	o.startGeneration()
}

func (o *Orchestrator) startGeneration() {
	o.cancelGeneration()
	o.genSeq++
	seq := o.genSeq

	genCtx, cancel := context.WithCancel(o.runCtx)
	o.genCancel = cancel

	o.thinkTimer = time.AfterFunc(o.config.ThinkingTimeout, func() {
		o.post(evThinkTimeout{seq: seq})
	})

	assistant := o.state.Assistant()
	req := generation.Request{
		Model:        assistant.Model,
		SystemPrompt: assistant.SystemPrompt,
		Temperature:  assistant.Temperature,
		MaxTokens:    assistant.MaxTokens,
	}
	for _, entry := range o.state.History() {
		req.Messages = append(req.Messages, generation.Message{
			Role:    string(entry.Role),
			Content: entry.Content,
		})
	}

	go o.generate(genCtx, seq, req, assistant.VoiceID)
}

// generate runs one generation cycle off-loop, posting results tagged with
// its sequence number. Synthesis runs per sentence while the text still
// streams, so the first audio is ready the moment the text completes; the
// segments are then delivered in order, after the complete-text message.
func (o *Orchestrator) generate(ctx context.Context, seq uint64, req generation.Request, voice string) {
	stream, err := o.config.Generator.Generate(ctx, req)
	if err != nil {
		o.post(evGenTextDone{seq: seq, err: err})
		return
	}

	type synthResult struct {
		pcm []byte
		err error
	}
	var pending []chan synthResult
	synthesize := func(sentence string) {
		ch := make(chan synthResult, 1)
		pending = append(pending, ch)
		go func() {
			pcm, err := o.config.Generator.Synthesize(ctx, sentence, voice)
			ch <- synthResult{pcm: pcm, err: err}
		}()
	}

	var seg sentenceBuffer
	var full string
	for delta := range stream.Deltas() {
		full += delta
		o.post(evGenText{seq: seq, delta: delta})
		for _, sentence := range seg.append(delta) {
			synthesize(sentence)
		}
	}
	if err := stream.Err(); err != nil {
		o.post(evGenTextDone{seq: seq, err: err})
		return
	}
	if full == "" {
		o.post(evGenTextDone{seq: seq, err: fmt.Errorf("relay: empty generation response")})
		return
	}
	if rest := seg.flush(); rest != "" {
		synthesize(rest)
	}
	o.post(evGenTextDone{seq: seq, full: full})

	for _, ch := range pending {
		select {
		case <-ctx.Done():
			return
		case res := <-ch:
			if res.err != nil {
				// Text still reaches the client; audio is best effort.
				log.Printf("[Orchestrator] Synthesis failed: %v", res.err)
				continue
			}
			o.post(evGenAudio{seq: seq, pcm: res.pcm, sampleRate: generation.SynthesisSampleRate})
		}
	}
	o.post(evGenDone{seq: seq})
}

func (o *Orchestrator) onGenText(ev evGenText) {
	if ev.seq != o.genSeq {
		return
	}
	o.markSpeaking()
	if o.config.Client != nil {
		o.config.Client.Send(wire.NewTextDelta(ev.delta))
	}
}

func (o *Orchestrator) onGenAudio(ev evGenAudio) {
	if ev.seq != o.genSeq {
		return
	}
	o.markSpeaking()
	if o.config.Telephony != nil {
		o.config.Telephony.SendAudio(audio.BytesToInt16(ev.pcm), ev.sampleRate)
	}
	if o.config.Client != nil {
		o.config.Client.Send(wire.NewAudioResponse(ev.pcm))
	}
}

// onGenTextDone handles the end of the text stream: the transcript entry and
// the complete-text message go out now, before any of the cycle's audio.
func (o *Orchestrator) onGenTextDone(ev evGenTextDone) {
	if ev.seq != o.genSeq {
		return
	}
	if ev.err != nil {
		o.stopThinkTimer()
		log.Printf("[Orchestrator] Generation failed: %v", ev.err)
		o.speakFallback()
		return
	}

	o.markSpeaking()
	o.appendTranscript(conversation.RoleAssistant, ev.full)
	if o.config.Client != nil {
		o.config.Client.Send(wire.NewAIResponse(ev.full))
	}
}

// onGenDone handles the end of a cycle's audio.
func (o *Orchestrator) onGenDone(ev evGenDone) {
	if ev.seq != o.genSeq {
		return
	}
	o.stopThinkTimer()

	if o.config.Telephony != nil {
		if err := o.config.Telephony.SendMark(fmt.Sprintf("response-%d", ev.seq)); err != nil {
			log.Printf("[Orchestrator] Mark failed: %v", err)
		}
	}
	o.state.SetTurnState(conversation.TurnIdle)
}

func (o *Orchestrator) onThinkTimeout(ev evThinkTimeout) {
	if ev.seq != o.genSeq || o.state.TurnState() != conversation.TurnThinking {
		return
	}
	log.Printf("[Orchestrator] No first token within %s: %v", o.config.ThinkingTimeout, ErrGenerationTimeout)
	o.cancelGeneration()
	o.genSeq++
	o.speakFallback()
}

// speakFallback delivers the fallback utterance so the caller never hears
// unexplained silence. Text goes out immediately; audio is synthesized off
// the loop, tagged with a fresh sequence number.
func (o *Orchestrator) speakFallback() {
	o.state.SetTurnState(conversation.TurnSpeaking)
	o.appendTranscript(conversation.RoleAssistant, o.config.FallbackText)

	if o.config.Client != nil {
		o.config.Client.Send(wire.NewAIResponse(o.config.FallbackText))
	}

	o.genSeq++
	seq := o.genSeq
	voice := o.state.Assistant().VoiceID
	go func() {
		pcm, err := o.config.Generator.Synthesize(o.runCtx, o.config.FallbackText, voice)
		if err != nil {
			log.Printf("[Orchestrator] Fallback synthesis failed: %v", err)
			o.post(evGenDone{seq: seq})
			return
		}
		o.post(evGenAudio{seq: seq, pcm: pcm, sampleRate: generation.SynthesisSampleRate})
		o.post(evGenDone{seq: seq})
	}()
}

// onGreeting speaks the assistant's configured first message at session
// start, before any user turn.
func (o *Orchestrator) onGreeting() {
	greeting := o.state.Assistant().FirstMessage
	if greeting == "" || o.state.TurnState() != conversation.TurnIdle {
		return
	}
	o.state.SetTurnState(conversation.TurnSpeaking)
	o.appendTranscript(conversation.RoleAssistant, greeting)
	if o.config.Client != nil {
		o.config.Client.Send(wire.NewAIResponse(greeting))
	}

	o.genSeq++
	seq := o.genSeq
	voice := o.state.Assistant().VoiceID
	go func() {
		pcm, err := o.config.Generator.Synthesize(o.runCtx, greeting, voice)
		if err != nil {
			log.Printf("[Orchestrator] Greeting synthesis failed: %v", err)
			o.post(evGenDone{seq: seq})
			return
		}
		o.post(evGenAudio{seq: seq, pcm: pcm, sampleRate: generation.SynthesisSampleRate})
		o.post(evGenDone{seq: seq})
	}()
}

func (o *Orchestrator) onLegError(ev evLegError) {
	log.Printf("[Orchestrator] %s leg error: %v", ev.leg, ev.err)
	o.state.SetTurnState(conversation.TurnFailed)
	o.cancelGeneration()

	// Every leg still alive gets the fallback before teardown.
	if o.config.Client != nil {
		o.config.Client.Send(wire.NewError(fmt.Sprintf("%s leg failed", ev.leg)))
		o.config.Client.Send(wire.NewAIResponse(o.config.FallbackText))
	}
	if o.config.Telephony != nil && ev.leg != "telephony" {
		// Synchronous: the session is about to tear down, and the caller
		// must not be left in unexplained silence.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pcm, err := o.config.Generator.Synthesize(ctx, o.config.FallbackText, o.state.Assistant().VoiceID)
		cancel()
		if err != nil {
			log.Printf("[Orchestrator] Fallback synthesis failed: %v", err)
		} else {
			o.config.Telephony.SendAudio(audio.BytesToInt16(pcm), generation.SynthesisSampleRate)
		}
	}
	if o.config.OnFatal != nil {
		o.config.OnFatal(fmt.Sprintf("%s_leg_failure", ev.leg))
	}
}

func (o *Orchestrator) markSpeaking() {
	if o.state.TurnState() == conversation.TurnThinking {
		o.stopThinkTimer()
		o.state.SetTurnState(conversation.TurnSpeaking)
	}
}

func (o *Orchestrator) cancelGeneration() {
	if o.genCancel != nil {
		o.genCancel()
		o.genCancel = nil
	}
	o.stopThinkTimer()
}

func (o *Orchestrator) stopThinkTimer() {
	if o.thinkTimer != nil {
		o.thinkTimer.Stop()
		o.thinkTimer = nil
	}
}

func (o *Orchestrator) appendTranscript(role conversation.Role, content string) {
	o.state.AppendTranscript(conversation.Entry{Role: role, Content: content})
	if o.config.Store != nil {
		record := store.TranscriptRecord{
			SessionID: o.state.SessionID(),
			Role:      string(role),
			Content:   content,
			Timestamp: time.Now(),
		}
		go func() {
			if err := o.config.Store.AppendTranscript(record); err != nil {
				log.Printf("[Orchestrator] Transcript persist failed: %v", err)
			}
		}()
	}
}
