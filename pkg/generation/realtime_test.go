package generation

import (
	"context"
	"encoding/base64"
	"testing"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRealtimeLegRequiresKey(t *testing.T) {
	_, err := NewRealtimeLeg(RealtimeConfig{}, RealtimeCallbacks{})
	assert.Error(t, err)
}

func TestNewRealtimeLegDefaults(t *testing.T) {
	l, err := NewRealtimeLeg(RealtimeConfig{APIKey: "k"}, RealtimeCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, openairt.VoiceShimmer, l.config.Voice)
	assert.Equal(t, 0.7, l.config.VADThreshold)
	assert.Equal(t, 800, l.config.SilenceDurationMs)
}

func TestRealtimeSessionConfig(t *testing.T) {
	l, err := NewRealtimeLeg(RealtimeConfig{
		APIKey:          "k",
		SystemPrompt:    "be brief",
		MaxOutputTokens: 500,
	}, RealtimeCallbacks{})
	require.NoError(t, err)

	session := l.sessionConfig()
	assert.Equal(t, "be brief", session.Instructions)
	assert.Equal(t, openairt.VoiceShimmer, session.Voice)
	assert.Equal(t, openairt.AudioFormatPcm16, session.OutputAudioFormat)
	assert.Equal(t, openairt.IntOrInf(500), session.MaxOutputTokens)
	require.NotNil(t, session.TurnDetection)
	assert.Equal(t, 0.7, session.TurnDetection.TurnDetectionParams.Threshold)
	assert.Equal(t, 800, session.TurnDetection.TurnDetectionParams.SilenceDurationMs)
}

func TestRealtimeHandleAudioDelta(t *testing.T) {
	var audio [][]byte
	l, err := NewRealtimeLeg(RealtimeConfig{APIKey: "k"}, RealtimeCallbacks{
		OnAudioDelta: func(b []byte) { audio = append(audio, b) },
	})
	require.NoError(t, err)

	pcm := []byte{0x10, 0x20, 0x30}
	l.handleEvent(context.Background(), openairt.ResponseAudioDeltaEvent{
		ServerEventBase: openairt.ServerEventBase{Type: openairt.ServerEventTypeResponseAudioDelta},
		Delta:           base64.StdEncoding.EncodeToString(pcm),
	})

	require.Len(t, audio, 1)
	assert.Equal(t, pcm, audio[0])
}

func TestRealtimeTranscriptAccumulates(t *testing.T) {
	var deltas []string
	var done []string
	l, err := NewRealtimeLeg(RealtimeConfig{APIKey: "k"}, RealtimeCallbacks{
		OnTextDelta:    func(s string) { deltas = append(deltas, s) },
		OnResponseDone: func(s string) { done = append(done, s) },
	})
	require.NoError(t, err)

	ctx := context.Background()
	transcriptBase := openairt.ServerEventBase{Type: openairt.ServerEventTypeResponseAudioTranscriptDelta}
	doneBase := openairt.ServerEventBase{Type: openairt.ServerEventTypeResponseDone}
	l.handleEvent(ctx, openairt.ResponseAudioTranscriptDeltaEvent{ServerEventBase: transcriptBase, Delta: "Hel"})
	l.handleEvent(ctx, openairt.ResponseAudioTranscriptDeltaEvent{ServerEventBase: transcriptBase, Delta: "lo"})
	l.handleEvent(ctx, openairt.ResponseDoneEvent{ServerEventBase: doneBase})

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	require.Len(t, done, 1)
	assert.Equal(t, "Hello", done[0])

	// Transcript buffer resets between responses.
	l.handleEvent(ctx, openairt.ResponseAudioTranscriptDeltaEvent{ServerEventBase: transcriptBase, Delta: "Again"})
	l.handleEvent(ctx, openairt.ResponseDoneEvent{ServerEventBase: doneBase})
	assert.Equal(t, "Again", done[1])
}

func TestRealtimeSpeechStarted(t *testing.T) {
	fired := 0
	l, err := NewRealtimeLeg(RealtimeConfig{APIKey: "k"}, RealtimeCallbacks{
		OnSpeechStarted: func() { fired++ },
	})
	require.NoError(t, err)

	l.handleEvent(context.Background(), openairt.InputAudioBufferSpeechStartedEvent{
		ServerEventBase: openairt.ServerEventBase{Type: openairt.ServerEventTypeInputAudioBufferSpeechStarted},
	})
	assert.Equal(t, 1, fired)
}

func TestRealtimeAppendAudioNotConnected(t *testing.T) {
	l, err := NewRealtimeLeg(RealtimeConfig{APIKey: "k"}, RealtimeCallbacks{})
	require.NoError(t, err)
	assert.Error(t, l.AppendAudio(context.Background(), []byte{1}))
	assert.NoError(t, l.Cancel(context.Background()))
}
