package wire

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStart(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"start","assistantId":"demo","userId":"u-1"}`))
	require.NoError(t, err)

	start, ok := msg.(Start)
	require.True(t, ok)
	assert.Equal(t, "demo", start.AssistantID)
	assert.Equal(t, "u-1", start.UserID)
	assert.Equal(t, TypeStart, msg.Kind())
}

func TestParseTextInputVariants(t *testing.T) {
	for _, raw := range []string{
		`{"type":"text_input","text":"hello"}`,
		`{"type":"transcript","text":"hello"}`,
	} {
		msg, err := ParseClientMessage([]byte(raw))
		require.NoError(t, err, raw)
		text, ok := msg.(TextInput)
		require.True(t, ok, raw)
		assert.Equal(t, "hello", text.Text)
	}
}

func TestParsePing(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Kind())
}

func TestParseAudioFramingsNormalize(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03, 0x04}
	encoded := base64.StdEncoding.EncodeToString(audio)

	realtime := `{"type":"input_audio_buffer.append","audio":"` + encoded + `"}`
	telephony := `{"event":"media","media":{"payload":"` + encoded + `"}}`

	for _, raw := range []string{realtime, telephony} {
		msg, err := ParseClientMessage([]byte(raw))
		require.NoError(t, err, raw)
		app, ok := msg.(AudioAppend)
		require.True(t, ok, raw)
		assert.Equal(t, audio, app.Audio)
	}
}

func TestParseBadInput(t *testing.T) {
	_, err := ParseClientMessage([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseClientMessage([]byte(`{"type":"input_audio_buffer.append","audio":"%%%"}`))
	assert.Error(t, err)

	_, err = ParseClientMessage([]byte(`{"event":"media"}`))
	assert.Error(t, err)
}

func TestParseUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"bogus"}`))
	var unknown *UnknownMessageError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Type)
}

func TestOutboundConstructors(t *testing.T) {
	est := NewConnectionEstablished("sess-1", "Support", "Hi there!")
	data, err := json.Marshal(est)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connection_established","sessionId":"sess-1","assistant":{"name":"Support","first_message":"Hi there!"}}`, string(data))

	assert.Equal(t, TypeAIResponse, NewAIResponse("hi").Type)
	assert.Equal(t, TypeTextDelta, NewTextDelta("h").Type)

	audio := NewAudioResponse([]byte{1, 2, 3})
	assert.Equal(t, TypeAudioResponse, audio.Type)
	decoded, err := base64.StdEncoding.DecodeString(audio.Audio)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, decoded)

	assert.Equal(t, TypeAudioDelta, NewAudioDelta([]byte{1}).Type)

	pong := NewPong()
	assert.Equal(t, TypePong, pong.Type)
	assert.NotZero(t, pong.Timestamp)

	assert.Equal(t, "boom", NewError("boom").Error)
}
