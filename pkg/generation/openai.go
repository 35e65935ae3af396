package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	openAIDefaultModel = "gpt-4o-mini"
	openAIDefaultVoice = "alloy"
	openAITTSModel     = "tts-1"
	openAITTSEndpoint  = "https://api.openai.com/v1/audio/speech"
)

// OpenAIConfig holds settings for the OpenAI provider.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// TTSEndpoint overrides the speech endpoint, mainly for tests.
	TTSEndpoint string

	// TTSModel selects the speech model (default "tts-1").
	TTSModel string

	// HTTPTimeout bounds the synthesis request.
	HTTPTimeout time.Duration
}

// OpenAIProvider implements Provider using the OpenAI chat completion and
// speech APIs.
type OpenAIProvider struct {
	config     OpenAIConfig
	client     openai.Client
	httpClient *http.Client
}

// NewOpenAIProvider creates the provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("generation: OpenAI API key is required")
	}
	if config.TTSEndpoint == "" {
		config.TTSEndpoint = openAITTSEndpoint
	}
	if config.TTSModel == "" {
		config.TTSModel = openAITTSModel
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 30 * time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAIProvider{
		config:     config,
		client:     openai.NewClient(opts...),
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Generate starts a streaming chat completion and feeds deltas into the
// returned Stream.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Stream, error) {
	model := req.Model
	if model == "" {
		model = openAIDefaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    shared.ChatModel(model),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	s := newStream()
	go func() {
		defer close(s.deltas)

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case s.deltas <- delta:
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			}
		}
		if err := stream.Err(); err != nil {
			s.err = &Error{Provider: p.Name(), Op: "generate", Err: err}
		}
	}()

	return s, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize converts text to raw PCM16 mono at 24kHz via the speech API.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = openAIDefaultVoice
	}

	payload, err := json.Marshal(speechRequest{
		Model:          p.config.TTSModel,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "pcm",
	})
	if err != nil {
		return nil, &Error{Provider: p.Name(), Op: "synthesize", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TTSEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Provider: p.Name(), Op: "synthesize", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Provider: p.Name(), Op: "synthesize", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &Error{
			Provider: p.Name(),
			Op:       "synthesize",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: p.Name(), Op: "synthesize", Err: err}
	}
	return audio, nil
}
