package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider implements Provider with the Google Generative AI SDK.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
	retryConfig  RetryConfig
}

// NewGeminiProvider creates a Gemini client authenticated with an API key.
func NewGeminiProvider(ctx context.Context, apiKey, defaultModel string, opts ...option.ClientOption) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if defaultModel == "" {
		defaultModel = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{
		client:       client,
		defaultModel: defaultModel,
		retryConfig:  DefaultRetryConfig(),
	}, nil
}

func (p *GeminiProvider) Name() string         { return "gemini" }
func (p *GeminiProvider) DefaultModel() string { return p.defaultModel }

// Close releases the underlying client connection.
func (p *GeminiProvider) Close() error { return p.client.Close() }

func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = p.defaultModel
	}

	model := p.client.GenerativeModel(modelName)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}

	cs := model.StartChat()
	if len(req.Messages) > 1 {
		for _, m := range req.Messages[:len(req.Messages)-1] {
			role := "user"
			if m.Role == "assistant" {
				role = "model"
			}
			cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	var last string
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		resp, err := cs.SendMessage(ctx, genai.Text(last))
		if err != nil {
			return nil, fmt.Errorf("gemini: generate: %w", err)
		}
		return parseGeminiResponse(resp)
	})
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: empty response")
	}
	cand := resp.Candidates[0]

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}

	result := &ChatResponse{Content: sb.String(), FinishReason: "stop"}
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		result.FinishReason = "length"
	}
	if u := resp.UsageMetadata; u != nil {
		result.Usage = &Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return result, nil
}
