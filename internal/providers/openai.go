package providers

import (
	"context"
	"net/http"
	"strings"
)

// OpenAIProvider speaks the OpenAI chat completions format, which OpenAI,
// Groq, OpenRouter and DeepSeek all accept.
type OpenAIProvider struct {
	name         string
	apiKey       string
	endpoint     string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		endpoint:     strings.TrimRight(apiBase, "/") + "/chat/completions",
		defaultModel: defaultModel,
		client:       newHTTPClient(),
		retryConfig:  DefaultRetryConfig(),
	}
}

// WithRetryConfig overrides the retry policy.
func (p *OpenAIProvider) WithRetryConfig(cfg RetryConfig) *OpenAIProvider {
	p.retryConfig = cfg
	return p
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// resolveModel picks the request model. OpenRouter ids carry a vendor
// prefix, so an unprefixed hint falls back to the default.
func (p *OpenAIProvider) resolveModel(model string) string {
	switch {
	case model == "":
		return p.defaultModel
	case p.name == "openrouter" && !strings.Contains(model, "/"):
		return p.defaultModel
	default:
		return model
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := openAIRequest{
		Model:       p.resolveModel(req.Model),
		Messages:    make([]openAIMessage, 0, len(req.Messages)+1),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	headers := http.Header{"Authorization": {"Bearer " + p.apiKey}}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		resp, err := postJSON[openAIResponse](ctx, p.client, p.name, p.endpoint, headers, body)
		if err != nil {
			return nil, err
		}
		out := &ChatResponse{FinishReason: "stop", Usage: resp.Usage}
		if len(resp.Choices) > 0 {
			out.Content = resp.Choices[0].Message.Content
			if fr := resp.Choices[0].FinishReason; fr != "" {
				out.FinishReason = fr
			}
		}
		return out, nil
	})
}
