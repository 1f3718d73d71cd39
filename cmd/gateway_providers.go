package cmd

import (
	"context"
	"io"
	"log/slog"

	"google.golang.org/api/option"

	"github.com/rishsane/humuter-sub000/internal/config"
	"github.com/rishsane/humuter-sub000/internal/providers"
)

// openAICompatible lists the providers served through the OpenAI chat
// completions wire format, with their default base URL and model.
var openAICompatible = []struct {
	name, apiBase, model string
	pick                 func(*config.ProvidersConfig) config.ProviderConfig
}{
	{"openai", "https://api.openai.com/v1", "gpt-4o-mini", func(p *config.ProvidersConfig) config.ProviderConfig { return p.OpenAI }},
	{"openrouter", "https://openrouter.ai/api/v1", "anthropic/claude-sonnet-4-5-20250929", func(p *config.ProvidersConfig) config.ProviderConfig { return p.OpenRouter }},
	{"groq", "https://api.groq.com/openai/v1", "llama-3.3-70b-versatile", func(p *config.ProvidersConfig) config.ProviderConfig { return p.Groq }},
	{"deepseek", "https://api.deepseek.com/v1", "deepseek-chat", func(p *config.ProvidersConfig) config.ProviderConfig { return p.DeepSeek }},
}

// registerProviders registers every provider with an API key and selects
// the default. Returned closers release SDK clients on shutdown.
func registerProviders(ctx context.Context, registry *providers.Registry, cfg *config.Config) []io.Closer {
	var closers []io.Closer
	pc := &cfg.Providers

	if pc.Anthropic.APIKey != "" {
		var opts []providers.AnthropicOption
		if pc.Anthropic.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(pc.Anthropic.Model))
		}
		if pc.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(pc.Anthropic.APIBase))
		}
		registry.Register(providers.NewAnthropicProvider(pc.Anthropic.APIKey, opts...))
		slog.Info("registered provider", "name", "anthropic")
	}

	for _, p := range openAICompatible {
		c := p.pick(pc)
		if c.APIKey == "" {
			continue
		}
		base, model := p.apiBase, p.model
		if c.APIBase != "" {
			base = c.APIBase
		}
		if c.Model != "" {
			model = c.Model
		}
		registry.Register(providers.NewOpenAIProvider(p.name, c.APIKey, base, model))
		slog.Info("registered provider", "name", p.name)
	}

	if pc.Gemini.APIKey != "" {
		var opts []option.ClientOption
		if pc.Gemini.APIBase != "" {
			opts = append(opts, option.WithEndpoint(pc.Gemini.APIBase))
		}
		gp, err := providers.NewGeminiProvider(ctx, pc.Gemini.APIKey, pc.Gemini.Model, opts...)
		if err != nil {
			slog.Warn("provider registration failed", "name", "gemini", "error", err)
		} else {
			registry.Register(gp)
			closers = append(closers, gp)
			slog.Info("registered provider", "name", "gemini")
		}
	}

	if pc.Default != "" {
		if err := registry.SetDefault(pc.Default); err != nil {
			slog.Warn("default provider not registered, keeping first registered", "provider", pc.Default, "error", err)
		}
	}
	return closers
}
