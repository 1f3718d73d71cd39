package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoProvider is returned when no provider can serve a request.
var ErrNoProvider = errors.New("no llm provider configured")

// Gateway is the single-turn generation entry point used by the agent runtime.
// It resolves the agent's provider hint against the registry.
type Gateway struct {
	registry  *Registry
	maxTokens int
	tracer    trace.Tracer
}

func NewGateway(reg *Registry, maxTokens int) *Gateway {
	return &Gateway{
		registry:  reg,
		maxTokens: maxTokens,
		tracer:    otel.Tracer("github.com/rishsane/humuter-sub000/internal/providers"),
	}
}

// Generate sends system + user to the hinted provider (or the default one).
// A model hint is honored only when the hinted provider is the one used.
func (g *Gateway) Generate(ctx context.Context, providerHint, modelHint, system, user string) (*Generation, error) {
	p, model := g.resolve(providerHint, modelHint)
	if p == nil {
		return nil, ErrNoProvider
	}
	if model == "" {
		model = p.DefaultModel()
	}

	ctx, span := g.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.provider", p.Name()),
		attribute.String("llm.model", model),
	))
	defer span.End()

	resp, err := p.Chat(ctx, ChatRequest{
		System:    system,
		Messages:  []Message{{Role: "user", Content: user}},
		Model:     model,
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}

	tokens := resp.Usage.Total()
	span.SetAttributes(attribute.Int("llm.tokens", tokens))
	return &Generation{
		Text:       resp.Content,
		TokensUsed: tokens,
		Provider:   p.Name(),
		Model:      model,
	}, nil
}

func (g *Gateway) resolve(providerHint, modelHint string) (Provider, string) {
	if providerHint != "" {
		if p, ok := g.registry.Get(providerHint); ok {
			return p, modelHint
		}
		slog.Debug("provider: hint not registered, using default", "hint", providerHint)
	}
	p, ok := g.registry.Default()
	if !ok {
		return nil, ""
	}
	return p, ""
}
