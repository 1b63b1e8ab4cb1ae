package rag

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/biblioteca/internal/llm"
	"github.com/ziadkadry99/biblioteca/internal/logging"
)

// GenerateRequest is one grounded completion.
type GenerateRequest struct {
	System string
	Prompt string
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// Generator turns an assembled prompt into an answer through one completion
// call.
type Generator struct {
	provider    llm.Provider
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// NewGenerator creates a generator. An empty model uses the provider default.
func NewGenerator(provider llm.Provider, model string, logger *zap.Logger) *Generator {
	return &Generator{
		provider:    provider,
		model:       model,
		maxTokens:   2048,
		temperature: 0.3,
		logger:      logging.OrNop(logger),
	}
}

// Generate returns the model's text. Provider failures come back as
// *GenerationError.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := llm.Conversation(req.System, req.Prompt)

	temperature := g.temperature
	if req.JSON {
		temperature = 0.2
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: temperature,
		JSONMode:    req.JSON,
	})
	if err != nil {
		return "", &GenerationError{Err: err}
	}

	// Local models often report no usage.
	llm.EstimateUsage(resp, messages)
	g.logger.Debug("completion",
		zap.String("provider", g.provider.Name()),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Bool("usage_estimated", resp.Usage.Estimated),
		zap.Float64("estimated_cost_usd", resp.Usage.Cost(resp.Model)),
		zap.Duration("elapsed", time.Since(start)))
	if resp.Truncated() {
		g.logger.Warn("answer cut off at token cap",
			zap.String("model", resp.Model),
			zap.Int("max_tokens", g.maxTokens))
	}

	return strings.TrimSpace(resp.Content), nil
}
