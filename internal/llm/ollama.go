package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxOllamaReply caps how much of a local model's reply is read.
const maxOllamaReply = 8 << 20

// OllamaProvider talks to a local Ollama server over its chat endpoint.
// Requests are never streamed; the caller's context bounds each call.
type OllamaProvider struct {
	chatURL string
	model   string
	client  *http.Client
}

// NewOllamaProvider points at the Ollama server at baseURL.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	return &OllamaProvider{
		chatURL: strings.TrimRight(baseURL, "/") + "/api/chat",
		model:   model,
		client:  &http.Client{},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

// chatRequest maps req onto Ollama's wire format. Temperature is always
// sent, so zero means greedy decoding rather than the server default.
func (p *OllamaProvider) chatRequest(req CompletionRequest) ollamaChatRequest {
	out := ollamaChatRequest{
		Model:    req.Model,
		Messages: make([]ollamaMessage, len(req.Messages)),
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
	if out.Model == "" {
		out.Model = p.model
	}
	for i, m := range req.Messages {
		out.Messages[i] = ollamaMessage{Role: string(m.Role), Content: m.Content}
	}
	if req.JSONMode {
		out.Format = "json"
	}
	return out
}

func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(p.chatRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxOllamaReply))
	if err != nil {
		return nil, fmt.Errorf("read ollama reply: %w", err)
	}

	var reply ollamaChatResponse
	decodeErr := json.Unmarshal(raw, &reply)
	if httpResp.StatusCode != http.StatusOK {
		msg := string(raw)
		if decodeErr == nil && reply.Error != "" {
			msg = reply.Error
		}
		return nil, &ProviderStatusError{Provider: "ollama", StatusCode: httpResp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode ollama reply: %w", decodeErr)
	}
	if !reply.Done {
		return nil, fmt.Errorf("ollama reply for %s is incomplete", reply.Model)
	}

	return &CompletionResponse{
		Content: reply.Message.Content,
		Model:   reply.Model,
		Usage:   Usage{InputTokens: reply.PromptEvalCount, OutputTokens: reply.EvalCount},
		Stop:    stopReasonOf(reply.DoneReason),
	}, nil
}
