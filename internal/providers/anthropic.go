package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"ai_assistant_go_backend/internal/models"
)

const (
	anthropicDefaultURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
)

// AnthropicGateway speaks the Anthropic messages wire format. The system
// turn travels in a dedicated field, auth is x-api-key, and usage reports
// input and output tokens separately.
type AnthropicGateway struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewAnthropicGateway() *AnthropicGateway {
	return &AnthropicGateway{
		BaseURL:    anthropicDefaultURL,
		HTTPClient: newHTTPClient(),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (g *AnthropicGateway) Complete(ctx context.Context, history []Turn, cfg *models.AIConfig) (*Completion, error) {
	var system string
	messages := make([]anthropicMessage, 0, len(history))
	for _, turn := range history {
		if turn.Role == RoleSystem {
			system = turn.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: string(turn.Role), Content: turn.Content})
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       cfg.ModelName,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
		System:      system,
		Messages:    messages,
	})
	if err != nil {
		return nil, connectionError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, connectionError(err)
	}
	req.Header.Set("x-api-key", cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connectionError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamError(resp.StatusCode, string(raw))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, upstreamError(resp.StatusCode, fmt.Sprintf("unparseable response: %v", err))
	}
	if len(parsed.Content) == 0 {
		return nil, upstreamError(resp.StatusCode, "response contained no content")
	}

	text := parsed.Content[0].Text
	total := parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	usage := TokenUsage{Tokens: total}
	if total == 0 {
		usage = TokenUsage{Tokens: ApproximateTokens(text), Approximate: true}
	}

	return &Completion{Text: text, Usage: usage}, nil
}
