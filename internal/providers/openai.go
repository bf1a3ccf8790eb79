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

const openAIDefaultURL = "https://api.openai.com"

// OpenAIGateway speaks the OpenAI chat-completions wire format. Bearer auth;
// token usage is reported exactly in usage.total_tokens.
type OpenAIGateway struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewOpenAIGateway() *OpenAIGateway {
	return &OpenAIGateway{
		BaseURL:    openAIDefaultURL,
		HTTPClient: newHTTPClient(),
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
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (g *OpenAIGateway) Complete(ctx context.Context, history []Turn, cfg *models.AIConfig) (*Completion, error) {
	messages := make([]openAIMessage, 0, len(history))
	for _, turn := range history {
		messages = append(messages, openAIMessage{Role: string(turn.Role), Content: turn.Content})
	}

	body, err := json.Marshal(openAIRequest{
		Model:       cfg.ModelName,
		Messages:    messages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, connectionError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, connectionError(err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
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

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, upstreamError(resp.StatusCode, fmt.Sprintf("unparseable response: %v", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, upstreamError(resp.StatusCode, "response contained no choices")
	}

	text := parsed.Choices[0].Message.Content
	usage := TokenUsage{Tokens: parsed.Usage.TotalTokens}
	if usage.Tokens == 0 {
		usage = TokenUsage{Tokens: ApproximateTokens(text), Approximate: true}
	}

	return &Completion{Text: text, Usage: usage}, nil
}
