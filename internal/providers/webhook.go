package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"ai_assistant_go_backend/internal/models"
)

// WebhookGateway posts the exchange to a generic chatbot webhook (the
// chat-whisperer style of integration). These services never report token
// usage, so counts are always approximated from the exchanged text.
type WebhookGateway struct {
	HTTPClient *http.Client
}

func NewWebhookGateway() *WebhookGateway {
	return &WebhookGateway{HTTPClient: newHTTPClient()}
}

type webhookTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webhookRequest struct {
	Message string        `json:"message"`
	History []webhookTurn `json:"history,omitempty"`
}

type webhookResponse struct {
	Response struct {
		Text string `json:"text"`
	} `json:"response"`
	// Some webhook backends return the text at the top level instead.
	Text string `json:"text"`
}

func (g *WebhookGateway) Complete(ctx context.Context, history []Turn, cfg *models.AIConfig) (*Completion, error) {
	if cfg.WebhookURL == "" {
		return nil, &ProviderError{Kind: ErrKindUnsupported, Message: "webhook provider has no webhook URL configured"}
	}

	var message string
	turns := make([]webhookTurn, 0, len(history))
	for i, turn := range history {
		if i == len(history)-1 && turn.Role == RoleUser {
			message = turn.Content
			continue
		}
		turns = append(turns, webhookTurn{Role: string(turn.Role), Content: turn.Content})
	}

	body, err := json.Marshal(webhookRequest{Message: message, History: turns})
	if err != nil {
		return nil, connectionError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, connectionError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

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

	var parsed webhookResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, upstreamError(resp.StatusCode, "unparseable response")
	}

	text := parsed.Response.Text
	if text == "" {
		text = parsed.Text
	}
	if text == "" {
		return nil, upstreamError(resp.StatusCode, "no response text received from AI service")
	}

	// Bill input and output: the webhook charges us for both directions.
	tokens := ApproximateTokens(message) + ApproximateTokens(text)

	return &Completion{
		Text:  text,
		Usage: TokenUsage{Tokens: tokens, Approximate: true},
	}, nil
}
