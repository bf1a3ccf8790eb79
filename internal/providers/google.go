package providers

import (
	"context"
	"fmt"

	"ai_assistant_go_backend/internal/models"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleGateway uses the Gemini SDK rather than raw HTTP. Usage comes back
// exactly in the response metadata. The client is built per call because the
// API key lives on the config snapshot and can change between exchanges.
type GoogleGateway struct{}

func NewGoogleGateway() *GoogleGateway {
	return &GoogleGateway{}
}

func (g *GoogleGateway) Complete(ctx context.Context, history []Turn, cfg *models.AIConfig) (*Completion, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, connectionError(err)
	}
	defer client.Close()

	model := client.GenerativeModel(cfg.ModelName)
	if cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	}
	model.SetTemperature(float32(cfg.Temperature))

	var last string
	var contents []*genai.Content
	for i, turn := range history {
		switch turn.Role {
		case RoleSystem:
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(turn.Content)}}
		case RoleUser:
			if i == len(history)-1 {
				last = turn.Content
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(turn.Content)}})
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(turn.Content)}})
		}
	}

	session := model.StartChat()
	session.History = contents

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, upstreamError(0, "response contained no candidates")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, upstreamError(0, fmt.Sprintf("unexpected response part type %T", resp.Candidates[0].Content.Parts[0]))
	}

	usage := TokenUsage{}
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		usage.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	} else {
		usage = TokenUsage{Tokens: ApproximateTokens(string(text)), Approximate: true}
	}

	return &Completion{Text: string(text), Usage: usage}, nil
}
