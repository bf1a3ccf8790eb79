package providers

import (
	"testing"

	"ai_assistant_go_backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestForConfig(t *testing.T) {
	cases := []struct {
		provider string
		want     interface{}
	}{
		{models.ProviderOpenAI, &OpenAIGateway{}},
		{models.ProviderAnthropic, &AnthropicGateway{}},
		{models.ProviderGoogle, &GoogleGateway{}},
		{models.ProviderWebhook, &WebhookGateway{}},
	}
	for _, tc := range cases {
		gw, err := ForConfig(&models.AIConfig{Provider: tc.provider})
		assert.NoError(t, err, tc.provider)
		assert.IsType(t, tc.want, gw, tc.provider)
	}
}

func TestForConfigUnsupported(t *testing.T) {
	_, err := ForConfig(&models.AIConfig{Provider: "clippy"})
	assert.Error(t, err)

	pe, ok := err.(*ProviderError)
	assert.True(t, ok)
	assert.Equal(t, ErrKindUnsupported, pe.Kind)
}

func TestTrimHistoryKeepsSystemPrompt(t *testing.T) {
	history := []Turn{{Role: RoleSystem, Content: "sys"}}
	for i := 0; i < 20; i++ {
		history = append(history, Turn{Role: RoleUser, Content: "u"}, Turn{Role: RoleAssistant, Content: "a"})
	}

	trimmed := TrimHistory(history, MaxHistoryTurns)
	assert.Len(t, trimmed, MaxHistoryTurns+1)
	assert.Equal(t, RoleSystem, trimmed[0].Role)
	assert.Equal(t, RoleAssistant, trimmed[len(trimmed)-1].Role)
}

func TestTrimHistoryShort(t *testing.T) {
	history := []Turn{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	assert.Equal(t, history, TrimHistory(history, MaxHistoryTurns))
	assert.Nil(t, TrimHistory(nil, MaxHistoryTurns))
}

func TestApproximateTokens(t *testing.T) {
	assert.Equal(t, 0, ApproximateTokens(""))
	assert.Equal(t, 2, ApproximateTokens("one"))          // ceil(1*1.33)
	assert.Equal(t, 14, ApproximateTokens("w w w w w w w w w w")) // ceil(10*1.33)
}
