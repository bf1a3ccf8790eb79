package services

import (
	"context"
	"testing"

	apperrors "ai_assistant_go_backend/internal/errors"
	"ai_assistant_go_backend/internal/models"
	"ai_assistant_go_backend/internal/notify"
	"ai_assistant_go_backend/internal/providers"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeGateway struct {
	completion *providers.Completion
	err        error
	history    []providers.Turn
	calls      int
}

func (f *fakeGateway) Complete(ctx context.Context, history []providers.Turn, cfg *models.AIConfig) (*providers.Completion, error) {
	f.calls++
	f.history = history
	if f.err != nil {
		return nil, f.err
	}
	return f.completion, nil
}

type chatFixture struct {
	db            *gorm.DB
	chat          *ChatService
	credits       *CreditService
	conversations *ConversationService
	configs       *ConfigService
	gateway       *fakeGateway
	user          *models.User
	conversation  *models.Conversation
	cfg           *models.AIConfig
}

func newChatFixture(t *testing.T, freeCredits float64) *chatFixture {
	t.Helper()
	db := newTestDB(t)
	log := zerolog.Nop()

	configs := NewConfigService(db, log)
	credits := NewCreditService(db, notify.NewBroker(), configs, freeCredits, log)
	conversations := NewConversationService(db, 50, log)

	gateway := &fakeGateway{
		completion: &providers.Completion{
			Text:  "Hello! How can I help?",
			Usage: providers.TokenUsage{Tokens: 100},
		},
	}
	selector := func(cfg *models.AIConfig) (providers.Gateway, error) {
		return gateway, nil
	}

	chat := NewChatService(configs, credits, conversations, selector, 1.5, 0, log)

	user := createTestUser(t, db)
	cfg := seedActiveConfig(t, db)
	conversation, err := conversations.Create(user.ID, "")
	require.NoError(t, err)

	return &chatFixture{
		db:            db,
		chat:          chat,
		credits:       credits,
		conversations: conversations,
		configs:       configs,
		gateway:       gateway,
		user:          user,
		conversation:  conversation,
		cfg:           cfg,
	}
}

func TestSendMessageBillsActualUsage(t *testing.T) {
	f := newChatFixture(t, 10)
	f.gateway.completion.Usage = providers.TokenUsage{Tokens: 1000}

	// 1000 exact tokens at $0.002/1K with 300% markup and 10 credits/USD
	// costs 0.08 credits.
	result, err := f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "Hello there")
	require.NoError(t, err)

	assert.InDelta(t, 0.08, result.CreditsUsed, 1e-9)
	assert.InDelta(t, 9.92, result.RemainingCredits, 1e-9)
	assert.False(t, result.ProviderFailed)
	assert.False(t, result.BillingFlagged)

	require.NotNil(t, result.AIMessage)
	assert.Equal(t, "Hello! How can I help?", result.AIMessage.Content)
	assert.Equal(t, 1000, result.AIMessage.TokensUsed)
	assert.False(t, result.AIMessage.TokensApproximate)
	assert.InDelta(t, 0.08, result.AIMessage.CreditCost, 1e-9)

	var tx models.CreditTransaction
	require.NoError(t, f.db.Where("user_id = ? AND type = ?", f.user.ID, models.TransactionUsage).First(&tx).Error)
	assert.InDelta(t, -0.08, tx.Amount, 1e-9)
	require.NotNil(t, tx.MessageID)
	assert.Equal(t, result.AIMessage.ID, *tx.MessageID)

	// Lifetime counters on the config.
	var cfg models.AIConfig
	require.NoError(t, f.db.First(&cfg, f.cfg.ID).Error)
	assert.Equal(t, int64(1000), cfg.TotalTokensUsed)
	assert.Equal(t, models.APIStatusWorking, cfg.APIStatus)
}

func TestSendMessagePreflightDenialWritesNothing(t *testing.T) {
	f := newChatFixture(t, 0)

	_, err := f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "This message cannot be afforded at a zero balance")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInsufficientCredits, apperrors.CodeOf(err))
	assert.Equal(t, 0, f.gateway.calls)

	var messageCount int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&messageCount).Error)
	assert.Equal(t, int64(0), messageCount)

	var usageCount int64
	require.NoError(t, f.db.Model(&models.CreditTransaction{}).
		Where("type = ?", models.TransactionUsage).Count(&usageCount).Error)
	assert.Equal(t, int64(0), usageCount)
}

func TestSendMessageProviderFailureIsUnbilled(t *testing.T) {
	f := newChatFixture(t, 10)
	f.gateway.err = &providers.ProviderError{
		Kind:    providers.ErrKindTimeout,
		Message: "request timed out",
	}

	result, err := f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "Hello")
	require.NoError(t, err)

	assert.True(t, result.ProviderFailed)
	assert.Equal(t, "request timed out", result.ErrorMessage)
	require.NotNil(t, result.AIMessage)
	assert.Equal(t, "Error: request timed out", result.AIMessage.Content)
	assert.Equal(t, "request timed out", result.AIMessage.ErrorMessage)
	assert.Equal(t, 0.0, result.AIMessage.CreditCost)

	// The user message stays, the balance does not move.
	var messageCount int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&messageCount).Error)
	assert.Equal(t, int64(2), messageCount)

	credit, err := f.credits.GetOrCreate(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, credit.RemainingCredits())

	var cfg models.AIConfig
	require.NoError(t, f.db.First(&cfg, f.cfg.ID).Error)
	assert.Equal(t, models.APIStatusError, cfg.APIStatus)
	assert.Equal(t, "request timed out", cfg.APIErrorMessage)
}

func TestSendMessageAppliesApproximateMargin(t *testing.T) {
	f := newChatFixture(t, 10)
	f.gateway.completion.Usage = providers.TokenUsage{Tokens: 100, Approximate: true}

	result, err := f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "Hello")
	require.NoError(t, err)

	// 100 approximate tokens charge as 120.
	assert.InDelta(t, 0.0096, result.CreditsUsed, 1e-9)
	assert.True(t, result.AIMessage.TokensApproximate)
}

func TestSettlementDenialFlagsDeliveredResponse(t *testing.T) {
	f := newChatFixture(t, 0.05)
	f.gateway.completion.Usage = providers.TokenUsage{Tokens: 1000}

	// A two-word message passes preflight at 0.05 credits, but the actual
	// 1000-token response costs 0.08.
	result, err := f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "Hi there")
	require.NoError(t, err)

	assert.True(t, result.BillingFlagged)
	assert.NotEmpty(t, result.BillingWarning)
	require.NotNil(t, result.AIMessage)
	assert.True(t, result.AIMessage.BillingFlagged)
	assert.Equal(t, "Hello! How can I help?", result.AIMessage.Content)

	// The balance was not driven negative.
	credit, err := f.credits.GetOrCreate(f.user.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, credit.RemainingCredits(), 1e-9)

	var flagged models.Message
	require.NoError(t, f.db.Where("billing_flagged = ?", true).First(&flagged).Error)
	assert.Equal(t, result.AIMessage.ID, flagged.ID)
}

func TestSendMessageRejectsEmptyInput(t *testing.T) {
	f := newChatFixture(t, 10)

	_, err := f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestSendMessageRequiresOwnership(t *testing.T) {
	f := newChatFixture(t, 10)
	other := createTestUser(t, f.db)

	_, err := f.chat.SendMessage(context.Background(), other, f.conversation.ID, "Hello")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeAccessDenied, apperrors.CodeOf(err))
}

func TestSendMessageNoActiveConfig(t *testing.T) {
	f := newChatFixture(t, 10)
	require.NoError(t, f.db.Model(&models.AIConfig{}).Where("id = ?", f.cfg.ID).Update("is_active", false).Error)

	_, err := f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "Hello")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeServiceUnavailable, apperrors.CodeOf(err))
}

func TestSendMessageBuildsHistoryWithSystemPrompt(t *testing.T) {
	f := newChatFixture(t, 10)

	_, err := f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "First question")
	require.NoError(t, err)
	_, err = f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "Second question")
	require.NoError(t, err)

	history := f.gateway.history
	require.NotEmpty(t, history)
	assert.Equal(t, providers.RoleSystem, history[0].Role)
	assert.Equal(t, providers.RoleUser, history[len(history)-1].Role)
	assert.Equal(t, "Second question", history[len(history)-1].Content)
}

func TestSendMessageDerivesTitle(t *testing.T) {
	f := newChatFixture(t, 10)

	_, err := f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "What is the capital of France and why")
	require.NoError(t, err)

	var conversation models.Conversation
	require.NoError(t, f.db.First(&conversation, f.conversation.ID).Error)
	assert.Equal(t, "What is the capital of France", conversation.Title)
	assert.True(t, conversation.HasCustomTitle)

	// A later message must not re-derive.
	_, err = f.chat.SendMessage(context.Background(), f.user, f.conversation.ID, "Another topic entirely here now")
	require.NoError(t, err)
	require.NoError(t, f.db.First(&conversation, f.conversation.ID).Error)
	assert.Equal(t, "What is the capital of France", conversation.Title)
}
