package services

import (
	"fmt"
	"strings"
	"testing"

	apperrors "ai_assistant_go_backend/internal/errors"
	"ai_assistant_go_backend/internal/models"
	"ai_assistant_go_backend/internal/providers"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConversationDefaults(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 50, zerolog.Nop())
	user := createTestUser(t, db)

	conversation, err := svc.Create(user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultConversationTitle, conversation.Title)
	assert.False(t, conversation.HasCustomTitle)
	assert.True(t, conversation.IsActive)

	named, err := svc.Create(user.ID, "Project planning")
	require.NoError(t, err)
	assert.Equal(t, "Project planning", named.Title)
	assert.True(t, named.HasCustomTitle)
}

func TestCreateConversationLimit(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 3, zerolog.Nop())
	user := createTestUser(t, db)

	for i := 0; i < 3; i++ {
		_, err := svc.Create(user.ID, "")
		require.NoError(t, err)
	}

	_, err := svc.Create(user.ID, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	// Archiving one frees a slot.
	conversations, _, err := svc.ListByUser(user.ID, 10, 0)
	require.NoError(t, err)
	require.NoError(t, svc.Archive(conversations[0].ID))

	_, err = svc.Create(user.ID, "")
	require.NoError(t, err)
}

func TestGetOwnedEnforcesOwnership(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 50, zerolog.Nop())
	owner := createTestUser(t, db)
	intruder := createTestUser(t, db)

	conversation, err := svc.Create(owner.ID, "")
	require.NoError(t, err)

	_, err = svc.GetOwned(conversation.ID, intruder.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeAccessDenied, apperrors.CodeOf(err))

	_, err = svc.GetOwned(9999, owner.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestArchiveExcludesFromListingButKeepsMessages(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 50, zerolog.Nop())
	user := createTestUser(t, db)

	conversation, err := svc.Create(user.ID, "")
	require.NoError(t, err)
	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "hello", IsUserMessage: true}))

	require.NoError(t, svc.Archive(conversation.ID))

	conversations, total, err := svc.ListByUser(user.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, conversations)
	assert.Equal(t, int64(0), total)

	// Still fetchable by id.
	fetched, err := svc.GetOwned(conversation.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, fetched.IsActive)

	messages, msgTotal, err := svc.Messages(conversation.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, int64(1), msgTotal)
}

func TestAppendMessageUpdatesAggregates(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 50, zerolog.Nop())
	user := createTestUser(t, db)

	conversation, err := svc.Create(user.ID, "")
	require.NoError(t, err)

	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "question", IsUserMessage: true}))
	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{
		Content:       "answer",
		TokensUsed:    150,
		CreditCost:    0.12,
		ActualCostUSD: 0.0003,
	}))

	var updated models.Conversation
	require.NoError(t, db.First(&updated, conversation.ID).Error)
	assert.Equal(t, 2, updated.MessageCount)
	assert.NotNil(t, updated.LastMessageAt)
	assert.Equal(t, int64(150), updated.TotalTokensUsed)
	assert.InDelta(t, 0.12, updated.TotalCreditsUsed, 1e-9)
	assert.InDelta(t, 0.0003, updated.TotalCostUSD, 1e-9)
}

func TestRecentTurnsSkipsFailedExchanges(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 50, zerolog.Nop())
	user := createTestUser(t, db)

	conversation, err := svc.Create(user.ID, "")
	require.NoError(t, err)

	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "q1", IsUserMessage: true}))
	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "Error: timeout", ErrorMessage: "timeout"}))
	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "q2", IsUserMessage: true}))
	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "a2"}))

	turns, err := svc.RecentTurns(conversation.ID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, providers.Turn{Role: providers.RoleUser, Content: "q1"}, turns[0])
	assert.Equal(t, providers.Turn{Role: providers.RoleUser, Content: "q2"}, turns[1])
	assert.Equal(t, providers.Turn{Role: providers.RoleAssistant, Content: "a2"}, turns[2])
}

func TestMaybeDeriveTitle(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 50, zerolog.Nop())
	user := createTestUser(t, db)

	conversation, err := svc.Create(user.ID, "")
	require.NoError(t, err)
	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "q", IsUserMessage: true}))
	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "a"}))

	require.NoError(t, svc.MaybeDeriveTitle(conversation.ID, "How do I configure the billing markup for my team"))

	var updated models.Conversation
	require.NoError(t, db.First(&updated, conversation.ID).Error)
	assert.Equal(t, "How do I configure the billing", updated.Title)
	assert.True(t, updated.HasCustomTitle)
}

func TestMaybeDeriveTitleRespectsCustomTitle(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 50, zerolog.Nop())
	user := createTestUser(t, db)

	conversation, err := svc.Create(user.ID, "My Title")
	require.NoError(t, err)

	require.NoError(t, svc.MaybeDeriveTitle(conversation.ID, "Something else entirely"))

	var updated models.Conversation
	require.NoError(t, db.First(&updated, conversation.ID).Error)
	assert.Equal(t, "My Title", updated.Title)
}

func TestDeriveTitleTruncation(t *testing.T) {
	long := strings.Repeat("incomprehensibilities ", 6)
	title := deriveTitle(long)
	assert.LessOrEqual(t, len(title), titleMaxLen)
	assert.True(t, strings.HasSuffix(title, "..."))

	assert.Equal(t, models.DefaultConversationTitle, deriveTitle("   "))
}

func TestListByUserOrdersByRecency(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 50, zerolog.Nop())
	user := createTestUser(t, db)

	var ids []uint
	for i := 0; i < 3; i++ {
		conversation, err := svc.Create(user.ID, fmt.Sprintf("c%d", i))
		require.NoError(t, err)
		ids = append(ids, conversation.ID)
	}

	// Touch the first conversation last.
	require.NoError(t, svc.AppendMessage(ids[0], &models.Message{Content: "ping", IsUserMessage: true}))

	conversations, total, err := svc.ListByUser(user.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, conversations, 3)
	assert.Equal(t, ids[0], conversations[0].ID)
}

func TestPurgeDeletesConversationAndMessages(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(db, 50, zerolog.Nop())
	user := createTestUser(t, db)

	conversation, err := svc.Create(user.ID, "")
	require.NoError(t, err)
	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "q", IsUserMessage: true}))
	require.NoError(t, svc.AppendMessage(conversation.ID, &models.Message{Content: "a"}))

	require.NoError(t, svc.Purge(conversation.ID))

	var messageCount int64
	require.NoError(t, db.Model(&models.Message{}).
		Where("conversation_id = ?", conversation.ID).Count(&messageCount).Error)
	assert.Equal(t, int64(0), messageCount)

	_, err = svc.GetOwned(conversation.ID, user.ID)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}
