package services

import (
	"strings"
	"time"

	apperrors "ai_assistant_go_backend/internal/errors"
	"ai_assistant_go_backend/internal/models"
	"ai_assistant_go_backend/internal/providers"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	titleMaxWords = 6
	titleMaxLen   = 50
)

// ConversationService implements ConversationStore over gorm.
type ConversationService struct {
	db               *gorm.DB
	maxConversations int
	log              zerolog.Logger
}

func NewConversationService(db *gorm.DB, maxConversations int, log zerolog.Logger) *ConversationService {
	return &ConversationService{db: db, maxConversations: maxConversations, log: log}
}

func (s *ConversationService) Create(userID uuid.UUID, title string) (*models.Conversation, error) {
	var active int64
	if err := s.db.Model(&models.Conversation{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&active).Error; err != nil {
		return nil, err
	}
	if s.maxConversations > 0 && int(active) >= s.maxConversations {
		return nil, apperrors.NewValidationError("Maximum number of active conversations reached. Please archive some conversations first.")
	}

	conversation := &models.Conversation{
		UserID:         userID,
		Title:          title,
		HasCustomTitle: title != "",
		IsActive:       true,
	}
	if title == "" {
		conversation.Title = models.DefaultConversationTitle
	}

	if err := s.db.Create(conversation).Error; err != nil {
		return nil, err
	}
	return conversation, nil
}

// GetOwned loads a conversation and enforces ownership; archived
// conversations remain fetchable by id.
func (s *ConversationService) GetOwned(conversationID uint, userID uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := s.db.First(&conversation, conversationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundError("Conversation not found")
		}
		return nil, err
	}
	if conversation.UserID != userID {
		return nil, apperrors.NewAccessDeniedError("Access denied to conversation")
	}
	return &conversation, nil
}

// ListByUser returns the user's active (non-archived) conversations, most
// recently used first.
func (s *ConversationService) ListByUser(userID uuid.UUID, limit, offset int) ([]models.Conversation, int64, error) {
	query := s.db.Model(&models.Conversation{}).
		Where("user_id = ? AND is_active = ?", userID, true)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var conversations []models.Conversation
	if err := query.
		Order("last_message_at desc, created_at desc").
		Limit(limit).Offset(offset).
		Find(&conversations).Error; err != nil {
		return nil, 0, err
	}
	return conversations, total, nil
}

func (s *ConversationService) Messages(conversationID uint, limit, offset int) ([]models.Message, int64, error) {
	query := s.db.Model(&models.Message{}).Where("conversation_id = ?", conversationID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.Message
	if err := query.Order("created_at asc").Limit(limit).Offset(offset).Find(&messages).Error; err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// RecentTurns builds the provider history from the newest messages, oldest
// first, skipping failed exchanges.
func (s *ConversationService) RecentTurns(conversationID uint, max int) ([]providers.Turn, error) {
	var messages []models.Message
	if err := s.db.Where("conversation_id = ? AND error_message = ?", conversationID, "").
		Order("created_at desc").
		Limit(max).
		Find(&messages).Error; err != nil {
		return nil, err
	}

	turns := make([]providers.Turn, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		role := providers.RoleAssistant
		if messages[i].IsUserMessage {
			role = providers.RoleUser
		}
		turns = append(turns, providers.Turn{Role: role, Content: messages[i].Content})
	}
	return turns, nil
}

// AppendMessage persists a message and updates the conversation's derived
// aggregates in the same transaction.
func (s *ConversationService) AppendMessage(conversationID uint, message *models.Message) error {
	message.ConversationID = conversationID
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		var conversation models.Conversation
		if err := tx.First(&conversation, conversationID).Error; err != nil {
			return err
		}

		now := time.Now()
		conversation.MessageCount++
		conversation.LastMessageAt = &now
		if !message.IsUserMessage {
			conversation.TotalTokensUsed += int64(message.TokensUsed)
			conversation.TotalCostUSD += message.ActualCostUSD
			conversation.TotalCreditsUsed += message.CreditCost
		}

		return tx.Save(&conversation).Error
	})
}

// UpdateMessage persists changes to an already-appended message (billing
// flag, cost corrections).
func (s *ConversationService) UpdateMessage(message *models.Message) error {
	return s.db.Save(message).Error
}

// MaybeDeriveTitle sets the title from the leading words of the first user
// message. The HasCustomTitle flag makes derivation run at most once and
// never clobber a user-chosen name.
func (s *ConversationService) MaybeDeriveTitle(conversationID uint, userText string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var conversation models.Conversation
		if err := tx.First(&conversation, conversationID).Error; err != nil {
			return err
		}
		if conversation.HasCustomTitle || conversation.MessageCount > 2 {
			return nil
		}

		conversation.Title = deriveTitle(userText)
		conversation.HasCustomTitle = true
		return tx.Save(&conversation).Error
	})
}

func deriveTitle(text string) string {
	words := strings.Fields(text)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	title := strings.Join(words, " ")
	if len(title) > titleMaxLen {
		title = title[:titleMaxLen-3] + "..."
	}
	if title == "" {
		title = models.DefaultConversationTitle
	}
	return title
}

// Archive soft-deletes: the conversation drops out of the default listing
// but its messages stay fetchable.
func (s *ConversationService) Archive(conversationID uint) error {
	return s.db.Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("is_active", false).Error
}

// Purge hard-deletes a conversation and cascades to its messages.
func (s *ConversationService) Purge(conversationID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Conversation{}, conversationID).Error
	})
}
