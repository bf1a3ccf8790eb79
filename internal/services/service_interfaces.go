package services

import (
	"time"

	"ai_assistant_go_backend/internal/models"
	"ai_assistant_go_backend/internal/providers"

	"github.com/google/uuid"
)

// CreditLedger owns a user's balance and the append-only transaction log.
type CreditLedger interface {
	GetOrCreate(userID uuid.UUID) (*models.UserCredit, error)
	CheckAffordability(userID uuid.UUID, estimatedCredits float64) (*AffordabilityDecision, error)
	Debit(userID uuid.UUID, amount float64, tokensUsed int, messageID *uint, description string) (*models.CreditTransaction, error)
	Credit(userID uuid.UUID, amount float64, txType models.TransactionType, description, externalRef string) (*models.CreditTransaction, error)
	Transactions(userID uuid.UUID, since time.Time, limit, offset int) ([]models.CreditTransaction, int64, error)
	UsageSummary(userID uuid.UUID, days int) (*UsageSummary, error)
	GrantUnlimited(userID uuid.UUID, start, end time.Time) error
	Reset(userID uuid.UUID) error
}

// ConversationStore owns conversation and message records.
type ConversationStore interface {
	Create(userID uuid.UUID, title string) (*models.Conversation, error)
	GetOwned(conversationID uint, userID uuid.UUID) (*models.Conversation, error)
	ListByUser(userID uuid.UUID, limit, offset int) ([]models.Conversation, int64, error)
	Messages(conversationID uint, limit, offset int) ([]models.Message, int64, error)
	RecentTurns(conversationID uint, max int) ([]providers.Turn, error)
	AppendMessage(conversationID uint, message *models.Message) error
	MaybeDeriveTitle(conversationID uint, userText string) error
	Archive(conversationID uint) error
	Purge(conversationID uint) error
}

// ActiveConfigProvider yields the snapshotted provider/billing configuration.
type ActiveConfigProvider interface {
	ActiveConfig(companyID uint) (*models.AIConfig, error)
}

// GatewaySelector picks the provider gateway variant for a config snapshot.
type GatewaySelector func(cfg *models.AIConfig) (providers.Gateway, error)
