package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultConversationTitle = "New Conversation"

type Conversation struct {
	gorm.Model
	UserID uuid.UUID `gorm:"type:uuid;index;not null"`
	Title  string    `gorm:"not null"`

	// Set when the user named the conversation or a title was derived,
	// so derivation never retitles an existing conversation.
	HasCustomTitle bool

	IsActive bool `gorm:"default:true;index"` // false = archived

	Messages      []Message `gorm:"foreignKey:ConversationID"`
	MessageCount  int
	LastMessageAt *time.Time

	// Spend aggregates over AI-authored messages
	TotalTokensUsed  int64
	TotalCostUSD     float64
	TotalCreditsUsed float64
}

// Message belongs to exactly one conversation. Cost and revenue fields are
// only set on AI-authored messages; creation-time ascending order is the
// order replayed to the provider.
type Message struct {
	gorm.Model
	ConversationID uint   `gorm:"index;not null"`
	Content        string `gorm:"type:text;not null"`
	IsUserMessage  bool

	TokensUsed        int
	TokensApproximate bool // usage was estimated, not provider-reported
	ResponseTime      float64
	CreditCost        float64
	ActualCostUSD     float64
	RevenueUSD        float64
	ErrorMessage      string `gorm:"type:text"`

	// Set when settlement failed after the response was already delivered.
	BillingFlagged bool
}
