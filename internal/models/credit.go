package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TransactionPurchase  TransactionType = "purchase"
	TransactionUsage     TransactionType = "usage"
	TransactionRefund    TransactionType = "refund"
	TransactionBonus     TransactionType = "bonus"
	TransactionUnlimited TransactionType = "unlimited" // zero-amount audit marker
)

// UserCredit tracks one user's credit balance and lifetime usage counters.
// The CreditTransaction ledger is the source of truth: TotalCredits and
// UsedCredits must always be derivable by replaying it.
type UserCredit struct {
	gorm.Model
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`

	TotalCredits float64
	UsedCredits  float64

	// Unlimited-usage window. While active, debits skip the balance but
	// still append a marker transaction.
	UnlimitedStart *time.Time
	UnlimitedEnd   *time.Time

	TotalMessagesSent int
	TotalTokensUsed   int64
	TotalSpentUSD     float64
	LastUsageAt       *time.Time

	IsActive             bool    `gorm:"default:true"`
	CreditLimit          float64 `gorm:"default:1000"`
	LowCreditWarningSent bool

	Transactions []CreditTransaction `gorm:"foreignKey:UserCreditID"`
}

func (c *UserCredit) RemainingCredits() float64 {
	return c.TotalCredits - c.UsedCredits
}

func (c *UserCredit) UnlimitedActive(now time.Time) bool {
	return c.UnlimitedStart != nil && c.UnlimitedEnd != nil &&
		!now.Before(*c.UnlimitedStart) && !now.After(*c.UnlimitedEnd)
}

// CreditTransaction is an immutable append-only ledger row. Amount is
// positive for additions and negative for usage; BalanceAfter must equal
// BalanceBefore + Amount.
type CreditTransaction struct {
	gorm.Model
	UserCreditID uint      `gorm:"index;not null"`
	UserID       uuid.UUID `gorm:"type:uuid;index"`

	Type        TransactionType `gorm:"index;not null"`
	Amount      float64         `gorm:"not null"`
	Description string          `gorm:"type:text"`

	MessageID   *uint  // AI message that triggered a usage debit
	ExternalRef string `gorm:"index"` // payment reference for purchases

	BalanceBefore float64
	BalanceAfter  float64
}
