package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderWebhook   = "webhook"
)

const (
	APIStatusUnknown = "unknown"
	APIStatusWorking = "working"
	APIStatusError   = "error"
)

// AIConfig is the admin-managed provider and billing configuration.
// Exactly one config may be active per company at a time; activation is
// done through ConfigService.Activate, never by writing IsActive directly.
type AIConfig struct {
	gorm.Model
	Name        string `gorm:"not null"`
	Provider    string `gorm:"not null;default:openai"`
	APIKey      string
	ModelName   string
	WebhookURL  string // upstream endpoint for the generic webhook provider
	MaxTokens   int    `gorm:"default:1000"`
	Temperature float64 `gorm:"default:0.7"`

	// Billing settings
	CostPer1KTokens float64 `gorm:"default:0.002"` // upstream provider cost in USD
	MarkupPercent   float64 `gorm:"default:300"`
	CreditRate      float64 `gorm:"default:10"` // credits per USD

	IsActive  bool `gorm:"index"`
	CompanyID uint `gorm:"index"`

	// Lifetime usage counters
	TotalTokensUsed int64
	TotalCostUSD    float64
	TotalRevenueUSD float64

	LastAPICall     *time.Time
	APIStatus       string `gorm:"default:unknown"`
	APIErrorMessage string
}

func (c *AIConfig) TotalProfitUSD() float64 {
	return c.TotalRevenueUSD - c.TotalCostUSD
}

func (c *AIConfig) ProfitMarginPercent() float64 {
	if c.TotalRevenueUSD <= 0 {
		return 0
	}
	return c.TotalProfitUSD() / c.TotalRevenueUSD * 100
}
