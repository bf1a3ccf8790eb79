package services

import (
	"time"

	apperrors "ai_assistant_go_backend/internal/errors"
	"ai_assistant_go_backend/internal/models"
	"ai_assistant_go_backend/internal/pricing"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ConfigService manages the admin-controlled AIConfig records and their
// lifetime usage counters.
type ConfigService struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewConfigService(db *gorm.DB, log zerolog.Logger) *ConfigService {
	return &ConfigService{db: db, log: log}
}

// ActiveConfig returns the one active configuration for a company. A missing
// or credential-less config is an administrator problem, reported as
// service-unavailable rather than a per-message error.
func (s *ConfigService) ActiveConfig(companyID uint) (*models.AIConfig, error) {
	var cfg models.AIConfig
	err := s.db.Where("is_active = ? AND company_id = ?", true, companyID).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.NewServiceUnavailableError("No AI configuration found. Please contact your administrator to set up the AI service.")
	}
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" && cfg.Provider != models.ProviderWebhook {
		return nil, apperrors.NewServiceUnavailableError("AI service is not configured. Please contact your administrator to add API credentials.")
	}
	return &cfg, nil
}

// Activate makes one configuration active and deactivates its siblings in a
// single transaction, so concurrent activations cannot leave two active
// configs for the same company.
func (s *ConfigService) Activate(configID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var cfg models.AIConfig
		if err := tx.First(&cfg, configID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperrors.NewNotFoundError("Configuration not found")
			}
			return err
		}

		if err := tx.Model(&models.AIConfig{}).
			Where("company_id = ? AND id <> ?", cfg.CompanyID, cfg.ID).
			Update("is_active", false).Error; err != nil {
			return err
		}

		return tx.Model(&cfg).Update("is_active", true).Error
	})
}

func (s *ConfigService) Create(cfg *models.AIConfig) error {
	return s.db.Create(cfg).Error
}

// RecordUsage accumulates lifetime token/cost/revenue counters after each
// successful, billed exchange.
func (s *ConfigService) RecordUsage(configID uint, tokensUsed int, creditCost float64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var cfg models.AIConfig
		if err := tx.First(&cfg, configID).Error; err != nil {
			return err
		}

		now := time.Now()
		cfg.TotalTokensUsed += int64(tokensUsed)
		cfg.TotalCostUSD += pricing.ProviderCostUSD(tokensUsed, &cfg)
		cfg.TotalRevenueUSD += pricing.RevenueUSD(creditCost, &cfg)
		cfg.LastAPICall = &now
		cfg.APIStatus = models.APIStatusWorking
		cfg.APIErrorMessage = ""

		return tx.Save(&cfg).Error
	})
}

// RecordError marks the config's provider as failing for the status surface.
func (s *ConfigService) RecordError(configID uint, message string) error {
	now := time.Now()
	return s.db.Model(&models.AIConfig{}).
		Where("id = ?", configID).
		Updates(map[string]interface{}{
			"api_status":        models.APIStatusError,
			"api_error_message": message,
			"last_api_call":     now,
		}).Error
}

// SystemStatus is the payload of the status endpoint: provider health plus
// user-facing pricing samples, no admin-only fields.
type SystemStatus struct {
	Available   bool                 `json:"available"`
	Provider    string               `json:"provider,omitempty"`
	Model       string               `json:"model,omitempty"`
	APIStatus   string               `json:"api_status,omitempty"`
	LastAPICall *time.Time           `json:"last_api_call,omitempty"`
	CreditRate  float64              `json:"credit_rate,omitempty"`
	SampleCosts []pricing.SampleCost `json:"sample_costs,omitempty"`
	Message     string               `json:"message,omitempty"`
}

func (s *ConfigService) Status(companyID uint) *SystemStatus {
	cfg, err := s.ActiveConfig(companyID)
	if err != nil {
		return &SystemStatus{Available: false, Message: err.Error()}
	}
	return &SystemStatus{
		Available:   true,
		Provider:    cfg.Provider,
		Model:       cfg.ModelName,
		APIStatus:   cfg.APIStatus,
		LastAPICall: cfg.LastAPICall,
		CreditRate:  cfg.CreditRate,
		SampleCosts: pricing.SampleCosts(cfg),
	}
}
