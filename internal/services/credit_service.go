package services

import (
	"fmt"
	"sync"
	"time"

	apperrors "ai_assistant_go_backend/internal/errors"
	"ai_assistant_go_backend/internal/models"
	"ai_assistant_go_backend/internal/notify"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	// Low-balance warning fires once when remaining credits drop below
	// LowCreditThreshold; the flag rearms when a credit operation lifts the
	// balance to WarningResetThreshold or above.
	LowCreditThreshold    = 5.0
	WarningResetThreshold = 10.0
)

// AffordabilityDecision is the result of the advisory preflight check. It is
// a read-only probe, not a reservation: the authoritative re-check happens
// inside Debit.
type AffordabilityDecision struct {
	Allowed   bool
	Reason    string
	Remaining float64
	Required  float64
	Unlimited bool
}

type UsageSummary struct {
	PeriodDays           int     `json:"period_days"`
	CreditsUsed          float64 `json:"credits_used"`
	CreditsPurchased     float64 `json:"credits_purchased"`
	MessagesSent         int     `json:"messages_sent"`
	AvgCreditsPerMessage float64 `json:"avg_credits_per_message"`
	CurrentBalance       float64 `json:"current_balance"`
	TotalSpentUSD        float64 `json:"total_spent_usd"`
	UnlimitedActive      bool    `json:"unlimited_active"`
}

// CreditService implements CreditLedger over gorm. All balance mutations run
// inside a transaction and under a per-user lock, so two concurrent debits
// for the same user serialize; the ledger append and the balance update
// commit or fail as one unit.
type CreditService struct {
	db          *gorm.DB
	broker      *notify.Broker
	configs     ActiveConfigProvider
	freeCredits float64
	log         zerolog.Logger
	locks       sync.Map // userID -> *sync.Mutex
}

func NewCreditService(db *gorm.DB, broker *notify.Broker, configs ActiveConfigProvider, freeCredits float64, log zerolog.Logger) *CreditService {
	return &CreditService{
		db:          db,
		broker:      broker,
		configs:     configs,
		freeCredits: freeCredits,
		log:         log,
	}
}

func (s *CreditService) lockUser(userID uuid.UUID) func() {
	val, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := val.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// GetOrCreate is idempotent: the first call per user seeds the balance with
// the free-credit grant and appends the welcome bonus as the opening ledger
// row.
func (s *CreditService) GetOrCreate(userID uuid.UUID) (*models.UserCredit, error) {
	var credit models.UserCredit
	if err := s.db.Where("user_id = ?", userID).First(&credit).Error; err == nil {
		return &credit, nil
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	unlock := s.lockUser(userID)
	defer unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Re-check inside the lock: another request may have created it.
		if err := tx.Where("user_id = ?", userID).First(&credit).Error; err == nil {
			return nil
		} else if err != gorm.ErrRecordNotFound {
			return err
		}

		credit = models.UserCredit{
			UserID:       userID,
			TotalCredits: s.freeCredits,
			IsActive:     true,
			CreditLimit:  1000,
		}
		if err := tx.Create(&credit).Error; err != nil {
			return err
		}

		welcome := models.CreditTransaction{
			UserCreditID:  credit.ID,
			UserID:        userID,
			Type:          models.TransactionBonus,
			Amount:        s.freeCredits,
			Description:   "Welcome bonus - free credits to get started",
			BalanceBefore: 0,
			BalanceAfter:  s.freeCredits,
		}
		return tx.Create(&welcome).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("userID", userID.String()).Float64("credits", s.freeCredits).Msg("Created credit account")
	return &credit, nil
}

// CheckAffordability never mutates state and may be stale by the time the
// debit runs; callers must treat a denial as final but an approval as
// advisory.
func (s *CreditService) CheckAffordability(userID uuid.UUID, estimatedCredits float64) (*AffordabilityDecision, error) {
	credit, err := s.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}

	if !credit.IsActive {
		return &AffordabilityDecision{
			Allowed:   false,
			Reason:    "Account is inactive. Please contact support.",
			Remaining: credit.RemainingCredits(),
			Required:  estimatedCredits,
		}, nil
	}

	if credit.UnlimitedActive(time.Now()) {
		return &AffordabilityDecision{
			Allowed:   true,
			Reason:    "Unlimited usage active",
			Remaining: credit.RemainingCredits(),
			Required:  estimatedCredits,
			Unlimited: true,
		}, nil
	}

	remaining := credit.RemainingCredits()
	if remaining < estimatedCredits {
		return &AffordabilityDecision{
			Allowed:   false,
			Reason:    fmt.Sprintf("Insufficient credits. Need %.2f, have %.2f", estimatedCredits, remaining),
			Remaining: remaining,
			Required:  estimatedCredits,
		}, nil
	}

	return &AffordabilityDecision{
		Allowed:   true,
		Reason:    fmt.Sprintf("Sufficient credits (%.2f remaining)", remaining),
		Remaining: remaining,
		Required:  estimatedCredits,
	}, nil
}

// Debit is the authoritative settlement: the balance is re-validated inside
// the atomic region regardless of any earlier preflight approval. In an
// unlimited-usage window the balance is untouched but a zero-amount marker
// row keeps the ledger chain continuous.
func (s *CreditService) Debit(userID uuid.UUID, amount float64, tokensUsed int, messageID *uint, description string) (*models.CreditTransaction, error) {
	if description == "" {
		description = "AI message usage"
	}

	unlock := s.lockUser(userID)
	defer unlock()

	var record models.CreditTransaction
	var lowCreditEvent bool
	var remaining float64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var credit models.UserCredit
		if err := tx.Where("user_id = ?", userID).First(&credit).Error; err != nil {
			return err
		}

		now := time.Now()
		before := credit.RemainingCredits()

		if credit.UnlimitedActive(now) {
			credit.TotalMessagesSent++
			credit.TotalTokensUsed += int64(tokensUsed)
			credit.LastUsageAt = &now
			if err := tx.Save(&credit).Error; err != nil {
				return err
			}

			record = models.CreditTransaction{
				UserCreditID:  credit.ID,
				UserID:        userID,
				Type:          models.TransactionUnlimited,
				Amount:        0,
				Description:   fmt.Sprintf("Unlimited usage - %.4f credits worth", amount),
				MessageID:     messageID,
				BalanceBefore: before,
				BalanceAfter:  before,
			}
			remaining = before
			return tx.Create(&record).Error
		}

		if amount > before {
			return apperrors.NewInsufficientCreditsError(before, amount)
		}

		credit.UsedCredits += amount
		credit.TotalMessagesSent++
		credit.TotalTokensUsed += int64(tokensUsed)
		credit.LastUsageAt = &now

		remaining = credit.RemainingCredits()
		if remaining < LowCreditThreshold && !credit.LowCreditWarningSent {
			credit.LowCreditWarningSent = true
			lowCreditEvent = true
		}

		if err := tx.Save(&credit).Error; err != nil {
			return err
		}

		record = models.CreditTransaction{
			UserCreditID:  credit.ID,
			UserID:        userID,
			Type:          models.TransactionUsage,
			Amount:        -amount,
			Description:   description,
			MessageID:     messageID,
			BalanceBefore: before,
			BalanceAfter:  remaining,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, err
	}

	s.publishCreditUpdate(userID, remaining)
	if lowCreditEvent {
		s.log.Info().Str("userID", userID.String()).Float64("remaining", remaining).Msg("Low credit warning")
		s.publishLowCredit(userID, remaining)
	}

	return &record, nil
}

// Credit atomically adds purchased, refunded or bonus credits. A non-empty
// externalRef makes the operation idempotent: replaying the same reference
// returns the original ledger row without crediting twice.
func (s *CreditService) Credit(userID uuid.UUID, amount float64, txType models.TransactionType, description, externalRef string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, apperrors.NewValidationError("Credit amount must be positive")
	}
	switch txType {
	case models.TransactionPurchase, models.TransactionRefund, models.TransactionBonus:
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("Invalid credit transaction type: %s", txType))
	}
	if description == "" {
		description = fmt.Sprintf("Credit %s", txType)
	}

	unlock := s.lockUser(userID)
	defer unlock()

	var record models.CreditTransaction
	var remaining float64

	var replayed bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if externalRef != "" {
			err := tx.Where("user_id = ? AND external_ref = ?", userID, externalRef).First(&record).Error
			if err == nil {
				replayed = true
				return nil
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
		}

		var credit models.UserCredit
		if err := tx.Where("user_id = ?", userID).First(&credit).Error; err != nil {
			return err
		}

		if credit.TotalCredits+amount > credit.CreditLimit {
			return apperrors.NewCreditLimitExceededError(credit.CreditLimit)
		}

		before := credit.RemainingCredits()
		credit.TotalCredits += amount

		if txType == models.TransactionPurchase && s.configs != nil {
			// Spend tracking uses the purchaser's company rate, not a
			// global one.
			var user models.User
			if err := tx.Select("company_id").Where("id = ?", userID).First(&user).Error; err == nil {
				if cfg, err := s.configs.ActiveConfig(user.CompanyID); err == nil && cfg.CreditRate > 0 {
					credit.TotalSpentUSD += amount / cfg.CreditRate
				}
			}
		}

		remaining = credit.RemainingCredits()
		if remaining >= WarningResetThreshold {
			credit.LowCreditWarningSent = false
		}

		if err := tx.Save(&credit).Error; err != nil {
			return err
		}

		record = models.CreditTransaction{
			UserCreditID:  credit.ID,
			UserID:        userID,
			Type:          txType,
			Amount:        amount,
			Description:   description,
			ExternalRef:   externalRef,
			BalanceBefore: before,
			BalanceAfter:  remaining,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		return &record, nil
	}

	s.log.Info().
		Str("userID", userID.String()).
		Float64("amount", amount).
		Str("type", string(txType)).
		Msg("Added credits")
	s.publishCreditUpdate(userID, remaining)

	return &record, nil
}

func (s *CreditService) Transactions(userID uuid.UUID, since time.Time, limit, offset int) ([]models.CreditTransaction, int64, error) {
	query := s.db.Model(&models.CreditTransaction{}).
		Where("user_id = ? AND created_at >= ?", userID, since)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var transactions []models.CreditTransaction
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&transactions).Error; err != nil {
		return nil, 0, err
	}
	return transactions, total, nil
}

func (s *CreditService) UsageSummary(userID uuid.UUID, days int) (*UsageSummary, error) {
	credit, err := s.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}

	since := time.Now().AddDate(0, 0, -days)

	var transactions []models.CreditTransaction
	if err := s.db.Where("user_id = ? AND created_at >= ?", userID, since).Find(&transactions).Error; err != nil {
		return nil, err
	}

	summary := &UsageSummary{
		PeriodDays:      days,
		CurrentBalance:  credit.RemainingCredits(),
		TotalSpentUSD:   credit.TotalSpentUSD,
		UnlimitedActive: credit.UnlimitedActive(time.Now()),
	}
	for _, t := range transactions {
		switch t.Type {
		case models.TransactionUsage:
			summary.CreditsUsed += -t.Amount
			summary.MessagesSent++
		case models.TransactionUnlimited:
			summary.MessagesSent++
		case models.TransactionPurchase:
			summary.CreditsPurchased += t.Amount
		}
	}
	if summary.MessagesSent > 0 {
		summary.AvgCreditsPerMessage = summary.CreditsUsed / float64(summary.MessagesSent)
	}
	return summary, nil
}

// GrantUnlimited opens an unlimited-usage window on the account.
func (s *CreditService) GrantUnlimited(userID uuid.UUID, start, end time.Time) error {
	unlock := s.lockUser(userID)
	defer unlock()

	return s.db.Model(&models.UserCredit{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"unlimited_start": start,
			"unlimited_end":   end,
		}).Error
}

// Reset zeroes the usage counters but keeps the account identity. The audit
// row books the restored amount as a bonus so balance_after stays equal to
// balance_before plus amount and a replay of the ledger still reproduces the
// balance.
func (s *CreditService) Reset(userID uuid.UUID) error {
	unlock := s.lockUser(userID)
	defer unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var credit models.UserCredit
		if err := tx.Where("user_id = ?", userID).First(&credit).Error; err != nil {
			return err
		}

		before := credit.RemainingCredits()
		restored := credit.UsedCredits
		credit.UsedCredits = 0
		credit.TotalMessagesSent = 0
		credit.TotalTokensUsed = 0
		credit.LowCreditWarningSent = false
		credit.IsActive = true

		if err := tx.Save(&credit).Error; err != nil {
			return err
		}

		record := models.CreditTransaction{
			UserCreditID:  credit.ID,
			UserID:        userID,
			Type:          models.TransactionBonus,
			Amount:        restored,
			Description:   "Account reset by administrator",
			BalanceBefore: before,
			BalanceAfter:  credit.RemainingCredits(),
		}
		return tx.Create(&record).Error
	})
}

func (s *CreditService) publishCreditUpdate(userID uuid.UUID, remaining float64) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(notify.Event{
		Type:    notify.EventCreditUpdate,
		UserID:  userID.String(),
		Payload: map[string]interface{}{"remaining_credits": remaining},
	})
}

func (s *CreditService) publishLowCredit(userID uuid.UUID, remaining float64) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(notify.Event{
		Type:   notify.EventLowCredit,
		UserID: userID.String(),
		Payload: map[string]interface{}{
			"message":           fmt.Sprintf("Low credits: %.2f remaining", remaining),
			"remaining_credits": remaining,
		},
	})
}
