package services

import (
	"math"
	"sort"
	"time"

	"ai_assistant_go_backend/internal/models"

	"gorm.io/gorm"
)

// AnalyticsService computes read-only business rollups by scanning messages
// and the credit ledger. Not on the critical path; computed on demand.
type AnalyticsService struct {
	db *gorm.DB
}

func NewAnalyticsService(db *gorm.DB) *AnalyticsService {
	return &AnalyticsService{db: db}
}

type RevenueMetrics struct {
	TotalRevenueUSD      float64 `json:"total_revenue_usd"`
	TotalCostUSD         float64 `json:"total_cost_usd"`
	ProfitUSD            float64 `json:"profit_usd"`
	ProfitMarginPercent  float64 `json:"profit_margin_percent"`
	PurchaseRevenueUSD   float64 `json:"purchase_revenue_usd"`
	AvgRevenuePerMessage float64 `json:"avg_revenue_per_message"`
}

type UsageMetrics struct {
	TotalMessages        int     `json:"total_messages"`
	TotalTokens          int64   `json:"total_tokens"`
	ExactTokenMessages   int     `json:"exact_token_messages"`
	TotalCreditsSold     float64 `json:"total_credits_sold"`
	AvgTokensPerMessage  float64 `json:"avg_tokens_per_message"`
	AvgCreditsPerMessage float64 `json:"avg_credits_per_message"`
	ActiveUsers          int     `json:"active_users"`
	ActiveConversations  int     `json:"active_conversations"`
}

type UserMetrics struct {
	RevenuePerUser  float64 `json:"revenue_per_user"`
	MessagesPerUser float64 `json:"messages_per_user"`
	CreditsPerUser  float64 `json:"credits_per_user"`
}

type GrowthMetrics struct {
	MessageGrowthPercent float64 `json:"message_growth_percent"`
	UserGrowthPercent    float64 `json:"user_growth_percent"`
	CurrentMessages      int     `json:"current_messages"`
	PreviousMessages     int     `json:"previous_messages"`
}

type DailyMetric struct {
	Day        string  `json:"day"`
	Messages   int     `json:"messages"`
	RevenueUSD float64 `json:"revenue_usd"`
	CostUSD    float64 `json:"cost_usd"`
}

type BusinessMetrics struct {
	PeriodDays int            `json:"period_days"`
	DateFrom   string         `json:"date_from"`
	DateTo     string         `json:"date_to"`
	Revenue    RevenueMetrics `json:"revenue"`
	Usage      UsageMetrics   `json:"usage"`
	PerUser    UserMetrics    `json:"user_metrics"`
	Growth     GrowthMetrics  `json:"growth"`
	Daily      []DailyMetric  `json:"daily"`
}

// BusinessMetrics sums revenue, cost and usage over billed AI messages in
// the window and compares with the prior window of equal length.
func (s *AnalyticsService) BusinessMetrics(days int) (*BusinessMetrics, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -days)

	var messages []struct {
		models.Message
		UserID string
	}
	err := s.db.Model(&models.Message{}).
		Select("messages.*, conversations.user_id as user_id").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("messages.created_at >= ? AND messages.is_user_message = ? AND messages.credit_cost > 0", from, false).
		Scan(&messages).Error
	if err != nil {
		return nil, err
	}

	metrics := &BusinessMetrics{
		PeriodDays: days,
		DateFrom:   from.Format("2006-01-02"),
		DateTo:     now.Format("2006-01-02"),
	}

	users := map[string]bool{}
	conversations := map[uint]bool{}
	daily := map[string]*DailyMetric{}

	for _, m := range messages {
		metrics.Revenue.TotalRevenueUSD += m.RevenueUSD
		metrics.Revenue.TotalCostUSD += m.ActualCostUSD
		metrics.Usage.TotalMessages++
		metrics.Usage.TotalTokens += int64(m.TokensUsed)
		metrics.Usage.TotalCreditsSold += m.CreditCost
		if !m.TokensApproximate {
			metrics.Usage.ExactTokenMessages++
		}
		users[m.UserID] = true
		conversations[m.ConversationID] = true

		day := m.CreatedAt.Format("2006-01-02")
		if daily[day] == nil {
			daily[day] = &DailyMetric{Day: day}
		}
		daily[day].Messages++
		daily[day].RevenueUSD += m.RevenueUSD
		daily[day].CostUSD += m.ActualCostUSD
	}

	metrics.Revenue.ProfitUSD = metrics.Revenue.TotalRevenueUSD - metrics.Revenue.TotalCostUSD
	if metrics.Revenue.TotalRevenueUSD > 0 {
		metrics.Revenue.ProfitMarginPercent = round1(metrics.Revenue.ProfitUSD / metrics.Revenue.TotalRevenueUSD * 100)
	}

	totalMessages := math.Max(float64(metrics.Usage.TotalMessages), 1)
	metrics.Revenue.AvgRevenuePerMessage = metrics.Revenue.TotalRevenueUSD / totalMessages
	metrics.Usage.AvgTokensPerMessage = float64(metrics.Usage.TotalTokens) / totalMessages
	metrics.Usage.AvgCreditsPerMessage = metrics.Usage.TotalCreditsSold / totalMessages
	metrics.Usage.ActiveUsers = len(users)
	metrics.Usage.ActiveConversations = len(conversations)

	var purchased float64
	if err := s.db.Model(&models.CreditTransaction{}).
		Where("created_at >= ? AND type = ?", from, models.TransactionPurchase).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&purchased).Error; err != nil {
		return nil, err
	}
	// Purchase revenue converts at the active credit rate; fall back to the
	// default rate when no config exists.
	rate := 10.0
	var cfg models.AIConfig
	if err := s.db.Where("is_active = ?", true).First(&cfg).Error; err == nil && cfg.CreditRate > 0 {
		rate = cfg.CreditRate
	}
	metrics.Revenue.PurchaseRevenueUSD = purchased / rate

	activeUsers := math.Max(float64(metrics.Usage.ActiveUsers), 1)
	metrics.PerUser = UserMetrics{
		RevenuePerUser:  metrics.Revenue.TotalRevenueUSD / activeUsers,
		MessagesPerUser: float64(metrics.Usage.TotalMessages) / activeUsers,
		CreditsPerUser:  metrics.Usage.TotalCreditsSold / activeUsers,
	}

	growth, err := s.growth(days, now)
	if err != nil {
		return nil, err
	}
	metrics.Growth = *growth

	for _, d := range daily {
		metrics.Daily = append(metrics.Daily, *d)
	}
	sort.Slice(metrics.Daily, func(i, j int) bool {
		return metrics.Daily[i].Day < metrics.Daily[j].Day
	})

	return metrics, nil
}

// growth compares the current window against the prior window of equal
// length.
func (s *AnalyticsService) growth(days int, now time.Time) (*GrowthMetrics, error) {
	currentStart := now.AddDate(0, 0, -days)
	previousStart := currentStart.AddDate(0, 0, -days)

	current, currentUsers, err := s.windowCounts(currentStart, now)
	if err != nil {
		return nil, err
	}
	previous, previousUsers, err := s.windowCounts(previousStart, currentStart)
	if err != nil {
		return nil, err
	}

	return &GrowthMetrics{
		CurrentMessages:      current,
		PreviousMessages:     previous,
		MessageGrowthPercent: round1(float64(current-previous) / math.Max(float64(previous), 1) * 100),
		UserGrowthPercent:    round1(float64(currentUsers-previousUsers) / math.Max(float64(previousUsers), 1) * 100),
	}, nil
}

func (s *AnalyticsService) windowCounts(from, to time.Time) (int, int, error) {
	var messages int64
	if err := s.db.Model(&models.Message{}).
		Where("created_at >= ? AND created_at < ? AND is_user_message = ?", from, to, false).
		Count(&messages).Error; err != nil {
		return 0, 0, err
	}

	var users int64
	if err := s.db.Model(&models.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("messages.created_at >= ? AND messages.created_at < ? AND messages.is_user_message = ?", from, to, false).
		Distinct("conversations.user_id").
		Count(&users).Error; err != nil {
		return 0, 0, err
	}

	return int(messages), int(users), nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
