package pricing

import (
	"math"
	"strings"

	"ai_assistant_go_backend/internal/models"

	"github.com/shopspring/decimal"
)

// ApproximateUsageMargin is the conservative factor applied at settlement
// when the provider did not report exact token usage.
const ApproximateUsageMargin = 1.2

// CreditCost converts a token count into a credit charge:
//
//	credits = (tokens/1000 * cost_per_1k) * (1 + markup/100) * credit_rate
//
// rounded half-up to 4 decimal places. Zero or negative token counts cost
// nothing. The same config snapshot must be used for the preflight estimate
// and the settlement of one exchange.
func CreditCost(tokens int, cfg *models.AIConfig) float64 {
	if tokens <= 0 {
		return 0
	}

	cost := decimal.NewFromInt(int64(tokens)).
		Div(decimal.NewFromInt(1000)).
		Mul(decimal.NewFromFloat(cfg.CostPer1KTokens)).
		Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(cfg.MarkupPercent).Div(decimal.NewFromInt(100)))).
		Mul(decimal.NewFromFloat(cfg.CreditRate))

	credits, _ := cost.Round(4).Float64()
	return credits
}

// ProviderCostUSD is the unmarked-up upstream cost for a token count.
func ProviderCostUSD(tokens int, cfg *models.AIConfig) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000 * cfg.CostPer1KTokens
}

// RevenueUSD converts a credit charge back into the currency amount billed.
func RevenueUSD(credits float64, cfg *models.AIConfig) float64 {
	if cfg.CreditRate <= 0 {
		return 0
	}
	return credits / cfg.CreditRate
}

// EstimateTokens guesses a token count from message text for the preflight
// check. factor is the words-to-tokens multiplier (1.3 to 2.0 depending on
// policy).
func EstimateTokens(text string, factor float64) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * factor))
}

// ChargeableTokens applies the conservative margin to approximate counts;
// exact provider-reported counts pass through unchanged.
func ChargeableTokens(tokens int, approximate bool) int {
	if !approximate {
		return tokens
	}
	return int(math.Ceil(float64(tokens) * ApproximateUsageMargin))
}

// SampleCost describes the credit price of a message of a given size, for
// user-facing pricing info.
type SampleCost struct {
	Tokens  int     `json:"tokens"`
	Credits float64 `json:"credits"`
	USD     float64 `json:"usd"`
}

// SampleCosts returns example charges for common message sizes.
func SampleCosts(cfg *models.AIConfig) []SampleCost {
	sizes := []int{50, 100, 200, 500, 1000}
	samples := make([]SampleCost, 0, len(sizes))
	for _, tokens := range sizes {
		credits := CreditCost(tokens, cfg)
		usd, _ := decimal.NewFromFloat(RevenueUSD(credits, cfg)).Round(4).Float64()
		samples = append(samples, SampleCost{Tokens: tokens, Credits: credits, USD: usd})
	}
	return samples
}
