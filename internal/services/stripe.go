package services

import (
	"encoding/json"
	"fmt"
	"math"

	"ai_assistant_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

type StripeService struct {
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	credits       CreditLedger
	configs       ActiveConfigProvider
	log           zerolog.Logger
}

func NewStripeService(secretKey, webhookSecret, successURL, cancelURL string, credits CreditLedger, configs ActiveConfigProvider, log zerolog.Logger) *StripeService {
	stripe.Key = secretKey
	return &StripeService{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		credits:       credits,
		configs:       configs,
		log:           log.With().Str("service", "stripe").Logger(),
	}
}

// PriceUSD converts a credit amount to a USD price at the active config's
// credit rate. Falls back to 10 credits per USD when no config is active.
func (s *StripeService) PriceUSD(companyID uint, creditAmount float64) float64 {
	rate := 10.0
	if s.configs != nil {
		if cfg, err := s.configs.ActiveConfig(companyID); err == nil && cfg.CreditRate > 0 {
			rate = cfg.CreditRate
		}
	}
	return creditAmount / rate
}

// CreateCheckoutSession opens a Stripe checkout for a credit top-up. The
// purchasing user and credit amount travel in the session metadata so the
// webhook can settle the ledger without any local pending-order state.
func (s *StripeService) CreateCheckoutSession(userID string, companyID uint, creditAmount float64) (*stripe.CheckoutSession, error) {
	if creditAmount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %.2f", creditAmount)
	}
	priceUSD := s.PriceUSD(companyID, creditAmount)
	unitAmount := int64(math.Round(priceUSD * 100))

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String("usd"),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%.0f AI Credits", creditAmount)),
					},
					UnitAmount: &unitAmount,
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(userID),
		Metadata: map[string]string{
			"credit_amount": fmt.Sprintf("%.2f", creditAmount),
		},
	}

	return session.New(params)
}

// HandleWebhook verifies the Stripe signature and credits the buyer's
// account on checkout.session.completed. Crediting is idempotent per
// session through the transaction's external reference.
func (s *StripeService) HandleWebhook(payload []byte, signatureHeader string) error {
	event, err := webhook.ConstructEvent(payload, signatureHeader, s.webhookSecret)
	if err != nil {
		return fmt.Errorf("webhook signature verification failed: %w", err)
	}

	if event.Type != "checkout.session.completed" {
		s.log.Debug().Str("event_type", string(event.Type)).Msg("Ignoring stripe event")
		return nil
	}

	var checkout stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &checkout); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	userID, err := uuid.Parse(checkout.ClientReferenceID)
	if err != nil {
		return fmt.Errorf("checkout session %s has invalid client reference: %w", checkout.ID, err)
	}
	var creditAmount float64
	if _, err := fmt.Sscanf(checkout.Metadata["credit_amount"], "%f", &creditAmount); err != nil {
		return fmt.Errorf("checkout session %s has no credit amount: %w", checkout.ID, err)
	}
	if creditAmount <= 0 {
		return fmt.Errorf("checkout session %s missing purchase details", checkout.ID)
	}

	description := fmt.Sprintf("Purchased %.2f credits", creditAmount)
	if _, err := s.credits.Credit(userID, creditAmount, models.TransactionPurchase, description, checkout.ID); err != nil {
		return fmt.Errorf("failed to credit purchase for user %s: %w", userID, err)
	}

	s.log.Info().
		Str("user_id", userID.String()).
		Float64("credits", creditAmount).
		Str("session_id", checkout.ID).
		Msg("Credit purchase settled")
	return nil
}
