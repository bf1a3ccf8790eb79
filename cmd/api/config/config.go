package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries every tunable the server reads from the environment.
// Billing parameters (cost, markup, credit rate) live on the AI config
// rows, not here.
type Config struct {
	Port           string `envconfig:"PORT" default:"3000"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
	JWTSecret      string `envconfig:"JWT_SECRET" required:"true"`

	FreeCredits         float64       `envconfig:"FREE_CREDITS" default:"10"`
	EstimateTokenFactor float64       `envconfig:"ESTIMATE_TOKEN_FACTOR" default:"1.5"`
	ProviderTimeout     time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	RateLimitPerMinute  int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"10"`
	MaxConversations    int           `envconfig:"MAX_CONVERSATIONS_PER_USER" default:"50"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	CheckoutSuccessURL  string `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:5173/credits?purchase=success"`
	CheckoutCancelURL   string `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:5173/credits?purchase=cancelled"`

	WebSocketPingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
