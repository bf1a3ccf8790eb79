package services

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestStripePriceUSD(t *testing.T) {
	db := newTestDB(t)
	configs := NewConfigService(db, zerolog.Nop())
	svc := NewStripeService("sk_test", "whsec_test", "http://x/success", "http://x/cancel", nil, configs, zerolog.Nop())

	// No active config: default 10 credits per USD.
	assert.InDelta(t, 5.0, svc.PriceUSD(0, 50), 1e-9)

	cfg := seedActiveConfig(t, db)
	cfg.CreditRate = 20
	assert.NoError(t, db.Save(cfg).Error)
	assert.InDelta(t, 2.5, svc.PriceUSD(0, 50), 1e-9)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	svc := NewStripeService("sk_test", "whsec_test", "http://x/success", "http://x/cancel", nil, nil, zerolog.Nop())

	err := svc.HandleWebhook([]byte(`{"type":"checkout.session.completed"}`), "t=1,v1=bad")
	assert.Error(t, err)
}
