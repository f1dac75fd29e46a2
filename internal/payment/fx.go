package payment

import (
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/payment/adapters"
	"github.com/smallbiznis/referrals/internal/payment/adapters/stripe"
	"github.com/smallbiznis/referrals/internal/payment/domain"
	"github.com/smallbiznis/referrals/internal/payment/repository"
	"github.com/smallbiznis/referrals/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(webhook.NewService),
)

// NewRegistry binds every supported provider to its webhook secret.
// Providers without a secret stay registered and answer 503.
func NewRegistry(cfg config.Config, clk clock.Clock, log *zap.Logger) *adapters.Registry {
	reg := adapters.NewRegistry(stripe.NewFactory())
	if cfg.Webhook.StripeSecret != "" {
		reg.Configure("stripe", domain.AdapterConfig{
			Secret:    cfg.Webhook.StripeSecret,
			Tolerance: cfg.Webhook.StripeTolerance,
			Clock:     clk,
		})
	} else {
		log.Warn("payment webhook secret not set", zap.String("provider", "stripe"))
	}
	return reg
}
