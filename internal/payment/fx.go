package payment

import (
	"fmt"

	"github.com/smallbiznis/tablemenu/internal/config"
	"github.com/smallbiznis/tablemenu/internal/payment/adapters"
	"github.com/smallbiznis/tablemenu/internal/payment/adapters/sandbox"
	"github.com/smallbiznis/tablemenu/internal/payment/adapters/stripe"
	"github.com/smallbiznis/tablemenu/internal/payment/adapters/yookassa"
	paymentdomain "github.com/smallbiznis/tablemenu/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.provider",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			yookassa.NewFactory(),
			stripe.NewFactory(),
			sandbox.NewFactory(),
		)
	}),
	fx.Provide(NewProvider),
)

// NewProvider builds the configured provider from the adapter registry.
func NewProvider(cfg config.Config, registry *adapters.Registry, log *zap.Logger) (paymentdomain.Provider, error) {
	name := cfg.Payment.Provider
	if name == "" {
		name = "sandbox"
	}

	provider, err := registry.NewProvider(name, AdapterConfigFrom(cfg.Payment))
	if err != nil {
		return nil, fmt.Errorf("payment provider %q: %w", name, err)
	}
	if name == "sandbox" && cfg.IsProduction() {
		log.Warn("sandbox payment provider enabled in production")
	}
	log.Info("payment provider ready", zap.String("provider", provider.Name()))
	return provider, nil
}

func AdapterConfigFrom(cfg config.PaymentConfig) paymentdomain.AdapterConfig {
	return paymentdomain.AdapterConfig{Config: map[string]any{
		"shop_id":    cfg.YooKassaShopID,
		"secret_key": secretFor(cfg),
		"base_url":   cfg.YooKassaBaseURL,
	}}
}

func secretFor(cfg config.PaymentConfig) string {
	if cfg.Provider == "stripe" {
		return cfg.StripeSecretKey
	}
	return cfg.YooKassaSecretKey
}
