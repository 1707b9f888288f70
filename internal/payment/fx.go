package payment

import (
	"go.uber.org/fx"

	"github.com/stackforge/tenantry/internal/config"
	"github.com/stackforge/tenantry/internal/payment/domain"
	"github.com/stackforge/tenantry/internal/payment/gateway"
	"github.com/stackforge/tenantry/internal/payment/service"
)

var Module = fx.Module("payment",
	fx.Provide(NewRegistry),
	fx.Provide(ProvideGateway),
	fx.Provide(service.NewWebhookIngester),
)

// NewRegistry wires every known gateway; webhook routes resolve by name.
func NewRegistry(cfg config.Config) *gateway.Registry {
	return gateway.NewRegistry(
		gateway.NewMock(),
		gateway.NewRazorpay(cfg.PaymentKeyID, cfg.PaymentKeySecret, cfg.PaymentWebhookSecret),
	)
}

// ProvideGateway picks the configured gateway for interactive checkout.
func ProvideGateway(cfg config.Config, registry *gateway.Registry) (domain.Gateway, error) {
	return registry.Get(cfg.PaymentProvider)
}
