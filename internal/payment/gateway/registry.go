package gateway

import (
	"strings"

	"github.com/stackforge/tenantry/internal/payment/domain"
)

// Registry resolves gateways by provider name. Webhook routes carry the
// provider in the path, so lookups happen per request.
type Registry struct {
	gateways map[string]domain.Gateway
}

func NewRegistry(gateways ...domain.Gateway) *Registry {
	r := &Registry{gateways: make(map[string]domain.Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

func (r *Registry) Get(provider string) (domain.Gateway, error) {
	g, ok := r.gateways[strings.ToLower(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return g, nil
}
