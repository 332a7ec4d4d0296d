package gateway

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// Registry resolves a provider name to its adapter.
type Registry struct {
	gateways map[domain.Provider]domain.Gateway
}

// NewRegistry indexes gateways by their provider. A later gateway for the
// same provider replaces an earlier one.
func NewRegistry(gateways ...domain.Gateway) *Registry {
	r := &Registry{gateways: make(map[domain.Provider]domain.Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

// NewDefaultRegistry builds the four production adapters.
func NewDefaultRegistry(cfg Config, log *zap.Logger) *Registry {
	return NewRegistry(
		NewAuthorizeNet(cfg, log),
		NewUSAePay(cfg, log),
		NewStripe(cfg, log),
		NewTilled(cfg, log),
	)
}

// Get returns the adapter for p.
func (r *Registry) Get(p domain.Provider) (domain.Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, fmt.Errorf("%q: %w", p, domain.ErrProviderNotFound)
	}
	return g, nil
}

// Providers lists the registered providers in name order.
func (r *Registry) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
