package payment

import (
	"errors"
	"fmt"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
)

// ErrNoGatewayConfigured is returned when no provider could be constructed.
var ErrNoGatewayConfigured = errors.New("no payment gateway configured")

// Registry resolves a gateway identifier to its adapter. It is built once at
// startup and never mutated.
type Registry struct {
	paystack provider.Gateway
	monnify  provider.Gateway
}

// NewRegistry slots each adapter by its gateway id. Providers absent from the
// list are unconfigured and resolve to UnsupportedGatewayError.
func NewRegistry(gateways ...provider.Gateway) (*Registry, error) {
	r := &Registry{}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		switch id := g.ID(); id {
		case domain.GatewayPaystack:
			r.paystack = g
		case domain.GatewayMonnify:
			r.monnify = g
		default:
			return nil, fmt.Errorf("register gateway: %w", &domain.UnsupportedGatewayError{Gateway: string(id)})
		}
	}
	if len(r.Configured()) == 0 {
		return nil, ErrNoGatewayConfigured
	}
	return r, nil
}

// Get returns the adapter for a gateway.
func (r *Registry) Get(id domain.Gateway) (provider.Gateway, error) {
	var g provider.Gateway
	switch id {
	case domain.GatewayPaystack:
		g = r.paystack
	case domain.GatewayMonnify:
		g = r.monnify
	}
	if g == nil {
		return nil, &domain.UnsupportedGatewayError{Gateway: string(id)}
	}
	return g, nil
}

// Lookup parses a raw gateway id and resolves it.
func (r *Registry) Lookup(raw string) (provider.Gateway, error) {
	id, ok := domain.ParseGateway(raw)
	if !ok {
		return nil, &domain.UnsupportedGatewayError{Gateway: raw}
	}
	return r.Get(id)
}

// Configured lists the gateways that have an adapter.
func (r *Registry) Configured() []domain.Gateway {
	var out []domain.Gateway
	for _, id := range domain.AllGateways() {
		if _, err := r.Get(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}
