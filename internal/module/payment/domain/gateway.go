package domain

import "strings"

// Gateway identifies the payment service provider that owns a transaction.
type Gateway string

const (
	GatewayPaystack Gateway = "paystack"
	GatewayMonnify  Gateway = "monnify"
)

// AllGateways returns every gateway the service knows how to dispatch to.
func AllGateways() []Gateway {
	return []Gateway{GatewayPaystack, GatewayMonnify}
}

// ParseGateway parses a gateway identifier, case-insensitively.
func ParseGateway(s string) (Gateway, bool) {
	g := Gateway(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllGateways() {
		if g == known {
			return g, true
		}
	}
	return "", false
}

// ReferencePrefix returns the prefix used for references generated for this gateway.
func (g Gateway) ReferencePrefix() string {
	switch g {
	case GatewayPaystack:
		return "PST"
	case GatewayMonnify:
		return "MNF"
	default:
		return ""
	}
}

// GatewayFromReference resolves the owning gateway from a generated reference.
func GatewayFromReference(reference string) (Gateway, bool) {
	prefix, _, ok := strings.Cut(reference, "-")
	if !ok {
		return "", false
	}
	for _, g := range AllGateways() {
		if g.ReferencePrefix() == prefix {
			return g, true
		}
	}
	return "", false
}
