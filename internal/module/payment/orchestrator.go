package payment

import (
	"context"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
	"go.uber.org/zap"
)

// Orchestrator resolves adapters and delegates provider calls. It never
// persists; Service pairs it with the Ledger.
type Orchestrator struct {
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator over a registry.
func NewOrchestrator(registry *Registry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{registry: registry, logger: logger, now: time.Now}
}

// Registry returns the gateway registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// InitializePayment assigns a reference when the caller did not supply one and
// opens a checkout with the gateway.
func (o *Orchestrator) InitializePayment(ctx context.Context, gateway domain.Gateway, req *provider.InitializeRequest) (*provider.InitializeResult, error) {
	adapter, err := o.registry.Get(gateway)
	if err != nil {
		return nil, err
	}
	if req.Reference == "" {
		req.Reference = provider.GenerateReference(gateway, o.now())
	}

	o.logger.Info("initializing payment",
		zap.String("gateway", string(gateway)),
		zap.String("reference", req.Reference),
		zap.Int64("amount_minor", req.Amount.Minor()),
		zap.String("currency", req.Currency),
	)
	res, err := adapter.InitializePayment(ctx, req)
	if err != nil {
		o.logger.Warn("payment initialization failed",
			zap.String("gateway", string(gateway)),
			zap.String("reference", req.Reference),
			zap.Error(err),
		)
		return nil, err
	}
	return res, nil
}

// VerifyPayment asks the gateway for the current state of a payment.
func (o *Orchestrator) VerifyPayment(ctx context.Context, gateway domain.Gateway, reference string) (*provider.VerifyResult, error) {
	adapter, err := o.registry.Get(gateway)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("verifying payment", zap.String("gateway", string(gateway)), zap.String("reference", reference))
	return adapter.VerifyPayment(ctx, reference)
}

// RefundPayment asks the gateway to refund a payment.
func (o *Orchestrator) RefundPayment(ctx context.Context, gateway domain.Gateway, req *provider.RefundRequest) (*provider.RefundResult, error) {
	adapter, err := o.registry.Get(gateway)
	if err != nil {
		return nil, err
	}
	o.logger.Info("refunding payment", zap.String("gateway", string(gateway)), zap.String("reference", req.Reference))
	return adapter.RefundPayment(ctx, req)
}
