package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
	"go.uber.org/zap"
)

// Webhook outcomes reported to the recorder.
const (
	webhookProcessed    = "processed"
	webhookIgnored      = "ignored"
	webhookUnauthorized = "unauthorized"
	webhookInvalid      = "invalid"
	webhookDeferred     = "deferred"
)

// WebhookResult acknowledges a processed webhook.
type WebhookResult struct {
	Event     string        `json:"event"`
	Reference string        `json:"reference"`
	Status    domain.Status `json:"status"`
	Message   string        `json:"message"`
}

// ComputeSignature returns the hex HMAC-SHA512 of body under secret.
func ComputeSignature(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA512 signature over the exact raw body.
// The comparison runs in constant time.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookProcessor authenticates provider callbacks and applies them to the ledger.
type WebhookProcessor struct {
	registry *Registry
	ledger   *Ledger
	tasks    RecoveryRepository
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewWebhookProcessor creates a webhook processor.
func NewWebhookProcessor(registry *Registry, ledger *Ledger, tasks RecoveryRepository, recorder Recorder, logger *zap.Logger) *WebhookProcessor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookProcessor{
		registry: registry,
		ledger:   ledger,
		tasks:    tasks,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// SignatureHeader returns the header a gateway signs its callbacks in.
func (p *WebhookProcessor) SignatureHeader(gateway domain.Gateway) (string, error) {
	adapter, err := p.registry.Get(gateway)
	if err != nil {
		return "", err
	}
	return adapter.SignatureHeader(), nil
}

// VerifySignature checks a callback signature with the gateway's webhook secret.
func (p *WebhookProcessor) VerifySignature(gateway domain.Gateway, rawBody []byte, signature string) bool {
	adapter, err := p.registry.Get(gateway)
	if err != nil {
		return false
	}
	return VerifySignature(adapter.WebhookSecret(), rawBody, signature)
}

// HandleWebhook verifies, maps and applies one callback. Ledger failures after a
// valid signature are not returned: they are persisted as recovery tasks so the
// provider still receives a success acknowledgement. The exception is a failed
// lookup of a callback that carries only the provider's transaction id, which
// is returned so the provider redelivers.
func (p *WebhookProcessor) HandleWebhook(ctx context.Context, gateway domain.Gateway, rawBody []byte, signature string) (*WebhookResult, error) {
	adapter, err := p.registry.Get(gateway)
	if err != nil {
		return nil, err
	}
	if !VerifySignature(adapter.WebhookSecret(), rawBody, signature) {
		p.recorder.RecordWebhook(string(gateway), webhookUnauthorized)
		p.logger.Warn("webhook signature rejected", zap.String("gateway", string(gateway)))
		return nil, domain.ErrUnauthorizedWebhook
	}

	ev, err := adapter.MapWebhookEvent(rawBody)
	if err != nil {
		p.recorder.RecordWebhook(string(gateway), webhookInvalid)
		return nil, err
	}
	if ev.Reference == "" {
		tx, err := p.ledger.FindByProviderReference(ctx, gateway, ev.ProviderReference)
		if err != nil {
			if errors.Is(err, domain.ErrTransactionNotFound) {
				p.recorder.RecordWebhook(string(gateway), webhookIgnored)
				p.logger.Warn("webhook for unknown provider reference ignored",
					zap.String("gateway", string(gateway)),
					zap.String("provider_reference", ev.ProviderReference),
				)
				return webhookResult(ev), nil
			}
			return nil, err
		}
		ev.Reference = tx.Reference
	}
	logger := p.logger.With(
		zap.String("gateway", string(gateway)),
		zap.String("event", ev.Event),
		zap.String("reference", ev.Reference),
	)
	if !ev.Handled {
		logger.Info("unhandled webhook event")
	}

	if _, err := p.ledger.RecordWebhookAttempt(ctx, ev.Reference); err != nil {
		logger.Warn("record webhook attempt failed", zap.Error(err))
	}

	outcome := webhookIgnored
	if ev.Status != domain.StatusPending {
		outcome = webhookProcessed
		if err := applyWebhookEvent(ctx, p.ledger, ev, rawBody); err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidState):
				outcome = webhookIgnored
				logger.Info("webhook event does not apply to current state", zap.Error(err))
			case errors.Is(err, domain.ErrTransactionNotFound) && !p.awaitingLedgerCreate(ctx, ev.Reference):
				outcome = webhookIgnored
				logger.Warn("webhook for unknown reference ignored")
			default:
				outcome = webhookDeferred
				logger.Error("webhook ledger update failed", zap.Error(err))
				task := domain.NewRecoveryTask(domain.RecoveryWebhookUpdate, gateway, ev.Reference, ev.Status, rawBody, err, p.now())
				if err := p.tasks.Create(ctx, task); err != nil {
					logger.Error("persist webhook recovery task failed", zap.Error(err))
				}
			}
		}
	}
	p.recorder.RecordWebhook(string(gateway), outcome)

	return webhookResult(ev), nil
}

func webhookResult(ev *provider.WebhookEvent) *WebhookResult {
	return &WebhookResult{
		Event:     ev.Event,
		Reference: ev.Reference,
		Status:    ev.Status,
		Message:   ev.Message,
	}
}

// awaitingLedgerCreate reports whether the ledger record for reference is
// still queued for creation. Lookup failures count as awaiting.
func (p *WebhookProcessor) awaitingLedgerCreate(ctx context.Context, reference string) bool {
	pending, err := p.tasks.HasPending(ctx, reference, domain.RecoveryLedgerCreate)
	if err != nil {
		p.logger.Warn("check pending ledger create failed", zap.String("reference", reference), zap.Error(err))
		return true
	}
	return pending
}

// applyWebhookEvent moves the ledger to the event's status. Refund
// confirmations go through ConfirmRefund so redelivery never double-refunds.
func applyWebhookEvent(ctx context.Context, ledger *Ledger, ev *provider.WebhookEvent, rawBody []byte) error {
	if ev.Status == domain.StatusRefunded {
		_, err := ledger.ConfirmRefund(ctx, ev.Reference, ev.Amount, ev.RefundReference)
		return err
	}
	update := domain.StatusUpdate{
		Status:          ev.Status,
		GatewayResponse: rawBody,
		PaidAt:          ev.PaidAt,
	}
	if ev.Status == domain.StatusFailed {
		update.FailureReason = ev.Message
	}
	_, err := ledger.UpdateTransactionStatus(ctx, ev.Reference, update)
	return err
}
