package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"go.uber.org/zap"
)

const (
	PaystackDefaultBaseURL  = "https://api.paystack.co"
	PaystackSignatureHeader = "x-paystack-signature"
	paystackDefaultMessage  = "paystack request failed"
)

// PaystackConfig holds Paystack credentials.
type PaystackConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	CallbackURL   string
}

// Paystack implements Gateway against the Paystack API. Paystack takes
// amounts in the currency's minor unit (kobo for NGN).
type Paystack struct {
	cfg    PaystackConfig
	client *Client
	logger *zap.Logger
}

// NewPaystack creates a Paystack adapter. It fails with ErrMissingCredentials
// when no secret key is configured.
func NewPaystack(cfg PaystackConfig, opts Options) (*Paystack, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("paystack: %w", domain.ErrMissingCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PaystackDefaultBaseURL
	}
	opts = opts.withDefaults()
	clientCfg := opts.Client
	clientCfg.BaseURL = cfg.BaseURL

	return &Paystack{
		cfg:    cfg,
		client: NewClient(domain.GatewayPaystack, clientCfg, opts),
		logger: opts.Logger.With(zap.String("gateway", string(domain.GatewayPaystack))),
	}, nil
}

// ID returns the gateway identifier.
func (p *Paystack) ID() domain.Gateway {
	return domain.GatewayPaystack
}

// SignatureHeader returns the webhook signature header name.
func (p *Paystack) SignatureHeader() string {
	return PaystackSignatureHeader
}

// WebhookSecret returns the HMAC key for webhooks.
func (p *Paystack) WebhookSecret() []byte {
	if p.cfg.WebhookSecret != "" {
		return []byte(p.cfg.WebhookSecret)
	}
	return []byte(p.cfg.SecretKey)
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransaction struct {
	ID              int64       `json:"id"`
	Status          string      `json:"status"`
	Reference       string      `json:"reference"`
	Amount          minorUnits  `json:"amount"`
	Currency        string      `json:"currency"`
	PaidAt          string      `json:"paid_at"`
	GatewayResponse string      `json:"gateway_response"`
	Metadata        metadataMap `json:"metadata"`
}

type paystackRefund struct {
	ID       int64      `json:"id"`
	Amount   minorUnits `json:"amount"`
	Status   string     `json:"status"`
	Currency string     `json:"currency"`
}

// InitializePayment opens a Paystack checkout.
func (p *Paystack) InitializePayment(ctx context.Context, req *InitializeRequest) (*InitializeResult, error) {
	if req.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be greater than zero")
	}
	if err := domain.ValidateEmail(req.Email); err != nil {
		return nil, err
	}

	body := map[string]any{
		"email":     req.Email,
		"amount":    req.Amount.Minor(),
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.Metadata != nil {
		body["metadata"] = req.Metadata
	}
	callback := req.CallbackURL
	if callback == "" {
		callback = p.cfg.CallbackURL
	}
	if callback != "" {
		body["callback_url"] = callback
	}

	env, err := p.call(ctx, Request{
		Operation: "initialize",
		Method:    http.MethodPost,
		Path:      "/transaction/initialize",
		Body:      body,
	})
	if err != nil {
		return nil, err
	}

	var data paystackInitializeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, p.decodeError("initialize", err)
	}
	reference := data.Reference
	if reference == "" {
		reference = req.Reference
	}
	return &InitializeResult{
		Reference:        reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Raw:              env.Data,
	}, nil
}

// VerifyPayment fetches the current state of a transaction.
func (p *Paystack) VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error) {
	env, err := p.call(ctx, Request{
		Operation: "verify",
		Method:    http.MethodGet,
		Path:      "/transaction/verify/" + url.PathEscape(reference),
	})
	if err != nil {
		return nil, err
	}

	var tx paystackTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, p.decodeError("verify", err)
	}
	status := MapPaystackStatus(tx.Status)
	result := &VerifyResult{
		Success:        status == domain.StatusCompleted,
		Reference:      tx.Reference,
		Amount:         domain.FromMinor(int64(tx.Amount)),
		Currency:       tx.Currency,
		Status:         status,
		ProviderStatus: tx.Status,
		Message:        tx.GatewayResponse,
		Metadata:       tx.Metadata,
		Raw:            env.Data,
	}
	if status == domain.StatusCompleted {
		result.PaidAt = parseProviderTime(tx.PaidAt)
	}
	if result.Reference == "" {
		result.Reference = reference
	}
	return result, nil
}

// RefundPayment refunds a transaction, fully when no amount is given.
func (p *Paystack) RefundPayment(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	body := map[string]any{"transaction": req.Reference}
	if req.Amount != nil {
		if *req.Amount <= 0 {
			return nil, domain.NewValidationError("amount", "refund amount must be greater than zero")
		}
		body["amount"] = req.Amount.Minor()
	}
	if req.Reason != "" {
		body["merchant_note"] = req.Reason
	}

	env, err := p.call(ctx, Request{
		Operation: "refund",
		Method:    http.MethodPost,
		Path:      "/refund",
		Body:      body,
	})
	if err != nil {
		return nil, err
	}

	var refund paystackRefund
	if err := json.Unmarshal(env.Data, &refund); err != nil {
		return nil, p.decodeError("refund", err)
	}
	refundRef := ""
	if refund.ID != 0 {
		refundRef = strconv.FormatInt(refund.ID, 10)
	}
	amount := domain.FromMinor(int64(refund.Amount))
	if amount == 0 && req.Amount != nil {
		amount = *req.Amount
	}
	return &RefundResult{
		RefundReference: refundRef,
		Amount:          amount,
		Status:          refund.Status,
		Raw:             env.Data,
	}, nil
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Reference            string      `json:"reference"`
		TransactionReference string      `json:"transaction_reference"`
		RefundReference      string      `json:"refund_reference"`
		ID                   json.Number `json:"id"`
		Status               string      `json:"status"`
		Amount               minorUnits  `json:"amount"`
		PaidAt               string      `json:"paid_at"`
		GatewayResponse      string      `json:"gateway_response"`
		Transaction          *struct {
			Reference string `json:"reference"`
		} `json:"transaction"`
	} `json:"data"`
}

// MapWebhookEvent maps a Paystack webhook payload to a canonical event.
func (p *Paystack) MapWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var wh paystackWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, domain.NewValidationError("payload", "malformed paystack webhook")
	}

	ev := &WebhookEvent{
		Event:     wh.Event,
		Reference: wh.Data.Reference,
		Amount:    domain.FromMinor(int64(wh.Data.Amount)),
		Message:   wh.Data.GatewayResponse,
	}
	switch wh.Event {
	case "charge.success":
		ev.Status = domain.StatusCompleted
		ev.Handled = true
		ev.PaidAt = parseProviderTime(wh.Data.PaidAt)
	case "charge.failed":
		ev.Status = domain.StatusFailed
		ev.Handled = true
	case "refund.processed":
		ev.Status = domain.StatusRefunded
		ev.Handled = true
		ev.Reference = wh.Data.TransactionReference
		if ev.Reference == "" && wh.Data.Transaction != nil {
			ev.Reference = wh.Data.Transaction.Reference
		}
		if ev.Reference == "" {
			ev.Reference = wh.Data.Reference
		}
		ev.RefundReference = wh.Data.RefundReference
		if ev.RefundReference == "" {
			ev.RefundReference = wh.Data.ID.String()
		}
	default:
		ev.Status = domain.StatusPending
	}
	if ev.Message == "" {
		ev.Message = wh.Event
	}
	if ev.Reference == "" {
		return nil, domain.NewValidationError("reference", "missing from paystack webhook")
	}
	return ev, nil
}

// MapPaystackStatus maps a Paystack transaction status to the canonical status.
func MapPaystackStatus(status string) domain.Status {
	switch status {
	case "success":
		return domain.StatusCompleted
	case "failed", "abandoned":
		return domain.StatusFailed
	case "pending":
		return domain.StatusPending
	default:
		return domain.StatusPending
	}
}

func (p *Paystack) call(ctx context.Context, req Request) (*paystackEnvelope, error) {
	req.Header = http.Header{"Authorization": []string{"Bearer " + p.cfg.SecretKey}}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var env paystackEnvelope
	decodeErr := json.Unmarshal(resp.Body, &env)
	if !resp.OK() || decodeErr != nil || !env.Status {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = paystackDefaultMessage
		}
		p.logger.Warn("paystack request rejected",
			zap.String("operation", req.Operation),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", msg),
		)
		return nil, providerError(domain.GatewayPaystack, req.Operation, resp, msg)
	}
	return &env, nil
}

func (p *Paystack) decodeError(operation string, err error) error {
	return &domain.ProviderError{
		Gateway:   domain.GatewayPaystack,
		Operation: operation,
		Message:   "unexpected paystack response",
		Err:       err,
	}
}
