package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"go.uber.org/zap"
)

const (
	MonnifyDefaultBaseURL  = "https://api.monnify.com"
	MonnifySignatureHeader = "monnify-signature"
	monnifyDefaultMessage  = "monnify request failed"
	monnifyTokenSkew       = 60 * time.Second
)

// MonnifyConfig holds Monnify credentials.
type MonnifyConfig struct {
	APIKey        string
	SecretKey     string
	ContractCode  string
	WebhookSecret string
	BaseURL       string
	RedirectURL   string
}

// Monnify implements Gateway against the Monnify API. Monnify takes amounts
// in major units, so conversion happens here and nowhere else.
type Monnify struct {
	cfg    MonnifyConfig
	client *Client
	tokens TokenStore
	logger *zap.Logger
	now    func() time.Time
}

// NewMonnify creates a Monnify adapter. API key, secret key and contract code are required.
func NewMonnify(cfg MonnifyConfig, tokens TokenStore, opts Options) (*Monnify, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" || cfg.ContractCode == "" {
		return nil, fmt.Errorf("monnify: %w", domain.ErrMissingCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = MonnifyDefaultBaseURL
	}
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	opts = opts.withDefaults()
	clientCfg := opts.Client
	clientCfg.BaseURL = cfg.BaseURL

	return &Monnify{
		cfg:    cfg,
		client: NewClient(domain.GatewayMonnify, clientCfg, opts),
		tokens: tokens,
		logger: opts.Logger.With(zap.String("gateway", string(domain.GatewayMonnify))),
		now:    opts.Now,
	}, nil
}

// ID returns the gateway identifier.
func (m *Monnify) ID() domain.Gateway {
	return domain.GatewayMonnify
}

// SignatureHeader returns the webhook signature header name.
func (m *Monnify) SignatureHeader() string {
	return MonnifySignatureHeader
}

// WebhookSecret returns the HMAC key for webhooks.
func (m *Monnify) WebhookSecret() []byte {
	if m.cfg.WebhookSecret != "" {
		return []byte(m.cfg.WebhookSecret)
	}
	return []byte(m.cfg.SecretKey)
}

type monnifyEnvelope struct {
	RequestSuccessful bool            `json:"requestSuccessful"`
	ResponseMessage   string          `json:"responseMessage"`
	ResponseCode      string          `json:"responseCode"`
	ResponseBody      json.RawMessage `json:"responseBody"`
}

type monnifyLogin struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type monnifyInitData struct {
	TransactionReference string `json:"transactionReference"`
	PaymentReference     string `json:"paymentReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

type monnifyTransaction struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	TotalPayable         decimal.Decimal `json:"totalPayable"`
	Amount               decimal.Decimal `json:"amount"`
	PaymentStatus        string          `json:"paymentStatus"`
	PaymentDescription   string          `json:"paymentDescription"`
	CurrencyCode         string          `json:"currencyCode"`
	Currency             string          `json:"currency"`
	PaidOn               string          `json:"paidOn"`
	MetaData             metadataMap     `json:"metaData"`
}

type monnifyRefund struct {
	RefundReference string          `json:"refundReference"`
	RefundAmount    decimal.Decimal `json:"refundAmount"`
	RefundStatus    string          `json:"refundStatus"`
}

// InitializePayment opens a Monnify checkout.
func (m *Monnify) InitializePayment(ctx context.Context, req *InitializeRequest) (*InitializeResult, error) {
	if req.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be greater than zero")
	}
	if err := domain.ValidateEmail(req.Email); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = req.Email
	}
	description := req.Description
	if description == "" {
		description = "Payment " + req.Reference
	}
	body := map[string]any{
		"amount":             json.Number(req.Amount.Major(req.Currency).String()),
		"customerName":       name,
		"customerEmail":      req.Email,
		"paymentReference":   req.Reference,
		"paymentDescription": description,
		"currencyCode":       req.Currency,
		"contractCode":       m.cfg.ContractCode,
	}
	redirect := req.CallbackURL
	if redirect == "" {
		redirect = m.cfg.RedirectURL
	}
	if redirect != "" {
		body["redirectUrl"] = redirect
	}
	if req.Metadata != nil {
		body["metaData"] = req.Metadata
	}

	env, err := m.call(ctx, Request{
		Operation: "initialize",
		Method:    http.MethodPost,
		Path:      "/api/v1/merchant/transactions/init-transaction",
		Body:      body,
	})
	if err != nil {
		return nil, err
	}

	var data monnifyInitData
	if err := json.Unmarshal(env.ResponseBody, &data); err != nil {
		return nil, m.decodeError("initialize", err)
	}
	reference := data.PaymentReference
	if reference == "" {
		reference = req.Reference
	}
	return &InitializeResult{
		Reference:        reference,
		AuthorizationURL: data.CheckoutURL,
		AccessCode:       data.TransactionReference,
		Raw:              env.ResponseBody,
	}, nil
}

// VerifyPayment queries a transaction by our payment reference.
func (m *Monnify) VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error) {
	tx, raw, err := m.query(ctx, reference)
	if err != nil {
		return nil, err
	}

	currency := tx.CurrencyCode
	if currency == "" {
		currency = tx.Currency
	}
	paid := tx.AmountPaid
	if paid.IsZero() {
		paid = tx.Amount
	}
	status := MapMonnifyStatus(tx.PaymentStatus)
	result := &VerifyResult{
		Success:        status == domain.StatusCompleted,
		Reference:      tx.PaymentReference,
		Amount:         majorToMinor(paid, currency),
		Currency:       currency,
		Status:         status,
		ProviderStatus: tx.PaymentStatus,
		Message:        tx.PaymentDescription,
		Metadata:       tx.MetaData,
		Raw:            raw,
	}
	if status == domain.StatusCompleted {
		result.PaidAt = parseProviderTime(tx.PaidOn)
	}
	if result.Reference == "" {
		result.Reference = reference
	}
	return result, nil
}

// RefundPayment refunds a transaction. Monnify refunds are keyed by its own
// transaction reference, so the transaction is looked up first.
func (m *Monnify) RefundPayment(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	tx, _, err := m.query(ctx, req.Reference)
	if err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = tx.CurrencyCode
	}
	amount := tx.AmountPaid
	if req.Amount != nil {
		if *req.Amount <= 0 {
			return nil, domain.NewValidationError("amount", "refund amount must be greater than zero")
		}
		amount = req.Amount.Major(currency)
	}
	reason := req.Reason
	if reason == "" {
		reason = "Refund for " + req.Reference
	}
	refundRef := GenerateRefundReference(req.Reference, m.now())

	env, err := m.call(ctx, Request{
		Operation: "refund",
		Method:    http.MethodPost,
		Path:      "/api/v1/refunds/initiate-refund",
		Body: map[string]any{
			"transactionReference": tx.TransactionReference,
			"refundReference":      refundRef,
			"refundAmount":         json.Number(amount.String()),
			"refundReason":         reason,
			"customerNote":         reason,
		},
	})
	if err != nil {
		return nil, err
	}

	var refund monnifyRefund
	if err := json.Unmarshal(env.ResponseBody, &refund); err != nil {
		return nil, m.decodeError("refund", err)
	}
	if refund.RefundReference == "" {
		refund.RefundReference = refundRef
	}
	if refund.RefundAmount.IsZero() {
		refund.RefundAmount = amount
	}
	return &RefundResult{
		RefundReference: refund.RefundReference,
		Amount:          majorToMinor(refund.RefundAmount, currency),
		Status:          refund.RefundStatus,
		Raw:             env.ResponseBody,
	}, nil
}

type monnifyWebhookData struct {
	PaymentReference     string          `json:"paymentReference"`
	TransactionReference string          `json:"transactionReference"`
	PaymentStatus        string          `json:"paymentStatus"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	RefundAmount         decimal.Decimal `json:"refundAmount"`
	RefundReference      string          `json:"refundReference"`
	Currency             string          `json:"currency"`
	CurrencyCode         string          `json:"currencyCode"`
	PaidOn               string          `json:"paidOn"`
	PaymentDescription   string          `json:"paymentDescription"`
}

type monnifyWebhook struct {
	EventType string              `json:"eventType"`
	EventData *monnifyWebhookData `json:"eventData"`
	Event     string              `json:"event"`
	Data      *monnifyWebhookData `json:"data"`
}

// MapWebhookEvent maps a Monnify webhook payload to a canonical event. Both the
// documented {eventType, eventData} shape and the short {event, data} form are accepted.
func (m *Monnify) MapWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var wh monnifyWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, domain.NewValidationError("payload", "malformed monnify webhook")
	}
	event := wh.EventType
	if event == "" {
		event = wh.Event
	}
	data := wh.EventData
	if data == nil {
		data = wh.Data
	}
	if data == nil {
		return nil, domain.NewValidationError("payload", "monnify webhook has no event data")
	}
	currency := data.CurrencyCode
	if currency == "" {
		currency = data.Currency
	}

	ev := &WebhookEvent{
		Event:             event,
		Reference:         data.PaymentReference,
		ProviderReference: data.TransactionReference,
		Amount:            majorToMinor(data.AmountPaid, currency),
		Message:           data.PaymentDescription,
	}
	switch event {
	case "SUCCESSFUL_TRANSACTION":
		ev.Status = domain.StatusCompleted
		ev.Handled = true
		ev.PaidAt = parseProviderTime(data.PaidOn)
	case "FAILED_TRANSACTION":
		ev.Status = domain.StatusFailed
		ev.Handled = true
		if data.PaymentStatus != "" {
			ev.Message = data.PaymentStatus
		}
	case "REFUND_COMPLETED", "SUCCESSFUL_REFUND":
		ev.Status = domain.StatusRefunded
		ev.Handled = true
		ev.RefundReference = data.RefundReference
		if !data.RefundAmount.IsZero() {
			ev.Amount = majorToMinor(data.RefundAmount, currency)
		}
	default:
		ev.Status = domain.StatusPending
	}
	if ev.Message == "" {
		ev.Message = event
	}
	if ev.Reference == "" && ev.ProviderReference == "" {
		return nil, domain.NewValidationError("reference", "missing from monnify webhook")
	}
	return ev, nil
}

// MapMonnifyStatus maps a Monnify payment status to the canonical status.
func MapMonnifyStatus(status string) domain.Status {
	switch status {
	case "PAID":
		return domain.StatusCompleted
	case "FAILED", "EXPIRED", "CANCELLED":
		return domain.StatusFailed
	case "PENDING":
		return domain.StatusPending
	default:
		return domain.StatusPending
	}
}

func (m *Monnify) query(ctx context.Context, reference string) (*monnifyTransaction, json.RawMessage, error) {
	env, err := m.call(ctx, Request{
		Operation: "verify",
		Method:    http.MethodGet,
		Path:      "/api/v2/merchant/transactions/query",
		Query:     url.Values{"paymentReference": []string{reference}},
	})
	if err != nil {
		return nil, nil, err
	}
	var tx monnifyTransaction
	if err := json.Unmarshal(env.ResponseBody, &tx); err != nil {
		return nil, nil, m.decodeError("verify", err)
	}
	return &tx, env.ResponseBody, nil
}

func (m *Monnify) call(ctx context.Context, req Request) (*monnifyEnvelope, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header = http.Header{"Authorization": []string{"Bearer " + token}}
	resp, err := m.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// Token revoked or expired early: refresh once.
		if err := m.tokens.DeleteToken(ctx, m.tokenKey()); err != nil {
			m.logger.Warn("drop monnify token", zap.Error(err))
		}
		token, err = m.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if resp, err = m.client.Do(ctx, req); err != nil {
			return nil, err
		}
	}
	return m.decode(req.Operation, resp)
}

func (m *Monnify) decode(operation string, resp *Response) (*monnifyEnvelope, error) {
	var env monnifyEnvelope
	decodeErr := json.Unmarshal(resp.Body, &env)
	if !resp.OK() || decodeErr != nil || !env.RequestSuccessful {
		msg := env.ResponseMessage
		if decodeErr != nil || msg == "" {
			msg = monnifyDefaultMessage
		}
		m.logger.Warn("monnify request rejected",
			zap.String("operation", operation),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_code", env.ResponseCode),
			zap.String("message", msg),
		)
		return nil, providerError(domain.GatewayMonnify, operation, resp, msg)
	}
	return &env, nil
}

func (m *Monnify) tokenKey() string {
	return "paygate:monnify:token:" + m.cfg.APIKey
}

func (m *Monnify) accessToken(ctx context.Context) (string, error) {
	key := m.tokenKey()
	if token, ok, err := m.tokens.GetToken(ctx, key); err != nil {
		m.logger.Warn("read cached monnify token", zap.Error(err))
	} else if ok {
		return token, nil
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(m.cfg.APIKey + ":" + m.cfg.SecretKey))
	resp, err := m.client.Do(ctx, Request{
		Operation: "login",
		Method:    http.MethodPost,
		Path:      "/api/v1/auth/login",
		Header:    http.Header{"Authorization": []string{"Basic " + credentials}},
	})
	if err != nil {
		return "", err
	}
	env, err := m.decode("login", resp)
	if err != nil {
		return "", err
	}
	var login monnifyLogin
	if err := json.Unmarshal(env.ResponseBody, &login); err != nil || login.AccessToken == "" {
		return "", m.decodeError("login", err)
	}

	ttl := time.Duration(login.ExpiresIn)*time.Second - monnifyTokenSkew
	if ttl > 0 {
		if err := m.tokens.SetToken(ctx, key, login.AccessToken, ttl); err != nil {
			m.logger.Warn("cache monnify token", zap.Error(err))
		}
	}
	return login.AccessToken, nil
}

func (m *Monnify) decodeError(operation string, err error) error {
	return &domain.ProviderError{
		Gateway:   domain.GatewayMonnify,
		Operation: operation,
		Message:   "unexpected monnify response",
		Err:       err,
	}
}

func majorToMinor(major decimal.Decimal, currency string) domain.Amount {
	return domain.Amount(major.Shift(domain.CurrencyExponent(currency)).Round(0).IntPart())
}
