package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"go.uber.org/zap"
)

// InitializeRequest asks a provider to open a checkout for one payment.
type InitializeRequest struct {
	Reference   string
	Amount      domain.Amount
	Currency    string
	Email       string
	Name        string
	Description string
	Metadata    map[string]any
	CallbackURL string
}

// InitializeResult carries the checkout artifacts returned by the provider.
type InitializeResult struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
	Raw              json.RawMessage
}

// VerifyResult is the provider's view of a payment, mapped to canonical values.
type VerifyResult struct {
	Success        bool
	Reference      string
	Amount         domain.Amount
	Currency       string
	Status         domain.Status
	ProviderStatus string
	Message        string
	PaidAt         *time.Time
	Metadata       map[string]any
	Raw            json.RawMessage
}

// RefundRequest asks the provider to refund a payment. A nil Amount is a full refund.
type RefundRequest struct {
	Reference string
	Amount    *domain.Amount
	Currency  string
	Reason    string
}

// RefundResult is the provider's acknowledgement of a refund.
type RefundResult struct {
	RefundReference string
	Amount          domain.Amount
	Status          string
	Raw             json.RawMessage
}

// WebhookEvent is a provider callback mapped to canonical values.
// Handled is false for event types the adapter does not recognise; those map to PENDING.
// ProviderReference is the gateway's own transaction id. Callbacks that omit
// Reference are resolved through it.
type WebhookEvent struct {
	Event             string
	Reference         string
	ProviderReference string
	Status            domain.Status
	Message           string
	Handled           bool
	Amount            domain.Amount
	PaidAt            *time.Time
	RefundReference   string
}

// Gateway is the contract every payment service provider adapter implements.
// Amounts cross this interface in minor units; each adapter converts at its own wire edge.
type Gateway interface {
	ID() domain.Gateway
	InitializePayment(ctx context.Context, req *InitializeRequest) (*InitializeResult, error)
	VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error)
	RefundPayment(ctx context.Context, req *RefundRequest) (*RefundResult, error)

	// MapWebhookEvent decodes a callback payload. It has no side effects.
	MapWebhookEvent(payload []byte) (*WebhookEvent, error)

	// WebhookSecret is the HMAC key for callbacks: the dedicated webhook secret
	// when configured, otherwise the API secret.
	WebhookSecret() []byte
	SignatureHeader() string
}

// Options are the shared collaborators adapters are built with.
type Options struct {
	HTTPClient *http.Client
	Client     ClientConfig
	Logger     *zap.Logger
	Recorder   CallRecorder
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
