package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/utils/pagination"
)

// InitializePaymentRequest opens a checkout. Amount is in major units.
type InitializePaymentRequest struct {
	Reference   string          `json:"reference" binding:"omitempty,max=100"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" binding:"required"`
	Email       string          `json:"email" binding:"required,email"`
	Name        string          `json:"name" binding:"omitempty,max=200"`
	Description string          `json:"description" binding:"omitempty,max=500"`
	CallbackURL string          `json:"callback_url" binding:"omitempty,url"`
	Metadata    map[string]any  `json:"metadata"`
	UserID      *string         `json:"user_id" binding:"omitempty,max=100"`
	VendorID    *string         `json:"vendor_id" binding:"omitempty,max=100"`
	OrderID     *string         `json:"order_id" binding:"omitempty,max=100"`
}

// ToInput converts the request to service input.
func (r *InitializePaymentRequest) ToInput() (*InitializeInput, error) {
	currency, err := domain.NormalizeCurrency(r.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := domain.ParseAmount(r.Amount, currency)
	if err != nil {
		return nil, err
	}
	return &InitializeInput{
		Reference:   r.Reference,
		Amount:      amount,
		Currency:    currency,
		Email:       r.Email,
		Name:        r.Name,
		Description: r.Description,
		Metadata:    r.Metadata,
		CallbackURL: r.CallbackURL,
		Owner:       Owner{UserID: r.UserID, VendorID: r.VendorID, OrderID: r.OrderID},
	}, nil
}

// InitializePaymentResponse is returned after a checkout is opened.
type InitializePaymentResponse struct {
	Reference        string        `json:"reference"`
	Gateway          string        `json:"gateway"`
	AuthorizationURL string        `json:"authorization_url"`
	AccessCode       string        `json:"access_code,omitempty"`
	Status           domain.Status `json:"status"`
	Recorded         bool          `json:"recorded"`
}

// RefundPaymentRequest refunds a completed payment. A missing amount refunds in full.
type RefundPaymentRequest struct {
	Reference string           `json:"reference" binding:"required,max=100"`
	Amount    *decimal.Decimal `json:"amount"`
	Reason    string           `json:"reason" binding:"omitempty,max=500"`
}

// ToInput converts the request to service input.
func (r *RefundPaymentRequest) ToInput(currency string) (*RefundInput, error) {
	in := &RefundInput{Reference: r.Reference, Reason: r.Reason}
	if r.Amount != nil {
		amount, err := domain.ParseAmount(*r.Amount, currency)
		if err != nil {
			return nil, err
		}
		in.Amount = &amount
	}
	return in, nil
}

// ListTransactionsQuery filters the transaction list.
type ListTransactionsQuery struct {
	pagination.Pagination
	Gateway    string `form:"gateway"`
	Status     string `form:"status"`
	UserID     string `form:"user_id"`
	VendorID   string `form:"vendor_id"`
	Reconciled *bool  `form:"reconciled"`
}

// ToFilter converts the query to a ledger filter.
func (q *ListTransactionsQuery) ToFilter() (domain.TransactionFilter, error) {
	filter := domain.TransactionFilter{
		Reconciled: q.Reconciled,
		Limit:      q.FetchLimit(),
		Offset:     q.Offset(),
	}
	if q.Gateway != "" {
		g, ok := domain.ParseGateway(q.Gateway)
		if !ok {
			return filter, &domain.UnsupportedGatewayError{Gateway: q.Gateway}
		}
		filter.Gateway = &g
	}
	if q.Status != "" {
		s := domain.Status(q.Status)
		if !s.IsValid() {
			return filter, domain.NewValidationError("status", "unknown status")
		}
		filter.Status = &s
	}
	if q.UserID != "" {
		filter.UserID = &q.UserID
	}
	if q.VendorID != "" {
		filter.VendorID = &q.VendorID
	}
	return filter, nil
}

// StatsQuery scopes the stats endpoint.
type StatsQuery struct {
	VendorID string `form:"vendor_id"`
	Currency string `form:"currency"`
}

// TransactionResponse is the API view of a ledger record. Amounts are in major units.
type TransactionResponse struct {
	Reference        string          `json:"reference"`
	Gateway          domain.Gateway  `json:"gateway"`
	Status           domain.Status   `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	CustomerEmail    string          `json:"customer_email"`
	UserID           *string         `json:"user_id,omitempty"`
	VendorID         *string         `json:"vendor_id,omitempty"`
	OrderID          *string         `json:"order_id,omitempty"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
	RefundReference  *string         `json:"refund_reference,omitempty"`
	RefundReason     *string         `json:"refund_reason,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
	RefundPendingAt  *time.Time      `json:"refund_pending_at,omitempty"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	WebhookAttempts  int             `json:"webhook_attempts"`
	LastWebhookAt    *time.Time      `json:"last_webhook_at,omitempty"`
	Reconciled       bool            `json:"reconciled"`
	ReconciledAt     *time.Time      `json:"reconciled_at,omitempty"`
	ReconciledBy     *string         `json:"reconciled_by,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewTransactionResponse converts a domain transaction.
func NewTransactionResponse(t *domain.Transaction) *TransactionResponse {
	return &TransactionResponse{
		Reference:        t.Reference,
		Gateway:          t.Gateway,
		Status:           t.Status,
		Amount:           t.Amount.Major(t.Currency),
		Currency:         t.Currency,
		CustomerEmail:    t.CustomerEmail,
		UserID:           t.UserID,
		VendorID:         t.VendorID,
		OrderID:          t.OrderID,
		AuthorizationURL: t.AuthorizationURL,
		Metadata:         t.Metadata,
		PaidAt:           t.PaidAt,
		RefundedAmount:   t.RefundedAmount.Major(t.Currency),
		RefundReference:  t.RefundReference,
		RefundReason:     t.RefundReason,
		RefundedAt:       t.RefundedAt,
		RefundPendingAt:  t.RefundPendingAt,
		FailureReason:    t.FailureReason,
		WebhookAttempts:  t.WebhookAttempts,
		LastWebhookAt:    t.LastWebhookAt,
		Reconciled:       t.Reconciled,
		ReconciledAt:     t.ReconciledAt,
		ReconciledBy:     t.ReconciledBy,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

// VerifyPaymentResponse reports the provider's answer and the resulting record.
type VerifyPaymentResponse struct {
	Success        bool                 `json:"success"`
	ProviderStatus string               `json:"provider_status"`
	Message        string               `json:"message,omitempty"`
	Transaction    *TransactionResponse `json:"transaction"`
}

func newVerifyPaymentResponse(out *VerifyOutcome) *VerifyPaymentResponse {
	return &VerifyPaymentResponse{
		Success:        out.Result.Success,
		ProviderStatus: out.Result.ProviderStatus,
		Message:        out.Result.Message,
		Transaction:    NewTransactionResponse(out.Transaction),
	}
}

// ListTransactionsResponse is a page of transactions.
type ListTransactionsResponse struct {
	Transactions []*TransactionResponse `json:"transactions"`
	Pagination   pagination.PageInfo    `json:"pagination"`
}

// StatsResponse is the API view of ledger aggregates. Amount totals are in
// major units when a currency is given and minor units otherwise. The
// reconciled counts cover completed payments only.
type StatsResponse struct {
	TotalTransactions      int64           `json:"total_transactions"`
	SuccessfulTransactions int64           `json:"successful_transactions"`
	FailedTransactions     int64           `json:"failed_transactions"`
	PendingTransactions    int64           `json:"pending_transactions"`
	TotalAmount            decimal.Decimal `json:"total_amount"`
	TotalRefunded          decimal.Decimal `json:"total_refunded"`
	ReconciledCount        int64           `json:"reconciled_count"`
	UnreconciledCount      int64           `json:"unreconciled_count"`
	Currency               string          `json:"currency,omitempty"`
}

// NewStatsResponse converts ledger aggregates.
func NewStatsResponse(s *domain.Stats, currency string) *StatsResponse {
	total := decimal.NewFromInt(s.TotalAmount.Minor())
	refunded := decimal.NewFromInt(s.TotalRefunded.Minor())
	if currency != "" {
		total = s.TotalAmount.Major(currency)
		refunded = s.TotalRefunded.Major(currency)
	}
	return &StatsResponse{
		TotalTransactions:      s.TotalTransactions,
		SuccessfulTransactions: s.SuccessfulTransactions,
		FailedTransactions:     s.FailedTransactions,
		PendingTransactions:    s.PendingTransactions,
		TotalAmount:            total,
		TotalRefunded:          refunded,
		ReconciledCount:        s.ReconciledCount,
		UnreconciledCount:      s.UnreconciledCount,
		Currency:               currency,
	}
}

// GatewaysResponse lists configured gateways.
type GatewaysResponse struct {
	Gateways []domain.Gateway `json:"gateways"`
}
