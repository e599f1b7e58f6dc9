package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Transaction is the durable ledger record for one payment attempt.
// Records are never deleted; only status and derived fields mutate.
type Transaction struct {
	ID               uuid.UUID
	Reference        string
	Gateway          Gateway
	Amount           Amount
	Currency         string
	CustomerEmail    string
	UserID           *string
	VendorID         *string
	OrderID          *string
	Status           Status
	AuthorizationURL string
	AccessCode       string
	Metadata         map[string]any
	GatewayResponse  json.RawMessage
	PaidAt           *time.Time
	RefundedAmount   Amount
	RefundReference  *string
	RefundReason     *string
	RefundedAt       *time.Time
	RefundPendingAt  *time.Time
	FailureReason    *string
	WebhookAttempts  int
	LastWebhookAt    *time.Time
	Reconciled       bool
	ReconciledAt     *time.Time
	ReconciledBy     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewTransactionParams holds the inputs for a ledger record at initialization time.
type NewTransactionParams struct {
	Reference        string
	Gateway          Gateway
	Amount           Amount
	Currency         string
	CustomerEmail    string
	UserID           *string
	VendorID         *string
	OrderID          *string
	AuthorizationURL string
	AccessCode       string
	Metadata         map[string]any
	GatewayResponse  json.RawMessage
}

// NewTransaction creates a PENDING transaction.
func NewTransaction(p NewTransactionParams, now time.Time) (*Transaction, error) {
	if strings.TrimSpace(p.Reference) == "" {
		return nil, NewValidationError("reference", "is required")
	}
	if p.Amount <= 0 {
		return nil, NewValidationError("amount", "must be greater than zero")
	}
	currency, err := NormalizeCurrency(p.Currency)
	if err != nil {
		return nil, err
	}
	if err := ValidateEmail(p.CustomerEmail); err != nil {
		return nil, err
	}
	return &Transaction{
		ID:               uuid.New(),
		Reference:        p.Reference,
		Gateway:          p.Gateway,
		Amount:           p.Amount,
		Currency:         currency,
		CustomerEmail:    p.CustomerEmail,
		UserID:           p.UserID,
		VendorID:         p.VendorID,
		OrderID:          p.OrderID,
		Status:           StatusPending,
		AuthorizationURL: p.AuthorizationURL,
		AccessCode:       p.AccessCode,
		Metadata:         p.Metadata,
		GatewayResponse:  p.GatewayResponse,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// ValidateEmail checks that an address is a bare, well-formed email.
func ValidateEmail(email string) error {
	if email == "" {
		return NewValidationError("email", "is required")
	}
	if err := validate.Var(email, "email"); err != nil {
		return NewValidationError("email", "is not a valid address")
	}
	return nil
}

// StatusUpdate carries the fields that accompany a status change.
type StatusUpdate struct {
	Status          Status
	GatewayResponse json.RawMessage
	PaidAt          *time.Time
	FailureReason   string
}

// ApplyStatus moves the transaction to a new status. Re-applying the current status
// is a no-op reported with changed=false. REFUNDED is only reachable via RecordRefund.
func (t *Transaction) ApplyStatus(u StatusUpdate, now time.Time) (changed bool, err error) {
	if !u.Status.IsValid() {
		return false, NewValidationError("status", "unknown status "+string(u.Status))
	}
	if u.Status == t.Status {
		return false, nil
	}
	if u.Status == StatusRefunded {
		return false, NewStateError(t.Reference, "refunds must be recorded with a refund reference")
	}
	if !t.Status.CanTransitionTo(u.Status) {
		return false, NewStateError(t.Reference, "cannot move transaction from "+string(t.Status)+" to "+string(u.Status))
	}

	t.Status = u.Status
	if len(u.GatewayResponse) > 0 {
		t.GatewayResponse = u.GatewayResponse
	}
	switch u.Status {
	case StatusCompleted:
		paidAt := now
		if u.PaidAt != nil {
			paidAt = *u.PaidAt
		}
		t.PaidAt = &paidAt
	case StatusFailed:
		if u.FailureReason != "" {
			reason := u.FailureReason
			t.FailureReason = &reason
		}
	}
	t.UpdatedAt = now
	return true, nil
}

// RecordWebhookAttempt counts one webhook delivery regardless of its outcome.
func (t *Transaction) RecordWebhookAttempt(now time.Time) {
	t.WebhookAttempts++
	t.LastWebhookAt = &now
	t.UpdatedAt = now
}

// RefundReservationTTL bounds how long a refund reservation blocks another
// attempt. It must outlive the slowest provider refund call.
const RefundReservationTTL = 15 * time.Minute

// ReserveRefund claims the right to send one refund to the provider. Only a
// COMPLETED transaction without a live reservation can be reserved.
func (t *Transaction) ReserveRefund(now time.Time) error {
	if t.Status != StatusCompleted {
		return NewStateError(t.Reference, "cannot refund a payment that is not completed")
	}
	if t.RefundInFlight(now) {
		return NewStateError(t.Reference, "a refund is already in progress")
	}
	t.RefundPendingAt = &now
	t.UpdatedAt = now
	return nil
}

// RefundInFlight reports whether a refund reservation is still live.
func (t *Transaction) RefundInFlight(now time.Time) bool {
	return t.RefundPendingAt != nil && now.Sub(*t.RefundPendingAt) < RefundReservationTTL
}

// ReleaseRefund drops a refund reservation. It reports whether one was held.
func (t *Transaction) ReleaseRefund(now time.Time) bool {
	if t.RefundPendingAt == nil {
		return false
	}
	t.RefundPendingAt = nil
	t.UpdatedAt = now
	return true
}

// RecordRefund marks a completed transaction as refunded and clears any
// refund reservation.
func (t *Transaction) RecordRefund(amount Amount, refundReference, reason string, now time.Time) error {
	if t.Status != StatusCompleted {
		return NewStateError(t.Reference, "cannot refund a payment that is not completed")
	}
	if amount <= 0 {
		return NewValidationError("amount", "refund amount must be greater than zero")
	}
	if amount > t.Amount {
		return NewValidationError("amount", "refund amount exceeds the transaction amount")
	}
	if strings.TrimSpace(refundReference) == "" {
		return NewValidationError("refund_reference", "is required")
	}

	t.Status = StatusRefunded
	t.RefundedAmount = amount
	t.RefundReference = &refundReference
	if reason != "" {
		t.RefundReason = &reason
	}
	t.RefundedAt = &now
	t.RefundPendingAt = nil
	t.UpdatedAt = now
	return nil
}

// Reconcile marks a completed transaction as matched against settlement records.
func (t *Transaction) Reconcile(by string, now time.Time) error {
	if t.Reconciled {
		return NewStateError(t.Reference, "transaction already reconciled")
	}
	if t.Status != StatusCompleted {
		return NewStateError(t.Reference, "only completed transactions can be reconciled")
	}
	if strings.TrimSpace(by) == "" {
		return NewValidationError("reconciled_by", "is required")
	}
	t.Reconciled = true
	t.ReconciledAt = &now
	t.ReconciledBy = &by
	t.UpdatedAt = now
	return nil
}

// Clone returns a deep copy suitable for handing out of an in-memory store.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.GatewayResponse != nil {
		c.GatewayResponse = append(json.RawMessage(nil), t.GatewayResponse...)
	}
	return &c
}
