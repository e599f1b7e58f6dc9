package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"gorm.io/datatypes"
)

// TransactionEntity is the GORM entity for a ledger transaction.
type TransactionEntity struct {
	ID               uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Reference        string            `gorm:"size:128;not null;uniqueIndex"`
	Gateway          string            `gorm:"size:32;not null;index"`
	Amount           int64             `gorm:"not null"`
	Currency         string            `gorm:"size:3;not null"`
	CustomerEmail    string            `gorm:"size:320;not null"`
	UserID           *string           `gorm:"size:64;index"`
	VendorID         *string           `gorm:"size:64;index"`
	OrderID          *string           `gorm:"size:64;index"`
	Status           string            `gorm:"size:16;not null;index"`
	AuthorizationURL string            `gorm:"size:1024"`
	AccessCode       string            `gorm:"size:255;index"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	GatewayResponse  datatypes.JSON    `gorm:"type:jsonb"`
	PaidAt           *time.Time
	RefundedAmount   int64 `gorm:"not null;default:0"`
	RefundReference  *string
	RefundReason     *string
	RefundedAt       *time.Time
	RefundPendingAt  *time.Time
	FailureReason    *string
	WebhookAttempts  int `gorm:"not null;default:0"`
	LastWebhookAt    *time.Time
	Reconciled       bool `gorm:"not null;default:false;index"`
	ReconciledAt     *time.Time
	ReconciledBy     *string
	CreatedAt        time.Time `gorm:"index"`
	UpdatedAt        time.Time `gorm:"index"`
}

// TableName returns the database table name.
func (TransactionEntity) TableName() string {
	return "payment_transactions"
}

// ToDomain converts the entity to a domain transaction.
func (e *TransactionEntity) ToDomain() *domain.Transaction {
	var metadata map[string]any
	if e.Metadata != nil {
		metadata = map[string]any(e.Metadata)
	}
	var raw json.RawMessage
	if len(e.GatewayResponse) > 0 {
		raw = json.RawMessage(e.GatewayResponse)
	}
	return &domain.Transaction{
		ID:               e.ID,
		Reference:        e.Reference,
		Gateway:          domain.Gateway(e.Gateway),
		Amount:           domain.Amount(e.Amount),
		Currency:         e.Currency,
		CustomerEmail:    e.CustomerEmail,
		UserID:           e.UserID,
		VendorID:         e.VendorID,
		OrderID:          e.OrderID,
		Status:           domain.Status(e.Status),
		AuthorizationURL: e.AuthorizationURL,
		AccessCode:       e.AccessCode,
		Metadata:         metadata,
		GatewayResponse:  raw,
		PaidAt:           e.PaidAt,
		RefundedAmount:   domain.Amount(e.RefundedAmount),
		RefundReference:  e.RefundReference,
		RefundReason:     e.RefundReason,
		RefundedAt:       e.RefundedAt,
		RefundPendingAt:  e.RefundPendingAt,
		FailureReason:    e.FailureReason,
		WebhookAttempts:  e.WebhookAttempts,
		LastWebhookAt:    e.LastWebhookAt,
		Reconciled:       e.Reconciled,
		ReconciledAt:     e.ReconciledAt,
		ReconciledBy:     e.ReconciledBy,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

// FromDomainTransaction converts a domain transaction to an entity.
func FromDomainTransaction(t *domain.Transaction) *TransactionEntity {
	var metadata datatypes.JSONMap
	if t.Metadata != nil {
		metadata = datatypes.JSONMap(t.Metadata)
	}
	var raw datatypes.JSON
	if len(t.GatewayResponse) > 0 && json.Valid(t.GatewayResponse) {
		raw = datatypes.JSON(t.GatewayResponse)
	}
	return &TransactionEntity{
		ID:               t.ID,
		Reference:        t.Reference,
		Gateway:          string(t.Gateway),
		Amount:           int64(t.Amount),
		Currency:         t.Currency,
		CustomerEmail:    t.CustomerEmail,
		UserID:           t.UserID,
		VendorID:         t.VendorID,
		OrderID:          t.OrderID,
		Status:           string(t.Status),
		AuthorizationURL: t.AuthorizationURL,
		AccessCode:       t.AccessCode,
		Metadata:         metadata,
		GatewayResponse:  raw,
		PaidAt:           t.PaidAt,
		RefundedAmount:   int64(t.RefundedAmount),
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
