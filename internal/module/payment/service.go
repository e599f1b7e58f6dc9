package payment

import (
	"context"
	"fmt"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
	"go.uber.org/zap"
)

// IncompleteInitializationError is returned when the provider accepted a payment
// but its ledger record could not be written. The reference stays usable: the
// record is re-created from a recovery task.
type IncompleteInitializationError struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
	Err              error
}

func (e *IncompleteInitializationError) Error() string {
	return fmt.Sprintf("payment %s initialized but not recorded: %v", e.Reference, e.Err)
}

func (e *IncompleteInitializationError) Unwrap() error {
	return e.Err
}

// InitializeInput is a payment initialization request.
type InitializeInput struct {
	Reference   string
	Amount      domain.Amount
	Currency    string
	Email       string
	Name        string
	Description string
	Metadata    map[string]any
	CallbackURL string
	Owner       Owner
}

// RefundInput is a refund request. A nil Amount refunds the full amount.
type RefundInput struct {
	Reference string
	Amount    *domain.Amount
	Reason    string
}

// VerifyOutcome pairs the provider's answer with the ledger record after applying it.
type VerifyOutcome struct {
	Transaction *domain.Transaction
	Result      *provider.VerifyResult
}

// Service pairs provider calls with their ledger writes.
type Service struct {
	orchestrator *Orchestrator
	ledger       *Ledger
	recoverer    *Recoverer
	logger       *zap.Logger
}

// NewService creates a payment service.
func NewService(orchestrator *Orchestrator, ledger *Ledger, recoverer *Recoverer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orchestrator: orchestrator,
		ledger:       ledger,
		recoverer:    recoverer,
		logger:       logger,
	}
}

// Gateways lists the configured gateways.
func (s *Service) Gateways() []domain.Gateway {
	return s.orchestrator.Registry().Configured()
}

// Initialize opens a checkout with the gateway and records a PENDING transaction.
func (s *Service) Initialize(ctx context.Context, gateway domain.Gateway, in *InitializeInput) (*domain.Transaction, error) {
	currency, err := domain.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be greater than zero")
	}
	if err := domain.ValidateEmail(in.Email); err != nil {
		return nil, err
	}

	req := &provider.InitializeRequest{
		Reference:   in.Reference,
		Amount:      in.Amount,
		Currency:    currency,
		Email:       in.Email,
		Name:        in.Name,
		Description: in.Description,
		Metadata:    in.Metadata,
		CallbackURL: in.CallbackURL,
	}
	res, err := s.orchestrator.InitializePayment(ctx, gateway, req)
	if err != nil {
		return nil, err
	}
	if res.Reference == "" {
		res.Reference = req.Reference
	}

	tx, err := s.ledger.CreateTransaction(ctx, gateway, req, res, in.Owner)
	if err != nil {
		s.logger.Error("ledger write failed after provider accepted payment",
			zap.String("gateway", string(gateway)),
			zap.String("reference", res.Reference),
			zap.Error(err),
		)
		if qerr := s.recoverer.EnqueueLedgerCreate(ctx, gateway, req, res, in.Owner, err); qerr != nil {
			s.logger.Error("persist ledger recovery task failed", zap.String("reference", res.Reference), zap.Error(qerr))
		}
		return nil, &IncompleteInitializationError{
			Reference:        res.Reference,
			AuthorizationURL: res.AuthorizationURL,
			AccessCode:       res.AccessCode,
			Err:              err,
		}
	}
	return tx, nil
}

// Verify asks the gateway for the payment's state and applies it to the ledger.
func (s *Service) Verify(ctx context.Context, gateway domain.Gateway, reference string) (*VerifyOutcome, error) {
	tx, err := s.owned(ctx, gateway, reference)
	if err != nil {
		return nil, err
	}

	res, err := s.orchestrator.VerifyPayment(ctx, gateway, reference)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.StatusPending || res.Status == tx.Status {
		return &VerifyOutcome{Transaction: tx, Result: res}, nil
	}

	update := domain.StatusUpdate{Status: res.Status, GatewayResponse: res.Raw, PaidAt: res.PaidAt}
	if res.Status == domain.StatusFailed {
		update.FailureReason = res.Message
	}
	updated, err := s.ledger.UpdateTransactionStatus(ctx, reference, update)
	if err != nil {
		if domain.IsInvalidState(err) {
			// A webhook moved the transaction first.
			current, ferr := s.ledger.FindByReference(ctx, reference)
			if ferr != nil {
				return nil, ferr
			}
			return &VerifyOutcome{Transaction: current, Result: res}, nil
		}
		return nil, err
	}
	return &VerifyOutcome{Transaction: updated, Result: res}, nil
}

// Refund refunds a COMPLETED transaction through its gateway and records it.
// The row is reserved before the provider call so concurrent requests send at
// most one refund.
func (s *Service) Refund(ctx context.Context, gateway domain.Gateway, in *RefundInput) (*domain.Transaction, error) {
	tx, err := s.owned(ctx, gateway, in.Reference)
	if err != nil {
		return nil, err
	}
	if in.Amount != nil && (*in.Amount <= 0 || *in.Amount > tx.Amount) {
		return nil, domain.NewValidationError("amount", "refund amount must be between zero and the transaction amount")
	}

	reserved, err := s.ledger.ReserveRefund(ctx, tx.Reference)
	if err != nil {
		return nil, err
	}

	res, err := s.orchestrator.RefundPayment(ctx, gateway, &provider.RefundRequest{
		Reference: reserved.Reference,
		Amount:    in.Amount,
		Currency:  reserved.Currency,
		Reason:    in.Reason,
	})
	if err != nil {
		if rerr := s.ledger.ReleaseRefund(ctx, reserved.Reference); rerr != nil {
			s.logger.Error("release refund reservation failed", zap.String("reference", reserved.Reference), zap.Error(rerr))
		}
		return nil, err
	}

	amount := reserved.Amount
	if in.Amount != nil {
		amount = *in.Amount
	}
	refundRef := res.RefundReference
	if refundRef == "" {
		refundRef = provider.GenerateRefundReference(reserved.Reference, reserved.UpdatedAt)
	}

	updated, err := s.ledger.RecordRefund(ctx, reserved.Reference, amount, refundRef, in.Reason)
	if err == nil {
		return updated, nil
	}
	if domain.IsInvalidState(err) {
		// The provider's refund webhook may have been applied first.
		current, ferr := s.ledger.FindByReference(ctx, reserved.Reference)
		if ferr == nil && current.Status == domain.StatusRefunded &&
			current.RefundReference != nil && *current.RefundReference == refundRef {
			return current, nil
		}
		return nil, err
	}

	s.logger.Error("ledger write failed after provider accepted refund",
		zap.String("reference", reserved.Reference),
		zap.Error(err),
	)
	if qerr := s.recoverer.EnqueueRefundRecord(ctx, gateway, reserved.Reference, amount, refundRef, in.Reason, err); qerr != nil {
		s.logger.Error("persist refund recovery task failed", zap.String("reference", reserved.Reference), zap.Error(qerr))
	}
	return nil, err
}

// Reconcile marks a COMPLETED transaction as reconciled.
func (s *Service) Reconcile(ctx context.Context, reference, reconciledBy string) (*domain.Transaction, error) {
	return s.ledger.ReconcilePayment(ctx, reference, reconciledBy)
}

// Get returns one transaction.
func (s *Service) Get(ctx context.Context, reference string) (*domain.Transaction, error) {
	return s.ledger.FindByReference(ctx, reference)
}

// List returns transactions matching a filter, newest first.
func (s *Service) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	return s.ledger.FindAll(ctx, filter)
}

// Stats returns ledger aggregates.
func (s *Service) Stats(ctx context.Context, filter domain.StatsFilter) (*domain.Stats, error) {
	return s.ledger.GetStats(ctx, filter)
}

func (s *Service) owned(ctx context.Context, gateway domain.Gateway, reference string) (*domain.Transaction, error) {
	tx, err := s.ledger.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if tx.Gateway != gateway {
		return nil, domain.NewValidationError("gateway", fmt.Sprintf("transaction %s belongs to %s", reference, tx.Gateway))
	}
	return tx, nil
}
