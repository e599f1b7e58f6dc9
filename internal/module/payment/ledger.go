package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
	"go.uber.org/zap"
)

// Owner correlates a transaction with records owned by other services.
type Owner struct {
	UserID   *string
	VendorID *string
	OrderID  *string
}

// Ledger owns transaction records and enforces their money-state guards.
// Every mutation runs through TransactionRepository.UpdateByReference.
type Ledger struct {
	repo     TransactionRepository
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewLedger creates a ledger over a repository.
func NewLedger(repo TransactionRepository, recorder Recorder, logger *zap.Logger) *Ledger {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{repo: repo, recorder: recorder, logger: logger, now: time.Now}
}

// CreateTransaction records a PENDING transaction for an initialized payment.
func (l *Ledger) CreateTransaction(ctx context.Context, gateway domain.Gateway, req *provider.InitializeRequest, res *provider.InitializeResult, owner Owner) (*domain.Transaction, error) {
	reference := res.Reference
	if reference == "" {
		reference = req.Reference
	}
	tx, err := domain.NewTransaction(domain.NewTransactionParams{
		Reference:        reference,
		Gateway:          gateway,
		Amount:           req.Amount,
		Currency:         req.Currency,
		CustomerEmail:    req.Email,
		UserID:           owner.UserID,
		VendorID:         owner.VendorID,
		OrderID:          owner.OrderID,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		Metadata:         req.Metadata,
		GatewayResponse:  res.Raw,
	}, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.repo.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction %s: %w", reference, err)
	}
	l.recorder.RecordLedgerTransition(string(gateway), "", string(domain.StatusPending))
	return tx, nil
}

// FindByReference returns a transaction or ErrTransactionNotFound.
func (l *Ledger) FindByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	return l.repo.FindByReference(ctx, reference)
}

// FindByProviderReference returns the transaction a gateway knows by its own id,
// or ErrTransactionNotFound.
func (l *Ledger) FindByProviderReference(ctx context.Context, gateway domain.Gateway, providerReference string) (*domain.Transaction, error) {
	return l.repo.FindByProviderReference(ctx, gateway, providerReference)
}

// UpdateTransactionStatus applies a status change. PaidAt is stamped only for
// COMPLETED and FailureReason only for FAILED. Re-applying the current status
// is a no-op.
func (l *Ledger) UpdateTransactionStatus(ctx context.Context, reference string, update domain.StatusUpdate) (*domain.Transaction, error) {
	var from domain.Status
	tx, err := l.repo.UpdateByReference(ctx, reference, func(tx *domain.Transaction) (bool, error) {
		from = tx.Status
		return tx.ApplyStatus(update, l.now())
	})
	if err != nil {
		return nil, err
	}
	if from != tx.Status {
		l.transitioned(tx, from)
	}
	return tx, nil
}

// RecordWebhookAttempt counts a webhook delivery for a reference.
func (l *Ledger) RecordWebhookAttempt(ctx context.Context, reference string) (*domain.Transaction, error) {
	return l.repo.UpdateByReference(ctx, reference, func(tx *domain.Transaction) (bool, error) {
		tx.RecordWebhookAttempt(l.now())
		return true, nil
	})
}

// ReserveRefund claims a COMPLETED transaction for one provider refund call.
// A concurrent or repeated reservation fails with ErrInvalidState.
func (l *Ledger) ReserveRefund(ctx context.Context, reference string) (*domain.Transaction, error) {
	return l.repo.UpdateByReference(ctx, reference, func(tx *domain.Transaction) (bool, error) {
		return true, tx.ReserveRefund(l.now())
	})
}

// ReleaseRefund drops a refund reservation after the provider rejected the refund.
func (l *Ledger) ReleaseRefund(ctx context.Context, reference string) error {
	_, err := l.repo.UpdateByReference(ctx, reference, func(tx *domain.Transaction) (bool, error) {
		return tx.ReleaseRefund(l.now()), nil
	})
	return err
}

// RecordRefund marks a COMPLETED transaction as REFUNDED. A second refund
// fails with ErrInvalidState.
func (l *Ledger) RecordRefund(ctx context.Context, reference string, amount domain.Amount, refundReference, reason string) (*domain.Transaction, error) {
	tx, err := l.repo.UpdateByReference(ctx, reference, func(tx *domain.Transaction) (bool, error) {
		return true, tx.RecordRefund(amount, refundReference, reason, l.now())
	})
	if err != nil {
		return nil, err
	}
	l.transitioned(tx, domain.StatusCompleted)
	return tx, nil
}

// ConfirmRefund applies a provider refund confirmation. It is idempotent: a
// transaction that is already REFUNDED is returned unchanged.
func (l *Ledger) ConfirmRefund(ctx context.Context, reference string, amount domain.Amount, refundReference string) (*domain.Transaction, error) {
	var applied bool
	tx, err := l.repo.UpdateByReference(ctx, reference, func(tx *domain.Transaction) (bool, error) {
		if tx.Status == domain.StatusRefunded {
			return false, nil
		}
		refundAmount := amount
		if refundAmount <= 0 || refundAmount > tx.Amount {
			refundAmount = tx.Amount
		}
		if refundReference == "" {
			refundReference = provider.GenerateRefundReference(tx.Reference, l.now())
		}
		if err := tx.RecordRefund(refundAmount, refundReference, "confirmed by provider", l.now()); err != nil {
			return false, err
		}
		applied = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if applied {
		l.transitioned(tx, domain.StatusCompleted)
	}
	return tx, nil
}

// ReconcilePayment marks a COMPLETED transaction as reconciled, exactly once.
func (l *Ledger) ReconcilePayment(ctx context.Context, reference, reconciledBy string) (*domain.Transaction, error) {
	return l.repo.UpdateByReference(ctx, reference, func(tx *domain.Transaction) (bool, error) {
		return true, tx.Reconcile(reconciledBy, l.now())
	})
}

// FindAll lists transactions newest first.
func (l *Ledger) FindAll(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	return l.repo.List(ctx, filter)
}

// GetStats aggregates ledger totals.
func (l *Ledger) GetStats(ctx context.Context, filter domain.StatsFilter) (*domain.Stats, error) {
	return l.repo.Stats(ctx, filter)
}

// FindStale lists PENDING and PROCESSING transactions last touched before olderThan.
func (l *Ledger) FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	return l.repo.FindStale(ctx, []domain.Status{domain.StatusPending, domain.StatusProcessing}, olderThan, limit)
}

func (l *Ledger) transitioned(tx *domain.Transaction, from domain.Status) {
	l.recorder.RecordLedgerTransition(string(tx.Gateway), string(from), string(tx.Status))
	l.logger.Info("transaction status changed",
		zap.String("reference", tx.Reference),
		zap.String("gateway", string(tx.Gateway)),
		zap.String("from", string(from)),
		zap.String("to", string(tx.Status)),
	)
}
