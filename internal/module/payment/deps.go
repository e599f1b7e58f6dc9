package payment

import (
	"context"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
)

// TransactionRepository persists ledger records. Implementations must run
// UpdateByReference as an atomic read-modify-write scoped to one reference.
type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	FindByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	// FindByProviderReference looks a record up by the gateway's own transaction
	// id, stored as its access code.
	FindByProviderReference(ctx context.Context, gateway domain.Gateway, providerReference string) (*domain.Transaction, error)

	// UpdateByReference loads the record under a lock, applies fn and saves the
	// result when fn reports a change. An error from fn aborts without writing.
	UpdateByReference(ctx context.Context, reference string, fn func(tx *domain.Transaction) (bool, error)) (*domain.Transaction, error)

	List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)
	Stats(ctx context.Context, filter domain.StatsFilter) (*domain.Stats, error)
	FindStale(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]*domain.Transaction, error)
}

// RecoveryRepository persists recovery tasks.
type RecoveryRepository interface {
	Create(ctx context.Context, task *domain.RecoveryTask) error
	FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.RecoveryTask, error)
	Save(ctx context.Context, task *domain.RecoveryTask) error
	CountByState(ctx context.Context) (map[domain.RecoveryState]int64, error)
	// HasPending reports whether a pending task of kind exists for reference.
	HasPending(ctx context.Context, reference string, kind domain.RecoveryKind) (bool, error)
}

// Recorder receives payment events for metrics.
type Recorder interface {
	RecordLedgerTransition(gateway, from, to string)
	RecordWebhook(gateway, outcome string)
	RecordRecoveryAttempt(kind, outcome string)
	SetRecoveryTasks(state string, count float64)
	RecordSweep(gateway, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLedgerTransition(string, string, string) {}
func (nopRecorder) RecordWebhook(string, string)                  {}
func (nopRecorder) RecordRecoveryAttempt(string, string)          {}
func (nopRecorder) SetRecoveryTasks(string, float64)              {}
func (nopRecorder) RecordSweep(string, string)                    {}
