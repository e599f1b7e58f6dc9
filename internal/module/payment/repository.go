package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a gorm-backed transaction repository.
// The database must be opened with TranslateError so duplicate references are detected.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	ent := entity.FromDomainTransaction(tx)
	if err := r.db.WithContext(ctx).Create(ent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateReference
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) FindByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	var ent entity.TransactionEntity
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return ent.ToDomain(), nil
}

func (r *transactionRepository) FindByProviderReference(ctx context.Context, gateway domain.Gateway, providerReference string) (*domain.Transaction, error) {
	var ent entity.TransactionEntity
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND access_code = ?", string(gateway), providerReference).
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("find transaction by provider reference: %w", err)
	}
	return ent.ToDomain(), nil
}

func (r *transactionRepository) UpdateByReference(ctx context.Context, reference string, fn func(tx *domain.Transaction) (bool, error)) (*domain.Transaction, error) {
	var result *domain.Transaction
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var ent entity.TransactionEntity
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reference = ?", reference).
			First(&ent).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTransactionNotFound
			}
			return fmt.Errorf("lock transaction: %w", err)
		}

		tx := ent.ToDomain()
		changed, err := fn(tx)
		if err != nil {
			return err
		}
		result = tx
		if !changed {
			return nil
		}
		if err := db.Save(entity.FromDomainTransaction(tx)).Error; err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *transactionRepository) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	query := r.db.WithContext(ctx).Model(&entity.TransactionEntity{})
	if filter.Gateway != nil {
		query = query.Where("gateway = ?", string(*filter.Gateway))
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.Reconciled != nil {
		query = query.Where("reconciled = ?", *filter.Reconciled)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var ents []entity.TransactionEntity
	if err := query.Order("created_at DESC").Find(&ents).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]*domain.Transaction, len(ents))
	for i := range ents {
		out[i] = ents[i].ToDomain()
	}
	return out, nil
}

type statsRow struct {
	TotalTransactions      int64
	SuccessfulTransactions int64
	FailedTransactions     int64
	PendingTransactions    int64
	TotalAmount            int64
	TotalRefunded          int64
	ReconciledCount        int64
	UnreconciledCount      int64
}

func (r *transactionRepository) Stats(ctx context.Context, filter domain.StatsFilter) (*domain.Stats, error) {
	query := r.db.WithContext(ctx).Model(&entity.TransactionEntity{}).Select(`
		COUNT(*) AS total_transactions,
		COALESCE(SUM(CASE WHEN status = 'COMPLETED' THEN 1 ELSE 0 END), 0) AS successful_transactions,
		COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0) AS failed_transactions,
		COALESCE(SUM(CASE WHEN status = 'PENDING' THEN 1 ELSE 0 END), 0) AS pending_transactions,
		COALESCE(SUM(CASE WHEN status = 'COMPLETED' THEN amount ELSE 0 END), 0) AS total_amount,
		COALESCE(SUM(CASE WHEN status = 'REFUNDED' THEN refunded_amount ELSE 0 END), 0) AS total_refunded,
		COALESCE(SUM(CASE WHEN status = 'COMPLETED' AND reconciled THEN 1 ELSE 0 END), 0) AS reconciled_count,
		COALESCE(SUM(CASE WHEN status = 'COMPLETED' AND NOT reconciled THEN 1 ELSE 0 END), 0) AS unreconciled_count`)
	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", filter.Currency)
	}

	var row statsRow
	if err := query.Scan(&row).Error; err != nil {
		return nil, fmt.Errorf("aggregate transactions: %w", err)
	}
	return &domain.Stats{
		TotalTransactions:      row.TotalTransactions,
		SuccessfulTransactions: row.SuccessfulTransactions,
		FailedTransactions:     row.FailedTransactions,
		PendingTransactions:    row.PendingTransactions,
		TotalAmount:            domain.Amount(row.TotalAmount),
		TotalRefunded:          domain.Amount(row.TotalRefunded),
		ReconciledCount:        row.ReconciledCount,
		UnreconciledCount:      row.UnreconciledCount,
	}, nil
}

func (r *transactionRepository) FindStale(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	var ents []entity.TransactionEntity
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", names, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("find stale transactions: %w", err)
	}
	out := make([]*domain.Transaction, len(ents))
	for i := range ents {
		out[i] = ents[i].ToDomain()
	}
	return out, nil
}

type recoveryRepository struct {
	db *gorm.DB
}

// NewRecoveryRepository creates a gorm-backed recovery task repository.
func NewRecoveryRepository(db *gorm.DB) RecoveryRepository {
	return &recoveryRepository{db: db}
}

func (r *recoveryRepository) Create(ctx context.Context, task *domain.RecoveryTask) error {
	if err := r.db.WithContext(ctx).Create(entity.FromDomainRecoveryTask(task)).Error; err != nil {
		return fmt.Errorf("create recovery task: %w", err)
	}
	return nil
}

func (r *recoveryRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.RecoveryTask, error) {
	var ents []entity.RecoveryTaskEntity
	err := r.db.WithContext(ctx).
		Where("state = ? AND next_run_at <= ?", string(domain.RecoveryPending), now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("find due recovery tasks: %w", err)
	}
	out := make([]*domain.RecoveryTask, len(ents))
	for i := range ents {
		out[i] = ents[i].ToDomain()
	}
	return out, nil
}

func (r *recoveryRepository) Save(ctx context.Context, task *domain.RecoveryTask) error {
	if err := r.db.WithContext(ctx).Save(entity.FromDomainRecoveryTask(task)).Error; err != nil {
		return fmt.Errorf("save recovery task: %w", err)
	}
	return nil
}

func (r *recoveryRepository) CountByState(ctx context.Context) (map[domain.RecoveryState]int64, error) {
	var rows []struct {
		State string
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&entity.RecoveryTaskEntity{}).
		Select("state, COUNT(*) AS count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count recovery tasks: %w", err)
	}
	out := make(map[domain.RecoveryState]int64, len(rows))
	for _, row := range rows {
		out[domain.RecoveryState(row.State)] = row.Count
	}
	return out, nil
}

func (r *recoveryRepository) HasPending(ctx context.Context, reference string, kind domain.RecoveryKind) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.RecoveryTaskEntity{}).
		Where("reference = ? AND kind = ? AND state = ?", reference, string(kind), string(domain.RecoveryPending)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("find pending recovery task: %w", err)
	}
	return count > 0, nil
}

// AutoMigrate creates or updates the payment tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&entity.TransactionEntity{}, &entity.RecoveryTaskEntity{})
}
