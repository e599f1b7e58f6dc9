package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"gorm.io/datatypes"
)

// RecoveryTaskEntity is the GORM entity for a recovery task.
type RecoveryTaskEntity struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Kind       string         `gorm:"size:32;not null"`
	Gateway    string         `gorm:"size:32;not null"`
	Reference  string         `gorm:"size:128;not null;index"`
	Status     string         `gorm:"size:16"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	LastError  string         `gorm:"type:text"`
	State      string         `gorm:"size:16;not null;index:idx_recovery_due,priority:1"`
	Attempts   int            `gorm:"not null;default:0"`
	NextRunAt  time.Time      `gorm:"not null;index:idx_recovery_due,priority:2"`
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName returns the database table name.
func (RecoveryTaskEntity) TableName() string {
	return "payment_recovery_tasks"
}

// ToDomain converts the entity to a domain recovery task.
func (e *RecoveryTaskEntity) ToDomain() *domain.RecoveryTask {
	var payload json.RawMessage
	if len(e.Payload) > 0 {
		payload = json.RawMessage(e.Payload)
	}
	return &domain.RecoveryTask{
		ID:         e.ID,
		Kind:       domain.RecoveryKind(e.Kind),
		Gateway:    domain.Gateway(e.Gateway),
		Reference:  e.Reference,
		Status:     domain.Status(e.Status),
		Payload:    payload,
		LastError:  e.LastError,
		State:      domain.RecoveryState(e.State),
		Attempts:   e.Attempts,
		NextRunAt:  e.NextRunAt,
		ResolvedAt: e.ResolvedAt,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

// FromDomainRecoveryTask converts a domain recovery task to an entity.
func FromDomainRecoveryTask(t *domain.RecoveryTask) *RecoveryTaskEntity {
	var payload datatypes.JSON
	if len(t.Payload) > 0 && json.Valid(t.Payload) {
		payload = datatypes.JSON(t.Payload)
	}
	return &RecoveryTaskEntity{
		ID:         t.ID,
		Kind:       string(t.Kind),
		Gateway:    string(t.Gateway),
		Reference:  t.Reference,
		Status:     string(t.Status),
		Payload:    payload,
		LastError:  t.LastError,
		State:      string(t.State),
		Attempts:   t.Attempts,
		NextRunAt:  t.NextRunAt,
		ResolvedAt: t.ResolvedAt,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}
