package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RecoveryKind names the ledger operation a recovery task re-applies.
type RecoveryKind string

const (
	// RecoveryWebhookUpdate replays a verified webhook whose ledger update failed.
	RecoveryWebhookUpdate RecoveryKind = "webhook_update"
	// RecoveryLedgerCreate re-creates a ledger record after the provider accepted the payment.
	RecoveryLedgerCreate RecoveryKind = "ledger_create"
	// RecoveryRefundRecord records a refund the provider accepted but the ledger missed.
	RecoveryRefundRecord RecoveryKind = "refund_record"
)

// RecoveryState is the lifecycle of a recovery task.
type RecoveryState string

const (
	RecoveryPending  RecoveryState = "pending"
	RecoveryResolved RecoveryState = "resolved"
	RecoveryDead     RecoveryState = "dead"
)

// RecoveryTask is a durable outbox entry for a money-state change that could not be
// applied when it was first observed.
type RecoveryTask struct {
	ID         uuid.UUID
	Kind       RecoveryKind
	Gateway    Gateway
	Reference  string
	Status     Status
	Payload    json.RawMessage
	LastError  string
	State      RecoveryState
	Attempts   int
	NextRunAt  time.Time
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewRecoveryTask creates a pending task that is due immediately.
func NewRecoveryTask(kind RecoveryKind, gateway Gateway, reference string, status Status, payload json.RawMessage, cause error, now time.Time) *RecoveryTask {
	task := &RecoveryTask{
		ID:        uuid.New(),
		Kind:      kind,
		Gateway:   gateway,
		Reference: reference,
		Status:    status,
		Payload:   payload,
		State:     RecoveryPending,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cause != nil {
		task.LastError = cause.Error()
	}
	return task
}

// MarkResolved closes the task.
func (t *RecoveryTask) MarkResolved(now time.Time) {
	t.State = RecoveryResolved
	t.ResolvedAt = &now
	t.UpdatedAt = now
}

// MarkFailed records a failed attempt and either reschedules the task with
// exponential backoff or moves it to the dead state once maxAttempts is reached.
func (t *RecoveryTask) MarkFailed(cause error, baseDelay, maxDelay time.Duration, maxAttempts int, now time.Time) {
	t.Attempts++
	if cause != nil {
		t.LastError = cause.Error()
	}
	t.UpdatedAt = now
	if t.Attempts >= maxAttempts {
		t.State = RecoveryDead
		return
	}
	delay := baseDelay << (t.Attempts - 1)
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}
	t.NextRunAt = now.Add(delay)
}
