package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
	"go.uber.org/zap"
)

// RecoveryConfig controls the recovery worker.
type RecoveryConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Hour
	}
	return c
}

// ledgerCreateSnapshot is the payload of a ledger_create task.
type ledgerCreateSnapshot struct {
	Request provider.InitializeRequest `json:"request"`
	Result  provider.InitializeResult  `json:"result"`
	Owner   Owner                      `json:"owner"`
}

// refundSnapshot is the payload of a refund_record task.
type refundSnapshot struct {
	Amount          domain.Amount `json:"amount"`
	RefundReference string        `json:"refund_reference"`
	Reason          string        `json:"reason"`
}

// Recoverer re-applies ledger writes that failed after the provider had
// already acted.
type Recoverer struct {
	tasks    RecoveryRepository
	ledger   *Ledger
	registry *Registry
	cfg      RecoveryConfig
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewRecoverer creates a recovery worker.
func NewRecoverer(tasks RecoveryRepository, ledger *Ledger, registry *Registry, cfg RecoveryConfig, recorder Recorder, logger *zap.Logger) *Recoverer {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recoverer{
		tasks:    tasks,
		ledger:   ledger,
		registry: registry,
		cfg:      cfg.withDefaults(),
		recorder: recorder,
		logger:   logger.Named("recovery"),
		now:      time.Now,
	}
}

// EnqueueLedgerCreate records a payment the provider accepted but the ledger did not store.
func (r *Recoverer) EnqueueLedgerCreate(ctx context.Context, gateway domain.Gateway, req *provider.InitializeRequest, res *provider.InitializeResult, owner Owner, cause error) error {
	payload, err := json.Marshal(ledgerCreateSnapshot{Request: *req, Result: *res, Owner: owner})
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	task := domain.NewRecoveryTask(domain.RecoveryLedgerCreate, gateway, res.Reference, domain.StatusPending, payload, cause, r.now())
	return r.tasks.Create(ctx, task)
}

// EnqueueRefundRecord records a refund the provider accepted but the ledger did not store.
func (r *Recoverer) EnqueueRefundRecord(ctx context.Context, gateway domain.Gateway, reference string, amount domain.Amount, refundReference, reason string, cause error) error {
	payload, err := json.Marshal(refundSnapshot{Amount: amount, RefundReference: refundReference, Reason: reason})
	if err != nil {
		return fmt.Errorf("encode refund snapshot: %w", err)
	}
	task := domain.NewRecoveryTask(domain.RecoveryRefundRecord, gateway, reference, domain.StatusRefunded, payload, cause, r.now())
	return r.tasks.Create(ctx, task)
}

// Run processes due tasks every interval until ctx is cancelled.
func (r *Recoverer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("recovery worker started", zap.Duration("interval", r.cfg.Interval))
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("recovery pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("recovery worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RecoveryPass summarises one pass over due tasks.
type RecoveryPass struct {
	Resolved int
	Retried  int
	Dead     int
}

// RunOnce processes the tasks that are due now.
func (r *Recoverer) RunOnce(ctx context.Context) (RecoveryPass, error) {
	var pass RecoveryPass
	tasks, err := r.tasks.FindDue(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		return pass, fmt.Errorf("load due recovery tasks: %w", err)
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return pass, ctx.Err()
		}
		logger := r.logger.With(
			zap.String("task_id", task.ID.String()),
			zap.String("kind", string(task.Kind)),
			zap.String("reference", task.Reference),
		)

		applyErr := r.apply(ctx, task)
		now := r.now()
		if applyErr == nil {
			task.MarkResolved(now)
			pass.Resolved++
			r.recorder.RecordRecoveryAttempt(string(task.Kind), string(domain.RecoveryResolved))
			logger.Info("recovery task resolved", zap.Int("attempts", task.Attempts+1))
		} else {
			task.MarkFailed(applyErr, r.cfg.BaseDelay, r.cfg.MaxDelay, r.cfg.MaxAttempts, now)
			if task.State == domain.RecoveryDead {
				pass.Dead++
				logger.Error("recovery task exhausted", zap.Int("attempts", task.Attempts), zap.Error(applyErr))
			} else {
				pass.Retried++
				logger.Warn("recovery task failed", zap.Int("attempts", task.Attempts), zap.Time("next_run_at", task.NextRunAt), zap.Error(applyErr))
			}
			r.recorder.RecordRecoveryAttempt(string(task.Kind), string(task.State))
		}
		if err := r.tasks.Save(ctx, task); err != nil {
			logger.Error("save recovery task failed", zap.Error(err))
		}
	}

	r.publishCounts(ctx)
	return pass, nil
}

func (r *Recoverer) apply(ctx context.Context, task *domain.RecoveryTask) error {
	switch task.Kind {
	case domain.RecoveryWebhookUpdate:
		adapter, err := r.registry.Get(task.Gateway)
		if err != nil {
			return err
		}
		ev, err := adapter.MapWebhookEvent(task.Payload)
		if err != nil {
			return err
		}
		if ev.Reference == "" {
			ev.Reference = task.Reference
		}
		err = applyWebhookEvent(ctx, r.ledger, ev, task.Payload)
		if errors.Is(err, domain.ErrInvalidState) {
			// The transaction has since moved past this event.
			return nil
		}
		return err

	case domain.RecoveryLedgerCreate:
		var snap ledgerCreateSnapshot
		if err := json.Unmarshal(task.Payload, &snap); err != nil {
			return fmt.Errorf("decode ledger snapshot: %w", err)
		}
		_, err := r.ledger.CreateTransaction(ctx, task.Gateway, &snap.Request, &snap.Result, snap.Owner)
		if errors.Is(err, domain.ErrDuplicateReference) {
			return nil
		}
		return err

	case domain.RecoveryRefundRecord:
		var snap refundSnapshot
		if err := json.Unmarshal(task.Payload, &snap); err != nil {
			return fmt.Errorf("decode refund snapshot: %w", err)
		}
		tx, err := r.ledger.FindByReference(ctx, task.Reference)
		if err != nil {
			return err
		}
		if tx.Status == domain.StatusRefunded {
			return nil
		}
		_, err = r.ledger.RecordRefund(ctx, task.Reference, snap.Amount, snap.RefundReference, snap.Reason)
		return err

	default:
		return fmt.Errorf("unknown recovery kind %q", task.Kind)
	}
}

func (r *Recoverer) publishCounts(ctx context.Context) {
	counts, err := r.tasks.CountByState(ctx)
	if err != nil {
		r.logger.Warn("count recovery tasks failed", zap.Error(err))
		return
	}
	for _, state := range []domain.RecoveryState{domain.RecoveryPending, domain.RecoveryResolved, domain.RecoveryDead} {
		r.recorder.SetRecoveryTasks(string(state), float64(counts[state]))
	}
}
