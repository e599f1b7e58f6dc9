package payment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SweeperConfig controls the stale-transaction sweep.
type SweeperConfig struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	BatchSize   int
	Concurrency int
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Sweep outcomes reported to the recorder.
const (
	sweepUpdated   = "updated"
	sweepUnchanged = "unchanged"
	sweepFailed    = "failed"
)

// SweepResult summarises one sweep.
type SweepResult struct {
	Checked   int
	Updated   int
	Unchanged int
	Failed    int
}

// Sweeper re-verifies transactions stuck in PENDING or PROCESSING against the
// provider, catching updates whose webhook never arrived.
type Sweeper struct {
	ledger       *Ledger
	orchestrator *Orchestrator
	cfg          SweeperConfig
	recorder     Recorder
	logger       *zap.Logger
	now          func() time.Time
}

// NewSweeper creates a sweeper.
func NewSweeper(ledger *Ledger, orchestrator *Orchestrator, cfg SweeperConfig, recorder Recorder, logger *zap.Logger) *Sweeper {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		ledger:       ledger,
		orchestrator: orchestrator,
		cfg:          cfg.withDefaults(),
		recorder:     recorder,
		logger:       logger.Named("sweeper"),
		now:          time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("stale_after", s.cfg.StaleAfter),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			res, err := s.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if res.Checked > 0 {
				s.logger.Info("sweep finished",
					zap.Int("checked", res.Checked),
					zap.Int("updated", res.Updated),
					zap.Int("failed", res.Failed),
				)
			}
		}
	}
}

// SweepOnce verifies one batch of stale transactions with bounded concurrency.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	stale, err := s.ledger.FindStale(ctx, s.now().Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("find stale transactions: %w", err)
	}

	var updated, unchanged, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, tx := range stale {
		tx := tx
		g.Go(func() error {
			outcome := s.sweepOne(gctx, tx)
			s.recorder.RecordSweep(string(tx.Gateway), outcome)
			switch outcome {
			case sweepUpdated:
				updated.Add(1)
			case sweepUnchanged:
				unchanged.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepResult{
		Checked:   len(stale),
		Updated:   int(updated.Load()),
		Unchanged: int(unchanged.Load()),
		Failed:    int(failed.Load()),
	}, ctx.Err()
}

func (s *Sweeper) sweepOne(ctx context.Context, tx *domain.Transaction) string {
	logger := s.logger.With(zap.String("reference", tx.Reference), zap.String("gateway", string(tx.Gateway)))

	res, err := s.orchestrator.VerifyPayment(ctx, tx.Gateway, tx.Reference)
	if err != nil {
		logger.Warn("verify stale transaction failed", zap.Error(err))
		return sweepFailed
	}
	if res.Status == domain.StatusPending || res.Status == tx.Status {
		return sweepUnchanged
	}

	update := domain.StatusUpdate{Status: res.Status, GatewayResponse: res.Raw, PaidAt: res.PaidAt}
	if res.Status == domain.StatusFailed {
		update.FailureReason = res.Message
	}
	if _, err := s.ledger.UpdateTransactionStatus(ctx, tx.Reference, update); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return sweepUnchanged
		}
		logger.Error("apply swept status failed", zap.Error(err))
		return sweepFailed
	}
	return sweepUpdated
}
