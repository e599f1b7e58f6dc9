package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
)

type recoveryFixture struct {
	recoverer *Recoverer
	ledger    *Ledger
	repo      *memoryTransactions
	tasks     *memoryRecoveryTasks
	recorder  *countingRecorder
	clock     time.Time
}

func newRecoveryFixture(t *testing.T, cfg RecoveryConfig) *recoveryFixture {
	t.Helper()
	paystack, err := provider.NewPaystack(provider.PaystackConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret}, provider.Options{})
	require.NoError(t, err)
	registry, err := NewRegistry(paystack)
	require.NoError(t, err)

	l, repo, rec := newTestLedger()
	f := &recoveryFixture{ledger: l, repo: repo, tasks: &memoryRecoveryTasks{}, recorder: rec, clock: ledgerNow}
	f.recoverer = NewRecoverer(f.tasks, l, registry, cfg, rec, nil)
	f.recoverer.now = func() time.Time { return f.clock }
	return f
}

func TestRecoverer_ReplaysWebhookUpdate(t *testing.T) {
	f := newRecoveryFixture(t, RecoveryConfig{})
	ctx := context.Background()
	createPending(t, f.ledger, "PST-1-rw", 10000)

	payload := []byte(`{"event":"charge.success","data":{"reference":"PST-1-rw"}}`)
	require.NoError(t, f.tasks.Create(ctx, domain.NewRecoveryTask(domain.RecoveryWebhookUpdate, domain.GatewayPaystack, "PST-1-rw", domain.StatusCompleted, payload, errors.New("db down"), ledgerNow)))

	pass, err := f.recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryPass{Resolved: 1}, pass)

	tx, err := f.ledger.FindByReference(ctx, "PST-1-rw")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)

	tasks := f.tasks.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.RecoveryResolved, tasks[0].State)
	assert.NotNil(t, tasks[0].ResolvedAt)
	assert.Equal(t, float64(1), f.recorder.gauges[string(domain.RecoveryResolved)])
	assert.Equal(t, float64(0), f.recorder.gauges[string(domain.RecoveryPending)])

	// Resolved tasks are not picked up again.
	pass, err = f.recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryPass{}, pass)
}

func TestRecoverer_ReplaysWebhookWithoutPaymentReference(t *testing.T) {
	monnify, err := provider.NewMonnify(provider.MonnifyConfig{APIKey: "k", SecretKey: "s", ContractCode: "c"}, nil, provider.Options{})
	require.NoError(t, err)
	registry, err := NewRegistry(monnify)
	require.NoError(t, err)
	l, _, rec := newTestLedger()
	tasks := &memoryRecoveryTasks{}
	recoverer := NewRecoverer(tasks, l, registry, RecoveryConfig{}, rec, nil)
	recoverer.now = func() time.Time { return ledgerNow }

	ctx := context.Background()
	_, err = l.CreateTransaction(ctx, domain.GatewayMonnify,
		&provider.InitializeRequest{Reference: "MNF-1-rw", Amount: 10000, Currency: "NGN", Email: "buyer@example.com"},
		&provider.InitializeResult{Reference: "MNF-1-rw", AccessCode: "MNFY|rw"},
		Owner{},
	)
	require.NoError(t, err)
	_, err = l.UpdateTransactionStatus(ctx, "MNF-1-rw", domain.StatusUpdate{Status: domain.StatusCompleted})
	require.NoError(t, err)

	payload := []byte(`{"eventType":"SUCCESSFUL_REFUND","eventData":{"transactionReference":"MNFY|rw","refundReference":"RF-rw"}}`)
	require.NoError(t, tasks.Create(ctx, domain.NewRecoveryTask(domain.RecoveryWebhookUpdate, domain.GatewayMonnify, "MNF-1-rw", domain.StatusRefunded, payload, errors.New("db down"), ledgerNow)))

	pass, err := recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryPass{Resolved: 1}, pass)

	tx, err := l.FindByReference(ctx, "MNF-1-rw")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, tx.Status)
	assert.Equal(t, domain.Amount(10000), tx.RefundedAmount)
}

func TestRecoverer_SupersededWebhookResolves(t *testing.T) {
	f := newRecoveryFixture(t, RecoveryConfig{})
	ctx := context.Background()
	createPending(t, f.ledger, "PST-1-sup", 10000)
	_, err := f.ledger.UpdateTransactionStatus(ctx, "PST-1-sup", domain.StatusUpdate{Status: domain.StatusCompleted})
	require.NoError(t, err)

	payload := []byte(`{"event":"charge.failed","data":{"reference":"PST-1-sup"}}`)
	require.NoError(t, f.tasks.Create(ctx, domain.NewRecoveryTask(domain.RecoveryWebhookUpdate, domain.GatewayPaystack, "PST-1-sup", domain.StatusFailed, payload, errors.New("db down"), ledgerNow)))

	pass, err := f.recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Resolved)

	tx, err := f.ledger.FindByReference(ctx, "PST-1-sup")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
}

func TestRecoverer_BacksOffThenDies(t *testing.T) {
	f := newRecoveryFixture(t, RecoveryConfig{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: 10 * time.Minute})
	ctx := context.Background()
	createPending(t, f.ledger, "PST-1-dead", 10000)
	f.repo.updateErr = errors.New("still down")

	payload := []byte(`{"event":"charge.success","data":{"reference":"PST-1-dead"}}`)
	require.NoError(t, f.tasks.Create(ctx, domain.NewRecoveryTask(domain.RecoveryWebhookUpdate, domain.GatewayPaystack, "PST-1-dead", domain.StatusCompleted, payload, errors.New("db down"), ledgerNow)))

	pass, err := f.recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryPass{Retried: 1}, pass)
	task := f.tasks.all()[0]
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, ledgerNow.Add(time.Minute), task.NextRunAt)
	assert.Equal(t, "still down", task.LastError)

	// Not due yet.
	pass, err = f.recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryPass{}, pass)

	f.clock = f.clock.Add(time.Minute)
	pass, err = f.recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryPass{Retried: 1}, pass)
	assert.Equal(t, f.clock.Add(2*time.Minute), f.tasks.all()[0].NextRunAt)

	f.clock = f.clock.Add(2 * time.Minute)
	pass, err = f.recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryPass{Dead: 1}, pass)
	assert.Equal(t, domain.RecoveryDead, f.tasks.all()[0].State)
	assert.Equal(t, float64(1), f.recorder.gauges[string(domain.RecoveryDead)])
}

func TestRecoverer_LedgerCreateDuplicateResolves(t *testing.T) {
	f := newRecoveryFixture(t, RecoveryConfig{})
	ctx := context.Background()
	createPending(t, f.ledger, "PST-1-exists", 10000)

	req := &provider.InitializeRequest{Reference: "PST-1-exists", Amount: 10000, Currency: "NGN", Email: "a@example.com"}
	res := &provider.InitializeResult{Reference: "PST-1-exists"}
	require.NoError(t, f.recoverer.EnqueueLedgerCreate(ctx, domain.GatewayPaystack, req, res, Owner{}, errors.New("timeout")))

	pass, err := f.recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Resolved)
}

func TestRecoverer_RefundAlreadyRecordedResolves(t *testing.T) {
	f := newRecoveryFixture(t, RecoveryConfig{})
	ctx := context.Background()
	createPending(t, f.ledger, "PST-1-rr", 10000)
	_, err := f.ledger.UpdateTransactionStatus(ctx, "PST-1-rr", domain.StatusUpdate{Status: domain.StatusCompleted})
	require.NoError(t, err)
	_, err = f.ledger.RecordRefund(ctx, "PST-1-rr", 10000, "RF-1", "")
	require.NoError(t, err)

	require.NoError(t, f.recoverer.EnqueueRefundRecord(ctx, domain.GatewayPaystack, "PST-1-rr", 10000, "RF-1", "", errors.New("timeout")))
	pass, err := f.recoverer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Resolved)

	tx, err := f.ledger.FindByReference(ctx, "PST-1-rr")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(10000), tx.RefundedAmount)
}

func TestRecoverer_RunStopsOnCancel(t *testing.T) {
	f := newRecoveryFixture(t, RecoveryConfig{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.recoverer.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("recovery worker did not stop")
	}
}
