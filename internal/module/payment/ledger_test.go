package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
)

var ledgerNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger() (*Ledger, *memoryTransactions, *countingRecorder) {
	repo := newMemoryTransactions()
	rec := &countingRecorder{}
	l := NewLedger(repo, rec, nil)
	l.now = func() time.Time { return ledgerNow }
	return l, repo, rec
}

func createPending(t *testing.T, l *Ledger, reference string, amount domain.Amount) *domain.Transaction {
	t.Helper()
	tx, err := l.CreateTransaction(context.Background(), domain.GatewayPaystack,
		&provider.InitializeRequest{Reference: reference, Amount: amount, Currency: "NGN", Email: "buyer@example.com"},
		&provider.InitializeResult{Reference: reference, AuthorizationURL: "https://checkout.example/" + reference},
		Owner{},
	)
	require.NoError(t, err)
	return tx
}

func TestLedger_CreateAndFind(t *testing.T) {
	l, _, rec := newTestLedger()
	ctx := context.Background()

	created := createPending(t, l, "PST-1-abc", 10000)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, "https://checkout.example/PST-1-abc", created.AuthorizationURL)

	found, err := l.FindByReference(ctx, "PST-1-abc")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, []string{"->PENDING"}, rec.transitions)

	_, err = l.FindByReference(ctx, "PST-missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestLedger_CreateDuplicateReference(t *testing.T) {
	l, _, _ := newTestLedger()
	createPending(t, l, "PST-1-dup", 500)

	_, err := l.CreateTransaction(context.Background(), domain.GatewayPaystack,
		&provider.InitializeRequest{Reference: "PST-1-dup", Amount: 500, Currency: "NGN", Email: "buyer@example.com"},
		&provider.InitializeResult{Reference: "PST-1-dup"},
		Owner{},
	)
	assert.ErrorIs(t, err, domain.ErrDuplicateReference)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_UpdateStatus(t *testing.T) {
	l, _, rec := newTestLedger()
	ctx := context.Background()
	createPending(t, l, "PST-1-upd", 10000)

	paidAt := ledgerNow.Add(-time.Minute)
	tx, err := l.UpdateTransactionStatus(ctx, "PST-1-upd", domain.StatusUpdate{
		Status:          domain.StatusCompleted,
		PaidAt:          &paidAt,
		GatewayResponse: []byte(`{"status":"success"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	require.NotNil(t, tx.PaidAt)
	assert.Equal(t, paidAt, *tx.PaidAt)
	assert.Nil(t, tx.FailureReason)

	// Reapplying the same status changes nothing.
	again, err := l.UpdateTransactionStatus(ctx, "PST-1-upd", domain.StatusUpdate{Status: domain.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, paidAt, *again.PaidAt)

	_, err = l.UpdateTransactionStatus(ctx, "PST-1-upd", domain.StatusUpdate{Status: domain.StatusFailed, FailureReason: "late"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, []string{"->PENDING", "PENDING->COMPLETED"}, rec.transitions)
}

func TestLedger_UpdateStatusFailed(t *testing.T) {
	l, _, _ := newTestLedger()
	createPending(t, l, "PST-1-fail", 10000)

	tx, err := l.UpdateTransactionStatus(context.Background(), "PST-1-fail", domain.StatusUpdate{
		Status:        domain.StatusFailed,
		FailureReason: "Declined",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, tx.Status)
	assert.Nil(t, tx.PaidAt)
	require.NotNil(t, tx.FailureReason)
	assert.Equal(t, "Declined", *tx.FailureReason)
}

func TestLedger_RecordRefund(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()
	createPending(t, l, "PST-1-ref", 10000)

	_, err := l.RecordRefund(ctx, "PST-1-ref", 10000, "RF-1", "customer request")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, "cannot refund a payment that is not completed", err.Error())

	_, err = l.UpdateTransactionStatus(ctx, "PST-1-ref", domain.StatusUpdate{Status: domain.StatusCompleted})
	require.NoError(t, err)

	_, err = l.RecordRefund(ctx, "PST-1-ref", 20000, "RF-1", "too much")
	assert.ErrorIs(t, err, domain.ErrValidation)

	tx, err := l.RecordRefund(ctx, "PST-1-ref", 10000, "RF-1", "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, tx.Status)
	assert.Equal(t, domain.Amount(10000), tx.RefundedAmount)
	assert.Equal(t, "RF-1", *tx.RefundReference)

	_, err = l.RecordRefund(ctx, "PST-1-ref", 10000, "RF-2", "again")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	stored, err := l.FindByReference(ctx, "PST-1-ref")
	require.NoError(t, err)
	assert.Equal(t, "RF-1", *stored.RefundReference)
}

func TestLedger_ConfirmRefundIsIdempotent(t *testing.T) {
	l, _, rec := newTestLedger()
	ctx := context.Background()
	createPending(t, l, "PST-1-cr", 7000)
	_, err := l.UpdateTransactionStatus(ctx, "PST-1-cr", domain.StatusUpdate{Status: domain.StatusCompleted})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tx, err := l.ConfirmRefund(ctx, "PST-1-cr", 0, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRefunded, tx.Status)
		assert.Equal(t, domain.Amount(7000), tx.RefundedAmount)
	}
	assert.Equal(t, []string{"->PENDING", "PENDING->COMPLETED", "COMPLETED->REFUNDED"}, rec.transitions)
}

func TestLedger_ConfirmRefundRequiresCompleted(t *testing.T) {
	l, _, _ := newTestLedger()
	createPending(t, l, "PST-1-crp", 7000)

	_, err := l.ConfirmRefund(context.Background(), "PST-1-crp", 7000, "RF-9")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestLedger_Reconcile(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()
	createPending(t, l, "PST-1-rec", 1000)

	_, err := l.ReconcilePayment(ctx, "PST-1-rec", "ops")
	require.Error(t, err)
	assert.Equal(t, "only completed transactions can be reconciled", err.Error())

	_, err = l.UpdateTransactionStatus(ctx, "PST-1-rec", domain.StatusUpdate{Status: domain.StatusCompleted})
	require.NoError(t, err)

	tx, err := l.ReconcilePayment(ctx, "PST-1-rec", "ops")
	require.NoError(t, err)
	assert.True(t, tx.Reconciled)
	assert.Equal(t, "ops", *tx.ReconciledBy)
	assert.Equal(t, ledgerNow, *tx.ReconciledAt)

	_, err = l.ReconcilePayment(ctx, "PST-1-rec", "someone-else")
	require.Error(t, err)
	assert.Equal(t, "transaction already reconciled", err.Error())

	stored, err := l.FindByReference(ctx, "PST-1-rec")
	require.NoError(t, err)
	assert.Equal(t, "ops", *stored.ReconciledBy)
}

func TestLedger_ConcurrentUpdatesTransitionOnce(t *testing.T) {
	l, _, rec := newTestLedger()
	createPending(t, l, "PST-1-race", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.UpdateTransactionStatus(context.Background(), "PST-1-race", domain.StatusUpdate{Status: domain.StatusCompleted})
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"->PENDING", "PENDING->COMPLETED"}, rec.transitions)
}

func TestLedger_Stats(t *testing.T) {
	l, repo, _ := newTestLedger()
	ctx := context.Background()

	seed := func(ref string, amount domain.Amount, mutate func(tx *domain.Transaction)) {
		tx, err := domain.NewTransaction(domain.NewTransactionParams{
			Reference:     ref,
			Gateway:       domain.GatewayPaystack,
			Amount:        amount,
			Currency:      "NGN",
			CustomerEmail: "buyer@example.com",
		}, ledgerNow)
		require.NoError(t, err)
		mutate(tx)
		repo.put(tx)
	}
	seed("PST-1", 10000, func(tx *domain.Transaction) { tx.Status = domain.StatusCompleted; tx.Reconciled = true })
	seed("PST-2", 5000, func(tx *domain.Transaction) { tx.Status = domain.StatusCompleted })
	seed("PST-3", 3000, func(tx *domain.Transaction) { tx.Status = domain.StatusFailed })
	seed("PST-4", 2000, func(tx *domain.Transaction) {})
	seed("PST-5", 1000, func(tx *domain.Transaction) { tx.Status = domain.StatusRefunded; tx.RefundedAmount = 1000 })

	stats, err := l.GetStats(ctx, domain.StatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, &domain.Stats{
		TotalTransactions:      5,
		SuccessfulTransactions: 2,
		FailedTransactions:     1,
		PendingTransactions:    1,
		TotalAmount:            15000,
		TotalRefunded:          1000,
		ReconciledCount:        1,
		UnreconciledCount:      1,
	}, stats)
}

func TestLedger_FindAllFilters(t *testing.T) {
	l, repo, _ := newTestLedger()
	vendor := "vendor-1"
	for i, ref := range []string{"PST-a", "PST-b", "PST-c"} {
		tx, err := domain.NewTransaction(domain.NewTransactionParams{
			Reference:     ref,
			Gateway:       domain.GatewayPaystack,
			Amount:        100,
			Currency:      "NGN",
			CustomerEmail: "buyer@example.com",
		}, ledgerNow.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		if ref != "PST-b" {
			tx.VendorID = &vendor
		}
		repo.put(tx)
	}

	all, err := l.FindAll(context.Background(), domain.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "PST-c", all[0].Reference, "newest first")

	byVendor, err := l.FindAll(context.Background(), domain.TransactionFilter{VendorID: &vendor})
	require.NoError(t, err)
	assert.Len(t, byVendor, 2)
}

func TestLedger_FindStale(t *testing.T) {
	l, repo, _ := newTestLedger()
	old, err := domain.NewTransaction(domain.NewTransactionParams{
		Reference: "PST-old", Gateway: domain.GatewayPaystack, Amount: 100, Currency: "NGN", CustomerEmail: "a@example.com",
	}, ledgerNow.Add(-time.Hour))
	require.NoError(t, err)
	fresh, err := domain.NewTransaction(domain.NewTransactionParams{
		Reference: "PST-new", Gateway: domain.GatewayPaystack, Amount: 100, Currency: "NGN", CustomerEmail: "a@example.com",
	}, ledgerNow)
	require.NoError(t, err)
	done := old.Clone()
	done.Reference = "PST-done"
	done.Status = domain.StatusCompleted
	repo.put(old)
	repo.put(fresh)
	repo.put(done)

	stale, err := l.FindStale(context.Background(), ledgerNow.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "PST-old", stale[0].Reference)
}

func TestLedger_RepositoryFailure(t *testing.T) {
	l, repo, _ := newTestLedger()
	repo.createErr = errors.New("connection refused")

	_, err := l.CreateTransaction(context.Background(), domain.GatewayPaystack,
		&provider.InitializeRequest{Reference: "PST-1-x", Amount: 100, Currency: "NGN", Email: "buyer@example.com"},
		&provider.InitializeResult{Reference: "PST-1-x"},
		Owner{},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
