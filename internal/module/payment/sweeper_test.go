package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
)

func TestSweeper_SweepOnce(t *testing.T) {
	paidAt := ledgerNow.Add(-30 * time.Minute)
	gw := &stubGateway{id: domain.GatewayPaystack}
	gw.verify = func(reference string) (*provider.VerifyResult, error) {
		switch reference {
		case "PST-paid":
			return &provider.VerifyResult{Reference: reference, Status: domain.StatusCompleted, Success: true, PaidAt: &paidAt}, nil
		case "PST-declined":
			return &provider.VerifyResult{Reference: reference, Status: domain.StatusFailed, Message: "Declined"}, nil
		case "PST-flaky":
			return nil, &domain.ProviderError{Gateway: domain.GatewayPaystack, Operation: "verify", Err: errors.New("timeout")}
		default:
			return &provider.VerifyResult{Reference: reference, Status: domain.StatusPending}, nil
		}
	}
	registry, err := NewRegistry(gw)
	require.NoError(t, err)

	l, repo, rec := newTestLedger()
	for _, ref := range []string{"PST-paid", "PST-declined", "PST-flaky", "PST-waiting"} {
		tx, err := domain.NewTransaction(domain.NewTransactionParams{
			Reference: ref, Gateway: domain.GatewayPaystack, Amount: 1000, Currency: "NGN", CustomerEmail: "a@example.com",
		}, ledgerNow.Add(-time.Hour))
		require.NoError(t, err)
		repo.put(tx)
	}
	recent, err := domain.NewTransaction(domain.NewTransactionParams{
		Reference: "PST-recent", Gateway: domain.GatewayPaystack, Amount: 1000, Currency: "NGN", CustomerEmail: "a@example.com",
	}, ledgerNow)
	require.NoError(t, err)
	repo.put(recent)

	s := NewSweeper(l, NewOrchestrator(registry, nil), SweeperConfig{StaleAfter: 15 * time.Minute, Concurrency: 2}, rec, nil)
	s.now = func() time.Time { return ledgerNow }

	res, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 4, Updated: 2, Unchanged: 1, Failed: 1}, res)
	assert.NotContains(t, gw.verified, "PST-recent")

	paid, err := l.FindByReference(context.Background(), "PST-paid")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, paid.Status)
	assert.Equal(t, paidAt, *paid.PaidAt)

	declined, err := l.FindByReference(context.Background(), "PST-declined")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, declined.Status)
	assert.Equal(t, "Declined", *declined.FailureReason)
	assert.Len(t, rec.sweeps, 4)
}

func TestSweeper_BatchLimit(t *testing.T) {
	gw := &stubGateway{id: domain.GatewayPaystack}
	registry, err := NewRegistry(gw)
	require.NoError(t, err)
	l, repo, _ := newTestLedger()
	for i := 0; i < 7; i++ {
		tx, err := domain.NewTransaction(domain.NewTransactionParams{
			Reference: fmt.Sprintf("PST-%d", i), Gateway: domain.GatewayPaystack, Amount: 1000, Currency: "NGN", CustomerEmail: "a@example.com",
		}, ledgerNow.Add(-time.Hour))
		require.NoError(t, err)
		repo.put(tx)
	}

	s := NewSweeper(l, NewOrchestrator(registry, nil), SweeperConfig{BatchSize: 5}, nil, nil)
	s.now = func() time.Time { return ledgerNow }
	res, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Checked)
	assert.Equal(t, 5, res.Unchanged)
}
