package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/paygate/internal/module/payment/domain"
)

func TestTransactionEntity_Mapping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	vendor := "vendor-1"
	tx, err := domain.NewTransaction(domain.NewTransactionParams{
		Reference:       "PST-1-abc",
		Gateway:         domain.GatewayPaystack,
		Amount:          10000,
		Currency:        "NGN",
		CustomerEmail:   "test@example.com",
		VendorID:        &vendor,
		Metadata:        map[string]any{"order": "o-1"},
		GatewayResponse: json.RawMessage(`{"access_code":"abc"}`),
	}, now)
	require.NoError(t, err)

	ent := FromDomainTransaction(tx)
	assert.Equal(t, "payment_transactions", ent.TableName())
	assert.Equal(t, "PENDING", ent.Status)
	assert.Equal(t, int64(10000), ent.Amount)

	back := ent.ToDomain()
	assert.Equal(t, tx.Reference, back.Reference)
	assert.Equal(t, tx.Gateway, back.Gateway)
	assert.Equal(t, tx.Amount, back.Amount)
	assert.Equal(t, "vendor-1", *back.VendorID)
	assert.Equal(t, "o-1", back.Metadata["order"])
	assert.JSONEq(t, `{"access_code":"abc"}`, string(back.GatewayResponse))
}

func TestTransactionEntity_DropsInvalidGatewayResponse(t *testing.T) {
	ent := FromDomainTransaction(&domain.Transaction{GatewayResponse: json.RawMessage(`not json`)})
	assert.Nil(t, ent.GatewayResponse)
}

func TestRecoveryTaskEntity_Mapping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := domain.NewRecoveryTask(domain.RecoveryWebhookUpdate, domain.GatewayMonnify, "MNF-1-a", domain.StatusCompleted, json.RawMessage(`{"eventType":"SUCCESSFUL_TRANSACTION"}`), nil, now)

	back := FromDomainRecoveryTask(task).ToDomain()
	assert.Equal(t, task.ID, back.ID)
	assert.Equal(t, domain.RecoveryWebhookUpdate, back.Kind)
	assert.Equal(t, domain.RecoveryPending, back.State)
	assert.Equal(t, now, back.NextRunAt)
	assert.JSONEq(t, `{"eventType":"SUCCESSFUL_TRANSACTION"}`, string(back.Payload))
}
