package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/paygate/internal/module/payment/domain"
)

type monnifyFake struct {
	logins   atomic.Int32
	lastBody map[string]any
	handler  func(w http.ResponseWriter, r *http.Request)
}

func newMonnifyServer(t *testing.T, fake *monnifyFake) *Monnify {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/login" {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "MK_TEST", user)
			assert.Equal(t, "SECRET", pass)
			fake.logins.Add(1)
			_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseMessage":"success","responseCode":"0","responseBody":{"accessToken":"tok-1","expiresIn":3600}}`))
			return
		}
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			if len(body) > 0 {
				fake.lastBody = map[string]any{}
				require.NoError(t, json.Unmarshal(body, &fake.lastBody))
			}
		}
		fake.handler(w, r)
	}))
	t.Cleanup(srv.Close)

	m, err := NewMonnify(MonnifyConfig{
		APIKey:       "MK_TEST",
		SecretKey:    "SECRET",
		ContractCode: "1234567",
		BaseURL:      srv.URL,
	}, nil, fastOptions())
	require.NoError(t, err)
	return m
}

func TestNewMonnify_MissingCredentials(t *testing.T) {
	_, err := NewMonnify(MonnifyConfig{APIKey: "k", SecretKey: "s"}, nil, Options{})
	assert.True(t, errors.Is(err, domain.ErrMissingCredentials))
}

func TestMonnify_InitializePayment(t *testing.T) {
	fake := &monnifyFake{handler: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/merchant/transactions/init-transaction", r.URL.Path)
		_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseMessage":"success","responseCode":"0","responseBody":{"transactionReference":"MNFY|1","paymentReference":"MNF-1-abc","checkoutUrl":"https://sandbox.monnify.com/checkout/MNFY|1"}}`))
	}}
	m := newMonnifyServer(t, fake)

	res, err := m.InitializePayment(context.Background(), &InitializeRequest{
		Reference: "MNF-1-abc",
		Amount:    domain.Amount(10050),
		Currency:  "NGN",
		Email:     "test@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "MNF-1-abc", res.Reference)
	assert.Equal(t, "MNFY|1", res.AccessCode)
	assert.Equal(t, 100.5, fake.lastBody["amount"], "amount must be sent in major units")
	assert.Equal(t, "1234567", fake.lastBody["contractCode"])
}

func TestMonnify_TokenIsCached(t *testing.T) {
	fake := &monnifyFake{handler: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseMessage":"success","responseCode":"0","responseBody":{"paymentReference":"MNF-1-a","paymentStatus":"PENDING","amountPaid":0,"currencyCode":"NGN"}}`))
	}}
	m := newMonnifyServer(t, fake)

	for i := 0; i < 3; i++ {
		_, err := m.VerifyPayment(context.Background(), "MNF-1-a")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fake.logins.Load())
}

func TestMonnify_VerifyPayment(t *testing.T) {
	fake := &monnifyFake{handler: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/merchant/transactions/query", r.URL.Path)
		assert.Equal(t, "MNF-1-a", r.URL.Query().Get("paymentReference"))
		_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseMessage":"success","responseCode":"0","responseBody":{"transactionReference":"MNFY|1","paymentReference":"MNF-1-a","amountPaid":"10000.00","paymentStatus":"PAID","currencyCode":"NGN","paidOn":"2026-03-01 10:00:00"}}`))
	}}
	m := newMonnifyServer(t, fake)

	res, err := m.VerifyPayment(context.Background(), "MNF-1-a")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, domain.Amount(1000000), res.Amount)
	require.NotNil(t, res.PaidAt)
}

func TestMonnify_RefundPayment(t *testing.T) {
	fake := &monnifyFake{}
	fake.handler = func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/merchant/transactions/query":
			_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseMessage":"success","responseCode":"0","responseBody":{"transactionReference":"MNFY|1","paymentReference":"MNF-1-a","amountPaid":100,"paymentStatus":"PAID","currencyCode":"NGN"}}`))
		case "/api/v1/refunds/initiate-refund":
			assert.Equal(t, "MNFY|1", fake.lastBody["transactionReference"])
			assert.Equal(t, float64(100), fake.lastBody["refundAmount"])
			_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseMessage":"success","responseCode":"0","responseBody":{"refundReference":"MNF-1-a-RF-1","refundAmount":100,"refundStatus":"IN_PROGRESS"}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}
	m := newMonnifyServer(t, fake)

	res, err := m.RefundPayment(context.Background(), &RefundRequest{Reference: "MNF-1-a", Currency: "NGN"})
	require.NoError(t, err)
	assert.Equal(t, "MNF-1-a-RF-1", res.RefundReference)
	assert.Equal(t, domain.Amount(10000), res.Amount)
	assert.Equal(t, "IN_PROGRESS", res.Status)
}

func TestMonnify_ProviderMessagePreserved(t *testing.T) {
	fake := &monnifyFake{handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestSuccessful":false,"responseMessage":"Duplicate payment reference","responseCode":"99"}`))
	}}
	m := newMonnifyServer(t, fake)

	_, err := m.InitializePayment(context.Background(), &InitializeRequest{Reference: "MNF-1-a", Amount: 100, Currency: "NGN", Email: "a@b.co"})
	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Duplicate payment reference", pe.PublicMessage())
}

func TestMapMonnifyStatus(t *testing.T) {
	cases := map[string]domain.Status{
		"PAID":      domain.StatusCompleted,
		"FAILED":    domain.StatusFailed,
		"PENDING":   domain.StatusPending,
		"EXPIRED":   domain.StatusFailed,
		"CANCELLED": domain.StatusFailed,
		"OVERPAID":  domain.StatusPending,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapMonnifyStatus(in), in)
	}
}

func TestMonnify_MapWebhookEvent(t *testing.T) {
	m, err := NewMonnify(MonnifyConfig{APIKey: "k", SecretKey: "s", ContractCode: "c"}, nil, Options{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		status  domain.Status
		handled bool
	}{
		{"successful transaction", `{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"paymentReference":"MNF-1-a","paymentStatus":"PAID","amountPaid":"100.00","currency":"NGN"}}`, domain.StatusCompleted, true},
		{"failed transaction", `{"eventType":"FAILED_TRANSACTION","eventData":{"paymentReference":"MNF-1-a","paymentStatus":"FAILED"}}`, domain.StatusFailed, true},
		{"refund completed", `{"eventType":"REFUND_COMPLETED","eventData":{"paymentReference":"MNF-1-a","refundReference":"RF-1","refundAmount":100}}`, domain.StatusRefunded, true},
		{"short event shape", `{"event":"SUCCESSFUL_TRANSACTION","data":{"paymentReference":"MNF-1-a","paymentStatus":"PAID","amountPaid":100}}`, domain.StatusCompleted, true},
		{"unknown event", `{"eventType":"SETTLEMENT","eventData":{"paymentReference":"MNF-1-a"}}`, domain.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := m.MapWebhookEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.status, ev.Status)
			assert.Equal(t, tt.handled, ev.Handled)
			assert.Equal(t, "MNF-1-a", ev.Reference)
		})
	}

	t.Run("amount converted to minor units", func(t *testing.T) {
		ev, err := m.MapWebhookEvent([]byte(tests[0].payload))
		require.NoError(t, err)
		assert.Equal(t, domain.Amount(10000), ev.Amount)
	})

	t.Run("refund without payment reference", func(t *testing.T) {
		ev, err := m.MapWebhookEvent([]byte(`{"eventType":"SUCCESSFUL_REFUND","eventData":{"transactionReference":"MNFY|20250301|000123","refundReference":"RF-2","refundAmount":"40.00","currencyCode":"NGN"}}`))
		require.NoError(t, err)
		assert.Empty(t, ev.Reference)
		assert.Equal(t, "MNFY|20250301|000123", ev.ProviderReference)
		assert.Equal(t, domain.StatusRefunded, ev.Status)
		assert.Equal(t, domain.Amount(4000), ev.Amount)
	})

	t.Run("no reference at all", func(t *testing.T) {
		_, err := m.MapWebhookEvent([]byte(`{"eventType":"SUCCESSFUL_REFUND","eventData":{"refundReference":"RF-2"}}`))
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	t.Run("missing data", func(t *testing.T) {
		_, err := m.MapWebhookEvent([]byte(`{"eventType":"SUCCESSFUL_TRANSACTION"}`))
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})
}
