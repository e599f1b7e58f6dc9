package payment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
)

// memoryTransactions is an in-memory TransactionRepository. A single mutex
// stands in for the row lock of the gorm implementation.
type memoryTransactions struct {
	mu        sync.Mutex
	byRef     map[string]*domain.Transaction
	createErr error
	updateErr error
}

func newMemoryTransactions() *memoryTransactions {
	return &memoryTransactions{byRef: make(map[string]*domain.Transaction)}
}

func (m *memoryTransactions) Create(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byRef[tx.Reference]; ok {
		return domain.ErrDuplicateReference
	}
	m.byRef[tx.Reference] = tx.Clone()
	return nil
}

func (m *memoryTransactions) FindByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byRef[reference]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return tx.Clone(), nil
}

func (m *memoryTransactions) FindByProviderReference(_ context.Context, gateway domain.Gateway, providerReference string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.byRef {
		if tx.Gateway == gateway && tx.AccessCode == providerReference {
			return tx.Clone(), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *memoryTransactions) UpdateByReference(_ context.Context, reference string, fn func(tx *domain.Transaction) (bool, error)) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	stored, ok := m.byRef[reference]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	tx := stored.Clone()
	changed, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if changed {
		m.byRef[reference] = tx.Clone()
	}
	return tx, nil
}

func (m *memoryTransactions) List(_ context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range m.byRef {
		if filter.Gateway != nil && tx.Gateway != *filter.Gateway {
			continue
		}
		if filter.Status != nil && tx.Status != *filter.Status {
			continue
		}
		if filter.UserID != nil && (tx.UserID == nil || *tx.UserID != *filter.UserID) {
			continue
		}
		if filter.VendorID != nil && (tx.VendorID == nil || *tx.VendorID != *filter.VendorID) {
			continue
		}
		if filter.Reconciled != nil && tx.Reconciled != *filter.Reconciled {
			continue
		}
		out = append(out, tx.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memoryTransactions) Stats(_ context.Context, filter domain.StatsFilter) (*domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s domain.Stats
	for _, tx := range m.byRef {
		if filter.VendorID != nil && (tx.VendorID == nil || *tx.VendorID != *filter.VendorID) {
			continue
		}
		if filter.Currency != "" && tx.Currency != filter.Currency {
			continue
		}
		s.Add(tx)
	}
	return &s, nil
}

func (m *memoryTransactions) FindStale(_ context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range m.byRef {
		for _, s := range statuses {
			if tx.Status == s && tx.UpdatedAt.Before(olderThan) {
				out = append(out, tx.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// failUpdates makes every later UpdateByReference fail with err.
func (m *memoryTransactions) failUpdates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

// put stores a transaction directly, bypassing the ledger.
func (m *memoryTransactions) put(tx *domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRef[tx.Reference] = tx.Clone()
}

type memoryRecoveryTasks struct {
	mu    sync.Mutex
	tasks []*domain.RecoveryTask
}

func (m *memoryRecoveryTasks) Create(_ context.Context, task *domain.RecoveryTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *task
	m.tasks = append(m.tasks, &c)
	return nil
}

func (m *memoryRecoveryTasks) FindDue(_ context.Context, now time.Time, limit int) ([]*domain.RecoveryTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RecoveryTask
	for _, t := range m.tasks {
		if t.State == domain.RecoveryPending && !t.NextRunAt.After(now) {
			c := *t
			out = append(out, &c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRecoveryTasks) Save(_ context.Context, task *domain.RecoveryTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tasks {
		if t.ID == task.ID {
			c := *task
			m.tasks[i] = &c
			return nil
		}
	}
	c := *task
	m.tasks = append(m.tasks, &c)
	return nil
}

func (m *memoryRecoveryTasks) CountByState(_ context.Context) (map[domain.RecoveryState]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.RecoveryState]int64)
	for _, t := range m.tasks {
		out[t.State]++
	}
	return out, nil
}

func (m *memoryRecoveryTasks) HasPending(_ context.Context, reference string, kind domain.RecoveryKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Reference == reference && t.Kind == kind && t.State == domain.RecoveryPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRecoveryTasks) all() []*domain.RecoveryTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.RecoveryTask, len(m.tasks))
	copy(out, m.tasks)
	return out
}

type countingRecorder struct {
	mu          sync.Mutex
	transitions []string
	webhooks    []string
	sweeps      []string
	recoveries  []string
	gauges      map[string]float64
}

func (r *countingRecorder) RecordLedgerTransition(gateway, from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *countingRecorder) RecordWebhook(gateway, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks = append(r.webhooks, outcome)
}

func (r *countingRecorder) RecordRecoveryAttempt(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoveries = append(r.recoveries, kind+":"+outcome)
}

func (r *countingRecorder) SetRecoveryTasks(state string, count float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gauges == nil {
		r.gauges = make(map[string]float64)
	}
	r.gauges[state] = count
}

func (r *countingRecorder) RecordSweep(gateway, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, outcome)
}

// stubGateway is a provider.Gateway with scripted answers.
type stubGateway struct {
	id     domain.Gateway
	secret string

	mu       sync.Mutex
	verify   func(reference string) (*provider.VerifyResult, error)
	verified []string
}

func (g *stubGateway) ID() domain.Gateway { return g.id }

func (g *stubGateway) InitializePayment(_ context.Context, req *provider.InitializeRequest) (*provider.InitializeResult, error) {
	return &provider.InitializeResult{
		Reference:        req.Reference,
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		AccessCode:       "code-" + req.Reference,
	}, nil
}

func (g *stubGateway) VerifyPayment(_ context.Context, reference string) (*provider.VerifyResult, error) {
	g.mu.Lock()
	g.verified = append(g.verified, reference)
	g.mu.Unlock()
	if g.verify == nil {
		return &provider.VerifyResult{Reference: reference, Status: domain.StatusPending}, nil
	}
	return g.verify(reference)
}

func (g *stubGateway) RefundPayment(_ context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	return &provider.RefundResult{RefundReference: "RF-" + req.Reference, Status: "processed"}, nil
}

func (g *stubGateway) MapWebhookEvent(payload []byte) (*provider.WebhookEvent, error) {
	return nil, errors.New("not supported")
}

func (g *stubGateway) WebhookSecret() []byte   { return []byte(g.secret) }
func (g *stubGateway) SignatureHeader() string { return "x-stub-signature" }
