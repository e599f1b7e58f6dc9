package domain

// TransactionFilter narrows ledger listings. Nil fields are ignored.
type TransactionFilter struct {
	Gateway    *Gateway
	Status     *Status
	UserID     *string
	VendorID   *string
	Reconciled *bool
	Limit      int
	Offset     int
}

// StatsFilter scopes an aggregate. Amount totals are only meaningful within a
// single currency, so callers that mix currencies should set Currency.
type StatsFilter struct {
	VendorID *string
	Currency string
}

// Stats aggregates ledger totals. Amounts are in minor units. Reconciled and
// unreconciled counts cover COMPLETED transactions only, so together they equal
// SuccessfulTransactions.
type Stats struct {
	TotalTransactions      int64
	SuccessfulTransactions int64
	FailedTransactions     int64
	PendingTransactions    int64
	TotalAmount            Amount
	TotalRefunded          Amount
	ReconciledCount        int64
	UnreconciledCount      int64
}

// Add folds a single transaction into the aggregate.
func (s *Stats) Add(t *Transaction) {
	s.TotalTransactions++
	switch t.Status {
	case StatusCompleted:
		s.SuccessfulTransactions++
		s.TotalAmount += t.Amount
		if t.Reconciled {
			s.ReconciledCount++
		} else {
			s.UnreconciledCount++
		}
	case StatusFailed:
		s.FailedTransactions++
	case StatusPending:
		s.PendingTransactions++
	case StatusRefunded:
		s.TotalRefunded += t.RefundedAmount
	}
}
