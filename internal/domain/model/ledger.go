package model

import "time"

// Ledger sources.
const (
	SourceRecharge          = "recharge"
	SourceDrawingGeneration = "drawing_generation"
	SourceGenerationRefund  = "generation_refund"
	SourceAdminAdjustment   = "admin_adjustment"
)

// CreditTransaction is one immutable ledger entry.
// BalanceAfter always equals the previous entry's BalanceAfter plus Amount.
type CreditTransaction struct {
	ID           int64
	UserID       int64
	Amount       int64 // positive credit, negative debit
	BalanceAfter int64
	Source       string
	SourceID     *int64
	CreatedAt    time.Time
}

// Reconciliation compares the denormalised balance with the ledger.
type Reconciliation struct {
	UserID          int64
	ProfileBalance  int64
	LedgerSum       int64
	LastBalance     int64 // balance_after of the latest entry, 0 if none
	Entries         int64
	BalanceMatches  bool
	SnapshotMatches bool
}

func (r Reconciliation) OK() bool { return r.BalanceMatches && r.SnapshotMatches }

// LedgerPage is one page of a user's ledger, newest first.
type LedgerPage struct {
	Items []*CreditTransaction
	Total int64
}
