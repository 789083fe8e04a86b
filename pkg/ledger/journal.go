package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Result is the final outcome of a processed transaction.
type Result string

const (
	ResultApplied  Result = "applied"
	ResultRejected Result = "rejected"
)

// Outcome describes how a single transaction was processed.
type Outcome struct {
	TxID   TxID
	Client ClientID
	Kind   Kind
	Amount decimal.Decimal // zero when unknown, e.g. a dispute of a missing deposit
	Result Result
	Reason string // ReasonCode of the rejection, empty when applied
	At     time.Time
}

// Journal receives the outcome of every transaction the Service processes.
// It is an audit trail only: its failures never fail processing.
type Journal interface {
	Record(ctx context.Context, o Outcome) error
}

// JournalFunc adapts a function to the Journal interface.
type JournalFunc func(ctx context.Context, o Outcome) error

// Record calls f(ctx, o).
func (f JournalFunc) Record(ctx context.Context, o Outcome) error { return f(ctx, o) }
