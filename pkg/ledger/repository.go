package ledger

import "context"

// AccountRepository is a keyed store of account states.
//
// Implementations must make CompareAndSwap atomic per client id: the write
// succeeds only if the stored value still equals expected (nil meaning the
// account must not exist yet), and fails with ErrCASConflict otherwise
// without mutating anything. No lock is held across calls.
type AccountRepository interface {
	Get(ctx context.Context, client ClientID) (*Account, error)
	CompareAndSwap(ctx context.Context, client ClientID, expected *Account, next Account) error
	List(ctx context.Context) ([]Account, error)
}

// TransactionRepository is a keyed store of Deposit and Withdrawal records,
// with the same CAS discipline as AccountRepository keyed by transaction id.
type TransactionRepository interface {
	Get(ctx context.Context, id TxID) (*TransactionRecord, error)
	CompareAndSwap(ctx context.Context, id TxID, expected *TransactionRecord, next TransactionRecord) error
	// GetByDepositID returns the record with this id only if it is a Deposit.
	GetByDepositID(ctx context.Context, id TxID) (*TransactionRecord, error)
}
