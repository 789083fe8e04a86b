// Package memory is an in-process Store backed by striped maps.
//
// Every key maps to one of a fixed number of shards, each guarded by its
// own mutex, so compare-and-swap on different clients rarely contends.
// A lock is held only for the duration of a single repository call.
package memory

import (
	"context"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// Store keeps accounts and transaction records in memory.
type Store struct {
	accounts *AccountRepository
	txs      *TransactionRepository
}

// Factory creates memory stores
type Factory struct{}

// NewFactory creates a new memory store factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateStore implements the databases.StoreFactory interface. The
// configuration is ignored.
func (f *Factory) CreateStore(config map[string]interface{}) (databases.Store, error) {
	return New(), nil
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: &AccountRepository{items: newStriped[ledger.ClientID, ledger.Account]()},
		txs:      &TransactionRepository{items: newStriped[ledger.TxID, ledger.TransactionRecord]()},
	}
}

// Initialize is a no-op; a memory store is usable once created.
func (s *Store) Initialize(ctx context.Context) error { return nil }

// Close is a no-op. The contents are dropped with the store.
func (s *Store) Close() error { return nil }

// Accounts returns the account repository.
func (s *Store) Accounts() ledger.AccountRepository { return s.accounts }

// Transactions returns the transaction repository.
func (s *Store) Transactions() ledger.TransactionRepository { return s.txs }

// AccountRepository is the in-memory ledger.AccountRepository.
type AccountRepository struct {
	items *striped[ledger.ClientID, ledger.Account]
}

// Get returns the account of client, or nil when none exists.
func (r *AccountRepository) Get(ctx context.Context, client ledger.ClientID) (*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.items.get(client), nil
}

// CompareAndSwap stores next for client if the current account equals
// expected, where a nil expected means no account exists yet. It returns
// ledger.ErrCASConflict and changes nothing otherwise.
func (r *AccountRepository) CompareAndSwap(ctx context.Context, client ledger.ClientID, expected *ledger.Account, next ledger.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.items.compareAndSwap(client, expected, next)
}

// List returns every account in no particular order.
func (r *AccountRepository) List(ctx context.Context) ([]ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.items.values(), nil
}

// TransactionRepository is the in-memory ledger.TransactionRepository.
type TransactionRepository struct {
	items *striped[ledger.TxID, ledger.TransactionRecord]
}

// Get returns the record of transaction id, or nil when none exists.
func (r *TransactionRepository) Get(ctx context.Context, id ledger.TxID) (*ledger.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.items.get(id), nil
}

// CompareAndSwap stores next under id if the current record equals expected,
// with the same semantics as AccountRepository.CompareAndSwap.
func (r *TransactionRepository) CompareAndSwap(ctx context.Context, id ledger.TxID, expected *ledger.TransactionRecord, next ledger.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.items.compareAndSwap(id, expected, next)
}

// GetByDepositID returns the record of id only when it is a deposit.
func (r *TransactionRepository) GetByDepositID(ctx context.Context, id ledger.TxID) (*ledger.TransactionRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil || rec == nil || rec.Kind != ledger.KindDeposit {
		return nil, err
	}
	return rec, nil
}
