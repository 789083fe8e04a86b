package metrics

import (
	"context"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// InstrumentAccounts wraps repo so that every call is measured by c.
func InstrumentAccounts(repo ledger.AccountRepository, c *Collector) ledger.AccountRepository {
	return &accounts{repo: repo, c: c}
}

// InstrumentTransactions wraps repo so that every call is measured by c.
func InstrumentTransactions(repo ledger.TransactionRepository, c *Collector) ledger.TransactionRepository {
	return &transactions{repo: repo, c: c}
}

type accounts struct {
	repo ledger.AccountRepository
	c    *Collector
}

func (a *accounts) Get(ctx context.Context, client ledger.ClientID) (acc *ledger.Account, err error) {
	err = a.c.MeasureOperation(ReadOperation, func() error {
		acc, err = a.repo.Get(ctx, client)
		return err
	})
	return acc, err
}

func (a *accounts) CompareAndSwap(ctx context.Context, client ledger.ClientID, expected *ledger.Account, next ledger.Account) error {
	return a.c.MeasureOperation(CASOperation, func() error {
		return a.repo.CompareAndSwap(ctx, client, expected, next)
	})
}

func (a *accounts) List(ctx context.Context) (list []ledger.Account, err error) {
	err = a.c.MeasureOperation(ListOperation, func() error {
		list, err = a.repo.List(ctx)
		return err
	})
	return list, err
}

type transactions struct {
	repo ledger.TransactionRepository
	c    *Collector
}

func (t *transactions) Get(ctx context.Context, id ledger.TxID) (rec *ledger.TransactionRecord, err error) {
	err = t.c.MeasureOperation(ReadOperation, func() error {
		rec, err = t.repo.Get(ctx, id)
		return err
	})
	return rec, err
}

func (t *transactions) GetByDepositID(ctx context.Context, id ledger.TxID) (rec *ledger.TransactionRecord, err error) {
	err = t.c.MeasureOperation(ReadOperation, func() error {
		rec, err = t.repo.GetByDepositID(ctx, id)
		return err
	})
	return rec, err
}

func (t *transactions) CompareAndSwap(ctx context.Context, id ledger.TxID, expected *ledger.TransactionRecord, next ledger.TransactionRecord) error {
	return t.c.MeasureOperation(CASOperation, func() error {
		return t.repo.CompareAndSwap(ctx, id, expected, next)
	})
}
