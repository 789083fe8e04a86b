// Package storetest checks a databases.Store against the compare-and-swap
// contract the ledger service relies on. Every backend runs the same suite,
// so a backend passes only if a mismatched expectation leaves its stored
// state untouched.
package storetest

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises the store returned by open. The suite does not require an
// empty store: ids are drawn from a random range so a persistent server can
// be reused across runs.
func Run(t *testing.T, open func(t *testing.T) databases.Store) {
	ids := &idSource{next: uint32(rand.New(rand.NewSource(time.Now().UnixNano())).Intn(50000)) + 1}

	t.Run("AccountCreate", func(t *testing.T) { accountCreate(t, open(t), ids.client()) })
	t.Run("AccountMismatchLeavesState", func(t *testing.T) { accountMismatch(t, open(t), ids.client()) })
	t.Run("AccountUpdateOfMissing", func(t *testing.T) { accountMissing(t, open(t), ids.client()) })
	t.Run("AccountList", func(t *testing.T) { accountList(t, open(t), ids.client(), ids.client()) })
	t.Run("TransactionCompareAndSwap", func(t *testing.T) { transactionCAS(t, open(t), ids.tx()) })
	t.Run("GetByDepositID", func(t *testing.T) { getByDepositID(t, open(t), ids.client(), ids.tx(), ids.tx()) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { concurrentIncrements(t, open(t), ids.client()) })
	t.Run("Service", func(t *testing.T) { service(t, open(t), ids) })
}

type idSource struct {
	mu   sync.Mutex
	next uint32
}

func (s *idSource) take() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	return id
}

func (s *idSource) client() ledger.ClientID { return ledger.ClientID(s.take()) }

// tx ids live in a range no client id reaches
func (s *idSource) tx() ledger.TxID { return ledger.TxID(s.take()) + 1<<20 }

func account(client ledger.ClientID, available string, version uint64) ledger.Account {
	a := ledger.NewAccount(client)
	a.Available = decimal.RequireFromString(available)
	a.Version = version
	return a
}

func requireAccount(t *testing.T, store databases.Store, want ledger.Account) {
	t.Helper()
	got, err := store.Accounts().Get(context.Background(), want.Client)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "stored %+v, want %+v", *got, want)
}

func accountCreate(t *testing.T, store databases.Store, client ledger.ClientID) {
	ctx := context.Background()
	repo := store.Accounts()

	none, err := repo.Get(ctx, client)
	require.NoError(t, err)
	assert.Nil(t, none)

	first := account(client, "3.1415", 1)
	require.NoError(t, repo.CompareAndSwap(ctx, client, nil, first))
	requireAccount(t, store, first)

	again := account(client, "9", 1)
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, client, nil, again), ledger.ErrCASConflict, "create over existing account")
	requireAccount(t, store, first)
}

func accountMismatch(t *testing.T, store databases.Store, client ledger.ClientID) {
	ctx := context.Background()
	repo := store.Accounts()

	current := account(client, "5", 1)
	current.Held = decimal.RequireFromString("2.5")
	require.NoError(t, repo.CompareAndSwap(ctx, client, nil, current))

	next := current
	next.Available = decimal.Zero
	next.Locked = true
	next.Version = 2

	staleVersion := current
	staleVersion.Version = 7
	staleHeld := current
	staleHeld.Held = decimal.RequireFromString("2.4999")
	staleLock := current
	staleLock.Locked = true

	for name, expected := range map[string]ledger.Account{
		"version": staleVersion,
		"held":    staleHeld,
		"locked":  staleLock,
	} {
		expected := expected
		assert.ErrorIs(t, repo.CompareAndSwap(ctx, client, &expected, next), ledger.ErrCASConflict, name)
		requireAccount(t, store, current)
	}

	require.NoError(t, repo.CompareAndSwap(ctx, client, &current, next))
	requireAccount(t, store, next)
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, client, &current, next), ledger.ErrCASConflict, "replayed swap")
}

func accountMissing(t *testing.T, store databases.Store, client ledger.ClientID) {
	ctx := context.Background()
	repo := store.Accounts()

	expected := ledger.NewAccount(client)
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, client, &expected, account(client, "1", 1)), ledger.ErrCASConflict)

	got, err := repo.Get(ctx, client)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func accountList(t *testing.T, store databases.Store, a, b ledger.ClientID) {
	ctx := context.Background()
	repo := store.Accounts()
	require.NoError(t, repo.CompareAndSwap(ctx, a, nil, account(a, "1", 1)))
	require.NoError(t, repo.CompareAndSwap(ctx, b, nil, account(b, "2", 1)))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	found := map[ledger.ClientID]string{}
	for _, acc := range all {
		if acc.Client == a || acc.Client == b {
			found[acc.Client] = acc.Available.String()
		}
	}
	assert.Equal(t, map[ledger.ClientID]string{a: "1", b: "2"}, found)
}

func transactionCAS(t *testing.T, store databases.Store, id ledger.TxID) {
	ctx := context.Background()
	repo := store.Transactions()

	rec, err := ledger.NewRecord(ledger.NewDeposit(4, id, decimal.RequireFromString("1.2345")))
	require.NoError(t, err)
	require.NoError(t, repo.CompareAndSwap(ctx, id, nil, rec))
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, id, nil, rec), ledger.ErrCASConflict, "duplicate id")

	applied := rec
	applied.Status = ledger.StatusApplied
	applied.Version++
	stale := rec
	stale.Dispute = ledger.Disputed
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, id, &stale, applied), ledger.ErrCASConflict)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, rec.Equal(*got), "stored %+v, want %+v", *got, rec)

	require.NoError(t, repo.CompareAndSwap(ctx, id, &rec, applied))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, applied.Equal(*got), "stored %+v, want %+v", *got, applied)
	assert.Equal(t, "1.2345", got.Amount.String())
}

func getByDepositID(t *testing.T, store databases.Store, client ledger.ClientID, dep, wd ledger.TxID) {
	ctx := context.Background()
	repo := store.Transactions()

	deposit, err := ledger.NewRecord(ledger.NewDeposit(client, dep, decimal.NewFromInt(1)))
	require.NoError(t, err)
	withdrawal, err := ledger.NewRecord(ledger.NewWithdrawal(client, wd, decimal.NewFromInt(1)))
	require.NoError(t, err)
	require.NoError(t, repo.CompareAndSwap(ctx, dep, nil, deposit))
	require.NoError(t, repo.CompareAndSwap(ctx, wd, nil, withdrawal))

	got, err := repo.GetByDepositID(ctx, dep)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, deposit.Equal(*got))

	got, err = repo.GetByDepositID(ctx, wd)
	require.NoError(t, err)
	assert.Nil(t, got, "withdrawal is not a deposit")

	got, err = repo.GetByDepositID(ctx, wd+1<<24)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func concurrentIncrements(t *testing.T, store databases.Store, client ledger.ClientID) {
	ctx := context.Background()
	repo := store.Accounts()

	const workers, increments = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; {
				cur, err := repo.Get(ctx, client)
				if !assert.NoError(t, err) {
					return
				}
				next := ledger.NewAccount(client)
				if cur != nil {
					next = *cur
				}
				next.Available = next.Available.Add(decimal.NewFromInt(1))
				next.Version++
				switch err := repo.CompareAndSwap(ctx, client, cur, next); {
				case err == nil:
					i++
				case !assert.ErrorIs(t, err, ledger.ErrCASConflict):
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, client)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, workers*increments, got.Available.IntPart())
	assert.EqualValues(t, workers*increments, got.Version)
}

func service(t *testing.T, store databases.Store, ids *idSource) {
	ctx := context.Background()
	client := ids.client()
	first, second, third := ids.tx(), ids.tx(), ids.tx()
	svc := ledger.NewService(store.Accounts(), store.Transactions(), nil)

	for _, tx := range []ledger.Transaction{
		ledger.NewDeposit(client, first, decimal.RequireFromString("5.0")),
		ledger.NewDeposit(client, second, decimal.RequireFromString("3.0")),
		ledger.NewWithdrawal(client, third, decimal.RequireFromString("4.0")),
		ledger.NewDispute(client, second),
	} {
		require.NoError(t, svc.Process(ctx, tx))
	}
	assert.ErrorIs(t, svc.Process(ctx, ledger.NewDeposit(client, first, decimal.NewFromInt(1))), ledger.ErrDuplicateTransaction)
	assert.ErrorIs(t, svc.Process(ctx, ledger.NewDispute(client, third)), ledger.ErrInvalidReference)

	got, err := store.Accounts().Get(ctx, client)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1", got.Available.String())
	assert.Equal(t, "3", got.Held.String())
	assert.False(t, got.Locked)

	rec, err := store.Transactions().Get(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.Disputed, rec.Dispute)
	assert.Equal(t, ledger.StatusApplied, rec.Status)
}
