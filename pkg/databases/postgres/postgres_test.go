package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases/storetest"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rowsAffected int64

func (rowsAffected) LastInsertId() (int64, error) { return 0, errors.New("unsupported") }
func (n rowsAffected) RowsAffected() (int64, error) { return int64(n), nil }

func TestCASResult(t *testing.T) {
	assert.NoError(t, casResult(rowsAffected(1), nil))
	assert.ErrorIs(t, casResult(rowsAffected(0), nil), ledger.ErrCASConflict)

	serialization := &pq.Error{Code: "40001", Message: "could not serialize access"}
	assert.ErrorIs(t, casResult(nil, serialization), ledger.ErrCASConflict)

	unique := &pq.Error{Code: "23505", Message: "duplicate key"}
	err := casResult(nil, unique)
	assert.NotErrorIs(t, err, ledger.ErrCASConflict)
	assert.ErrorContains(t, err, "conditional write failed")
}

func TestSchemaQuotesTableNames(t *testing.T) {
	s := New(nil, "ledger accounts", `tx"s`)
	stmts := schema(s.accounts.table, s.txs.table)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], `CREATE TABLE IF NOT EXISTS "ledger accounts" (`))
	assert.True(t, strings.HasPrefix(stmts[1], `CREATE TABLE IF NOT EXISTS "tx""s" (`))
}

func TestFactoryRequiresDSN(t *testing.T) {
	_, err := NewFactory().CreateStore(map[string]interface{}{})
	assert.EqualError(t, err, "postgres store requires a dsn")
}

// runContract runs the store contract suite against the server at dsn.
func runContract(t *testing.T, dsn string) {
	t.Helper()
	storetest.Run(t, func(t *testing.T) databases.Store {
		db, err := sql.Open("postgres", dsn)
		require.NoError(t, err)
		store := New(db, "test_ledger_accounts", "test_ledger_transactions")
		t.Cleanup(func() { store.Close() })
		require.NoError(t, store.CreateSchema(context.Background()))
		require.NoError(t, store.Initialize(context.Background()))
		return store
	})
}

// TestStoreAgainstPostgres runs against a live server when
// LEDGER_TEST_POSTGRES_DSN is set. Build with -tags integration to run the
// same suite against a disposable container instead.
func TestStoreAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	runContract(t, dsn)
}
