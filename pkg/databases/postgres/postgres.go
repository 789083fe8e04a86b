// Package postgres stores the ledger in PostgreSQL. Compare-and-swap is a
// conditional UPDATE (or an INSERT ... ON CONFLICT DO NOTHING for a new
// key) whose affected row count tells whether the expected value matched.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// Store is an implementation of the databases.Store interface for PostgreSQL
type Store struct {
	db       *sql.DB
	accounts *AccountRepository
	txs      *TransactionRepository
}

// Factory creates PostgreSQL stores
type Factory struct{}

// NewFactory creates a new PostgreSQL factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateStore implements the databases.StoreFactory interface. The "dsn"
// key is required; "accountsTable" and "transactionsTable" override the
// default table names.
func (f *Factory) CreateStore(config map[string]interface{}) (databases.Store, error) {
	dsn := databases.Param(config, "dsn", "")
	if dsn == "" {
		return nil, errors.New("postgres store requires a dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(databases.Param(config, "maxOpenConns", 10))

	return New(db,
		databases.Param(config, "accountsTable", "ledger_accounts"),
		databases.Param(config, "transactionsTable", "ledger_transactions"),
	), nil
}

// New creates a store over an open database handle.
func New(db *sql.DB, accountsTable, transactionsTable string) *Store {
	return &Store{
		db:       db,
		accounts: &AccountRepository{db: db, table: pq.QuoteIdentifier(accountsTable)},
		txs:      &TransactionRepository{db: db, table: pq.QuoteIdentifier(transactionsTable)},
	}
}

// Initialize checks the connection and that both tables are queryable.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	for _, table := range []string{s.accounts.table, s.txs.table} {
		if _, err := s.db.ExecContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1"); err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Accounts returns the account repository.
func (s *Store) Accounts() ledger.AccountRepository { return s.accounts }

// Transactions returns the transaction repository.
func (s *Store) Transactions() ledger.TransactionRepository { return s.txs }

// CreateSchema creates both tables if they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, stmt := range schema(s.accounts.table, s.txs.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func schema(accounts, transactions string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + accounts + ` (
			client_id INTEGER PRIMARY KEY,
			available NUMERIC(24,4) NOT NULL,
			held NUMERIC(24,4) NOT NULL,
			locked BOOLEAN NOT NULL,
			version BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + transactions + ` (
			tx_id BIGINT PRIMARY KEY,
			client_id INTEGER NOT NULL,
			kind VARCHAR(16) NOT NULL,
			amount NUMERIC(24,4) NOT NULL,
			status VARCHAR(16) NOT NULL,
			dispute VARCHAR(16) NOT NULL,
			version BIGINT NOT NULL
		)`,
	}
}

// casResult maps the outcome of a conditional write. Serialization
// failures reported by a stricter isolation level count as conflicts too.
func casResult(res sql.Result, err error) error {
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Class() == "40" {
			return ledger.ErrCASConflict
		}
		return fmt.Errorf("conditional write failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conditional write failed: %w", err)
	}
	if n != 1 {
		return ledger.ErrCASConflict
	}
	return nil
}
