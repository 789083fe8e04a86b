package immudb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	immustore "github.com/codenotary/immudb/embedded/store"
	"github.com/codenotary/immudb/pkg/client"
	immuerrors "github.com/codenotary/immudb/pkg/client/errors"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// Store implements databases.Store on immudb SQL tables. Compare-and-swap
// runs inside an interactive transaction: the row is read, compared and
// upserted, and immudb's MVCC validation rejects the commit when a
// concurrent writer touched the row in between.
type Store struct {
	client            client.ImmuClient
	options           *client.Options
	dbName            string
	accountsTable     string
	transactionsTable string
	connected         bool

	// a session runs one read-write transaction at a time
	txMu sync.Mutex
}

// Factory creates immudb stores
type Factory struct{}

// NewFactory creates a new factory for immudb
func NewFactory() *Factory {
	return &Factory{}
}

// CreateStore creates a new immudb store. Connection happens in Initialize.
func (f *Factory) CreateStore(config map[string]interface{}) (databases.Store, error) {
	options := client.DefaultOptions().
		WithAddress(databases.Param(config, "address", "127.0.0.1")).
		WithPort(databases.Param(config, "port", 3322)).
		WithUsername(databases.Param(config, "username", "immudb")).
		WithPassword(databases.Param(config, "password", "immudb")).
		WithDatabase(databases.Param(config, "database", "defaultdb"))

	return &Store{
		options:           options,
		dbName:            options.Database,
		accountsTable:     databases.Param(config, "accountsTable", "ledger_accounts"),
		transactionsTable: databases.Param(config, "transactionsTable", "ledger_transactions"),
	}, nil
}

// Initialize opens a session on the configured database.
func (s *Store) Initialize(ctx context.Context) error {
	if s.connected {
		return nil
	}

	c := client.NewClient().WithOptions(s.options)
	err := c.OpenSession(ctx, []byte(s.options.Username), []byte(s.options.Password), s.dbName)
	if err != nil {
		return fmt.Errorf("failed to connect to immudb: %w", err)
	}
	s.client = c
	s.connected = true
	return nil
}

// Close closes the immudb session
func (s *Store) Close() error {
	if !s.connected || s.client == nil {
		return nil
	}
	if err := s.client.CloseSession(context.Background()); err != nil {
		return err
	}
	s.connected = false
	return nil
}

// Accounts returns the account repository.
func (s *Store) Accounts() ledger.AccountRepository {
	return &AccountRepository{store: s, table: s.accountsTable}
}

// Transactions returns the transaction repository.
func (s *Store) Transactions() ledger.TransactionRepository {
	return &TransactionRepository{store: s, table: s.transactionsTable}
}

// CreateSchema creates both tables if they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	for _, stmt := range tableSchema(s.accountsTable, s.transactionsTable) {
		if _, err := s.client.SQLExec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func tableSchema(accounts, transactions string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"client_id INTEGER NOT NULL, "+
			"available VARCHAR[32] NOT NULL, "+
			"held VARCHAR[32] NOT NULL, "+
			"locked BOOLEAN NOT NULL, "+
			"version INTEGER NOT NULL, "+
			"PRIMARY KEY client_id"+
			")", accounts),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"tx_id INTEGER NOT NULL, "+
			"client_id INTEGER NOT NULL, "+
			"kind VARCHAR[16] NOT NULL, "+
			"amount VARCHAR[32] NOT NULL, "+
			"status VARCHAR[16] NOT NULL, "+
			"dispute VARCHAR[16] NOT NULL, "+
			"version INTEGER NOT NULL, "+
			"PRIMARY KEY tx_id"+
			")", transactions),
	}
}

func (s *Store) session(ctx context.Context) (client.ImmuClient, error) {
	if !s.connected {
		if err := s.Initialize(ctx); err != nil {
			return nil, err
		}
	}
	return s.client, nil
}

// errMismatch aborts a transaction whose stored row differs from the
// expected one.
var errMismatch = errors.New("stored value does not match")

// compareAndSwap runs read, compare and write in one interactive
// transaction. match receives the current row values, nil if none.
func (s *Store) compareAndSwap(ctx context.Context, query string, params map[string]interface{}, match func(row []interface{}) bool, write string, writeParams map[string]interface{}) error {
	c, err := s.session(ctx)
	if err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, err := c.NewTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	err = func() error {
		res, err := tx.SQLQuery(ctx, query, params)
		if err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}
		var row []interface{}
		if len(res.Rows) > 0 {
			row = values(res.Rows[0].Values)
		}
		if !match(row) {
			return errMismatch
		}
		if err := tx.SQLExec(ctx, write, writeParams); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	}()
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, errMismatch) {
			return ledger.ErrCASConflict
		}
		return err
	}

	if _, err := tx.Commit(ctx); err != nil {
		if isConflict(err) {
			return ledger.ErrCASConflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isConflict reports whether a commit failed MVCC validation. The server
// sends a bare "tx read conflict" with code 25P02, but a wrapped one such as
// "tx read conflict: fetching a different key or an updated one" loses the
// code on the way and keeps only its message prefix.
func isConflict(err error) bool {
	if errors.Is(err, immustore.ErrTxReadConflict) {
		return true
	}
	if ie := immuerrors.FromError(err); ie != nil && ie.Code() == immuerrors.CodInFailedSqlTransaction {
		return true
	}
	return strings.Contains(err.Error(), immustore.ErrTxReadConflict.Error())
}
