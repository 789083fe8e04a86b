package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// AccountRepository implements ledger.AccountRepository on a SQL table.
type AccountRepository struct {
	db    *sql.DB
	table string
}

func (r *AccountRepository) Get(ctx context.Context, client ledger.ClientID) (*ledger.Account, error) {
	query := `SELECT client_id, available, held, locked, version FROM ` + r.table + ` WHERE client_id = $1`
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, int64(client)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", client, err)
	}
	return &a, nil
}

func (r *AccountRepository) CompareAndSwap(ctx context.Context, client ledger.ClientID, expected *ledger.Account, next ledger.Account) error {
	if expected == nil {
		query := `
			INSERT INTO ` + r.table + ` (client_id, available, held, locked, version)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (client_id) DO NOTHING`
		return casResult(r.db.ExecContext(ctx, query,
			int64(client), next.Available, next.Held, next.Locked, int64(next.Version)))
	}

	query := `
		UPDATE ` + r.table + `
		SET available = $2, held = $3, locked = $4, version = $5
		WHERE client_id = $1 AND available = $6 AND held = $7 AND locked = $8 AND version = $9`
	return casResult(r.db.ExecContext(ctx, query,
		int64(client), next.Available, next.Held, next.Locked, int64(next.Version),
		expected.Available, expected.Held, expected.Locked, int64(expected.Version)))
}

func (r *AccountRepository) List(ctx context.Context) ([]ledger.Account, error) {
	query := `SELECT client_id, available, held, locked, version FROM ` + r.table + ` ORDER BY client_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// TransactionRepository implements ledger.TransactionRepository on a SQL table.
type TransactionRepository struct {
	db    *sql.DB
	table string
}

func (r *TransactionRepository) Get(ctx context.Context, id ledger.TxID) (*ledger.TransactionRecord, error) {
	return r.get(ctx, `WHERE tx_id = $1`, id)
}

func (r *TransactionRepository) GetByDepositID(ctx context.Context, id ledger.TxID) (*ledger.TransactionRecord, error) {
	return r.get(ctx, `WHERE tx_id = $1 AND kind = 'deposit'`, id)
}

func (r *TransactionRepository) get(ctx context.Context, where string, id ledger.TxID) (*ledger.TransactionRecord, error) {
	query := `SELECT tx_id, client_id, kind, amount, status, dispute, version FROM ` + r.table + ` ` + where
	var (
		rec             ledger.TransactionRecord
		txID, client    int64
		kind            string
		status, dispute string
		version         int64
	)
	err := r.db.QueryRowContext(ctx, query, int64(id)).
		Scan(&txID, &client, &kind, &rec.Amount, &status, &dispute, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %d: %w", id, err)
	}
	if rec.Kind, err = ledger.ParseKind(kind); err != nil {
		return nil, fmt.Errorf("transaction %d: %w", id, err)
	}
	rec.ID = ledger.TxID(txID)
	rec.Client = ledger.ClientID(client)
	rec.Status = ledger.Status(status)
	rec.Dispute = ledger.DisputeState(dispute)
	rec.Version = uint64(version)
	return &rec, nil
}

func (r *TransactionRepository) CompareAndSwap(ctx context.Context, id ledger.TxID, expected *ledger.TransactionRecord, next ledger.TransactionRecord) error {
	if expected == nil {
		query := `
			INSERT INTO ` + r.table + ` (tx_id, client_id, kind, amount, status, dispute, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tx_id) DO NOTHING`
		return casResult(r.db.ExecContext(ctx, query,
			int64(id), int64(next.Client), string(next.Kind), next.Amount,
			string(next.Status), string(next.Dispute), int64(next.Version)))
	}

	query := `
		UPDATE ` + r.table + `
		SET client_id = $2, kind = $3, amount = $4, status = $5, dispute = $6, version = $7
		WHERE tx_id = $1 AND client_id = $8 AND kind = $9 AND amount = $10
			AND status = $11 AND dispute = $12 AND version = $13`
	return casResult(r.db.ExecContext(ctx, query,
		int64(id), int64(next.Client), string(next.Kind), next.Amount,
		string(next.Status), string(next.Dispute), int64(next.Version),
		int64(expected.Client), string(expected.Kind), expected.Amount,
		string(expected.Status), string(expected.Dispute), int64(expected.Version)))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		a       ledger.Account
		client  int64
		version int64
	)
	if err := row.Scan(&client, &a.Available, &a.Held, &a.Locked, &version); err != nil {
		return ledger.Account{}, err
	}
	a.Client = ledger.ClientID(client)
	a.Version = uint64(version)
	return a, nil
}
