package immudb

import (
	"context"
	"fmt"

	"github.com/codenotary/immudb/pkg/api/schema"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases/models"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// AccountRepository implements ledger.AccountRepository on an immudb table.
type AccountRepository struct {
	store *Store
	table string
}

func (r *AccountRepository) columns() string {
	return "client_id, available, held, locked, version"
}

func (r *AccountRepository) Get(ctx context.Context, client ledger.ClientID) (*ledger.Account, error) {
	c, err := r.store.session(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE client_id = @client_id", r.columns(), r.table)
	res, err := c.SQLQuery(ctx, query, map[string]interface{}{"client_id": int64(client)}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read account %d: %w", client, err)
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	a, err := accountFromRow(values(res.Rows[0].Values)).Account()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) CompareAndSwap(ctx context.Context, client ledger.ClientID, expected *ledger.Account, next ledger.Account) error {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE client_id = @client_id", r.columns(), r.table)
	write := fmt.Sprintf("UPSERT INTO %s (%s) VALUES (@client_id, @available, @held, @locked, @version)", r.table, r.columns())

	item := models.FromAccount(next)
	match := func(row []interface{}) bool {
		if expected == nil || row == nil {
			return expected == nil && row == nil
		}
		return accountFromRow(row) == models.FromAccount(*expected)
	}
	return r.store.compareAndSwap(ctx, query, map[string]interface{}{"client_id": int64(client)}, match, write,
		map[string]interface{}{
			"client_id": int64(client),
			"available": item.Available,
			"held":      item.Held,
			"locked":    item.Locked,
			"version":   int64(item.Version),
		})
}

func (r *AccountRepository) List(ctx context.Context) ([]ledger.Account, error) {
	c, err := r.store.session(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY client_id", r.columns(), r.table)
	res, err := c.SQLQuery(ctx, query, nil, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := make([]ledger.Account, 0, len(res.Rows))
	for _, row := range res.Rows {
		a, err := accountFromRow(values(row.Values)).Account()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// TransactionRepository implements ledger.TransactionRepository on an immudb table.
type TransactionRepository struct {
	store *Store
	table string
}

func (r *TransactionRepository) columns() string {
	return "tx_id, client_id, kind, amount, status, dispute, version"
}

func (r *TransactionRepository) Get(ctx context.Context, id ledger.TxID) (*ledger.TransactionRecord, error) {
	c, err := r.store.session(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE tx_id = @tx_id", r.columns(), r.table)
	res, err := c.SQLQuery(ctx, query, map[string]interface{}{"tx_id": int64(id)}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction %d: %w", id, err)
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	rec, err := transactionFromRow(values(res.Rows[0].Values)).Record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *TransactionRepository) GetByDepositID(ctx context.Context, id ledger.TxID) (*ledger.TransactionRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil || rec == nil || rec.Kind != ledger.KindDeposit {
		return nil, err
	}
	return rec, nil
}

func (r *TransactionRepository) CompareAndSwap(ctx context.Context, id ledger.TxID, expected *ledger.TransactionRecord, next ledger.TransactionRecord) error {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE tx_id = @tx_id", r.columns(), r.table)
	write := fmt.Sprintf("UPSERT INTO %s (%s) VALUES (@tx_id, @client_id, @kind, @amount, @status, @dispute, @version)", r.table, r.columns())

	item := models.FromRecord(next)
	match := func(row []interface{}) bool {
		if expected == nil || row == nil {
			return expected == nil && row == nil
		}
		return transactionFromRow(row) == models.FromRecord(*expected)
	}
	return r.store.compareAndSwap(ctx, query, map[string]interface{}{"tx_id": int64(id)}, match, write,
		map[string]interface{}{
			"tx_id":     int64(id),
			"client_id": int64(item.ClientID),
			"kind":      item.Kind,
			"amount":    item.Amount,
			"status":    item.Status,
			"dispute":   item.Dispute,
			"version":   int64(item.Version),
		})
}

// values flattens SQL values into int64, string and bool.
func values(vs []*schema.SQLValue) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		switch v.Value.(type) {
		case *schema.SQLValue_N:
			out[i] = v.GetN()
		case *schema.SQLValue_S:
			out[i] = v.GetS()
		case *schema.SQLValue_B:
			out[i] = v.GetB()
		}
	}
	return out
}

func accountFromRow(row []interface{}) models.AccountItem {
	return models.AccountItem{
		ClientID:  uint16(asInt(row[0])),
		Available: asString(row[1]),
		Held:      asString(row[2]),
		Locked:    asBool(row[3]),
		Version:   uint64(asInt(row[4])),
	}
}

func transactionFromRow(row []interface{}) models.TransactionItem {
	return models.TransactionItem{
		TxID:     uint32(asInt(row[0])),
		ClientID: uint16(asInt(row[1])),
		Kind:     asString(row[2]),
		Amount:   asString(row[3]),
		Status:   asString(row[4]),
		Dispute:  asString(row[5]),
		Version:  uint64(asInt(row[6])),
	}
}

func asInt(v interface{}) int64 {
	n, _ := v.(int64)
	return n
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
