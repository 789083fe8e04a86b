// Package models holds the stored forms of ledger accounts and transaction
// records shared by the storage backends.
//
// Amounts are kept as strings with exactly four fractional digits so that
// value comparisons made by a backend (a DynamoDB condition, a SQL WHERE
// clause) agree with decimal equality.
package models

import (
	"fmt"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

// AccountItem is the stored form of a ledger.Account
type AccountItem struct {
	ClientID  uint16 `json:"clientId" dynamodbav:"clientId"`
	Available string `json:"available" dynamodbav:"available"`
	Held      string `json:"held" dynamodbav:"held"`
	Locked    bool   `json:"locked" dynamodbav:"locked"`
	Version   uint64 `json:"version" dynamodbav:"version"`
}

// TransactionItem is the stored form of a ledger.TransactionRecord
type TransactionItem struct {
	TxID     uint32 `json:"txId" dynamodbav:"txId"`
	ClientID uint16 `json:"clientId" dynamodbav:"clientId"`
	Kind     string `json:"kind" dynamodbav:"kind"`
	Amount   string `json:"amount" dynamodbav:"amount"`
	Status   string `json:"status" dynamodbav:"status"`
	Dispute  string `json:"dispute" dynamodbav:"dispute"`
	Version  uint64 `json:"version" dynamodbav:"version"`
}

// FormatAmount renders d in its canonical stored form.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(ledger.Precision)
}

// FromAccount converts an account to its stored form.
func FromAccount(a ledger.Account) AccountItem {
	return AccountItem{
		ClientID:  uint16(a.Client),
		Available: FormatAmount(a.Available),
		Held:      FormatAmount(a.Held),
		Locked:    a.Locked,
		Version:   a.Version,
	}
}

// Account converts the item back to a ledger.Account.
func (i AccountItem) Account() (ledger.Account, error) {
	available, err := decimal.NewFromString(i.Available)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %d: available: %w", i.ClientID, err)
	}
	held, err := decimal.NewFromString(i.Held)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %d: held: %w", i.ClientID, err)
	}
	return ledger.Account{
		Client:    ledger.ClientID(i.ClientID),
		Available: available,
		Held:      held,
		Locked:    i.Locked,
		Version:   i.Version,
	}, nil
}

// FromRecord converts a transaction record to its stored form.
func FromRecord(r ledger.TransactionRecord) TransactionItem {
	return TransactionItem{
		TxID:     uint32(r.ID),
		ClientID: uint16(r.Client),
		Kind:     string(r.Kind),
		Amount:   FormatAmount(r.Amount),
		Status:   string(r.Status),
		Dispute:  string(r.Dispute),
		Version:  r.Version,
	}
}

// Record converts the item back to a ledger.TransactionRecord.
func (i TransactionItem) Record() (ledger.TransactionRecord, error) {
	kind, err := ledger.ParseKind(i.Kind)
	if err != nil {
		return ledger.TransactionRecord{}, fmt.Errorf("transaction %d: %w", i.TxID, err)
	}
	amount, err := decimal.NewFromString(i.Amount)
	if err != nil {
		return ledger.TransactionRecord{}, fmt.Errorf("transaction %d: amount: %w", i.TxID, err)
	}
	return ledger.TransactionRecord{
		ID:      ledger.TxID(i.TxID),
		Client:  ledger.ClientID(i.ClientID),
		Kind:    kind,
		Amount:  amount,
		Status:  ledger.Status(i.Status),
		Dispute: ledger.DisputeState(i.Dispute),
		Version: i.Version,
	}, nil
}
