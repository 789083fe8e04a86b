// Package ledger implements the transaction state machine and the
// compare-and-swap account mutation protocol of the batch ledger.
//
// The package never touches storage directly: accounts and transaction
// records are reached through the AccountRepository and
// TransactionRepository capabilities handed to NewService.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ClientID identifies a client account
type ClientID uint16

// TxID identifies a transaction globally
type TxID uint32

// Precision is the number of fractional digits carried by every amount
const Precision = 4

// Kind is the type of an incoming transaction
type Kind string

const (
	// KindDeposit credits the available balance
	KindDeposit Kind = "deposit"
	// KindWithdrawal debits the available balance
	KindWithdrawal Kind = "withdrawal"
	// KindDispute holds the funds of a prior deposit
	KindDispute Kind = "dispute"
	// KindResolve releases held funds back to available
	KindResolve Kind = "resolve"
	// KindChargeback removes held funds and locks the account
	KindChargeback Kind = "chargeback"
)

// ParseKind parses a lowercase transaction type name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDeposit, KindWithdrawal, KindDispute, KindResolve, KindChargeback:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Status is the processing status of a Deposit or Withdrawal record.
// It moves from StatusPending to exactly one terminal status.
type Status string

const (
	// StatusPending is assigned when the record is first read
	StatusPending Status = "pending"
	// StatusApplied marks a transaction applied to its account
	StatusApplied Status = "applied"
	// StatusError marks a transaction rejected by a business rule
	StatusError Status = "error"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusError
}

// DisputeState is the dispute lifecycle derived on a Deposit record
type DisputeState string

const (
	// DisputeNone is the state of an undisputed deposit
	DisputeNone DisputeState = "normal"
	// Disputed marks a deposit whose funds are held
	Disputed DisputeState = "disputed"
	// Resolved marks a dispute settled in favor of the client
	Resolved DisputeState = "resolved"
	// ChargedBack marks a dispute settled by removing the funds
	ChargedBack DisputeState = "chargedback"
)

// Account is the state of a single client account.
//
// Total is derived from Available and Held and never stored.
type Account struct {
	Client    ClientID
	Available decimal.Decimal
	Held      decimal.Decimal
	Locked    bool
	Version   uint64 // bumped on every successful write
}

// NewAccount returns an empty, unlocked account for client.
func NewAccount(client ClientID) Account {
	return Account{Client: client, Available: decimal.Zero, Held: decimal.Zero}
}

// Total returns available + held.
func (a Account) Total() decimal.Decimal {
	return a.Available.Add(a.Held)
}

// Equal reports whether two account states are identical, version included.
func (a Account) Equal(b Account) bool {
	return a.Client == b.Client &&
		a.Available.Equal(b.Available) &&
		a.Held.Equal(b.Held) &&
		a.Locked == b.Locked &&
		a.Version == b.Version
}

// TransactionRecord is the stored form of a Deposit or Withdrawal.
type TransactionRecord struct {
	ID      TxID
	Client  ClientID
	Kind    Kind
	Amount  decimal.Decimal
	Status  Status
	Dispute DisputeState
	Version uint64
}

// NewRecord builds the pending record registered for a Deposit or Withdrawal.
func NewRecord(tx Transaction) (TransactionRecord, error) {
	var amount decimal.Decimal
	switch v := tx.(type) {
	case Deposit:
		amount = v.Amount
	case Withdrawal:
		amount = v.Amount
	default:
		return TransactionRecord{}, fmt.Errorf("%s transactions are not recorded", tx.Kind())
	}
	return TransactionRecord{
		ID:      tx.ID(),
		Client:  tx.Client(),
		Kind:    tx.Kind(),
		Amount:  amount,
		Status:  StatusPending,
		Dispute: DisputeNone,
		Version: 1,
	}, nil
}

// Equal reports whether two records are identical, version included.
func (r TransactionRecord) Equal(o TransactionRecord) bool {
	return r.ID == o.ID &&
		r.Client == o.Client &&
		r.Kind == o.Kind &&
		r.Amount.Equal(o.Amount) &&
		r.Status == o.Status &&
		r.Dispute == o.Dispute &&
		r.Version == o.Version
}

// withStatus returns a copy moved to status.
func (r TransactionRecord) withStatus(s Status) TransactionRecord {
	r.Status = s
	r.Version++
	return r
}

// withDispute returns a copy moved to dispute state d.
func (r TransactionRecord) withDispute(d DisputeState) TransactionRecord {
	r.Dispute = d
	r.Version++
	return r
}
