package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decision is the result of Decide, either an Apply or a Reject.
type Decision interface {
	decision()
}

// Effect is the balance movement a transaction makes on its account.
type Effect struct {
	Available decimal.Decimal // delta on the available balance
	Held      decimal.Decimal // delta on the held balance
	Lock      bool            // lock the account once applied
}

// ApplyTo returns a moved by the effect, or an error when a is locked or
// the move would drive a balance below zero.
func (e Effect) ApplyTo(a Account) (Account, error) {
	if a.Locked {
		return a, ErrAccountLocked
	}
	next := a
	next.Available = a.Available.Add(e.Available)
	next.Held = a.Held.Add(e.Held)
	if next.Available.IsNegative() || next.Held.IsNegative() {
		return a, ErrInsufficientFunds
	}
	next.Locked = e.Lock
	next.Version = a.Version + 1
	return next, nil
}

// Apply accepts the transaction.
type Apply struct {
	Account    Account            // next account state
	Effect     Effect             // movement that produced Account
	Status     Status             // StatusApplied for Deposit and Withdrawal, empty otherwise
	Referenced *TransactionRecord // next state of the referenced deposit, dispute family only
}

// Reject refuses the transaction. Nothing may be written but the status
// of a Deposit or Withdrawal record.
type Reject struct {
	Reason error
	Status Status // StatusError for Deposit and Withdrawal, empty otherwise
}

func (Apply) decision()  {}
func (Reject) decision() {}

// Decide computes the next account and referenced deposit states for tx,
// given the current account (nil if it does not exist) and, for the dispute
// family, the referenced deposit record (nil if it does not exist).
//
// Decide is pure: it reads its arguments and never mutates them.
func Decide(tx Transaction, account *Account, referenced *TransactionRecord) Decision {
	if account != nil && account.Locked {
		return reject(tx, ErrAccountLocked)
	}

	switch v := tx.(type) {
	case Deposit:
		if !v.Amount.IsPositive() {
			return reject(tx, ErrInvalidAmount)
		}
		return move(tx, account, Effect{Available: v.Amount, Held: decimal.Zero}, nil)

	case Withdrawal:
		if !v.Amount.IsPositive() {
			return reject(tx, ErrInvalidAmount)
		}
		if account == nil || v.Amount.GreaterThan(account.Available) {
			return reject(tx, ErrInsufficientFunds)
		}
		return move(tx, account, Effect{Available: v.Amount.Neg(), Held: decimal.Zero}, nil)

	case Dispute:
		if err := checkReference(tx, account, referenced, DisputeNone); err != nil {
			return reject(tx, err)
		}
		amount := referenced.Amount
		if amount.GreaterThan(account.Available) {
			return reject(tx, ErrInsufficientFunds)
		}
		next := referenced.withDispute(Disputed)
		return move(tx, account, Effect{Available: amount.Neg(), Held: amount}, &next)

	case Resolve:
		if err := checkReference(tx, account, referenced, Disputed); err != nil {
			return reject(tx, err)
		}
		amount := referenced.Amount
		next := referenced.withDispute(Resolved)
		return move(tx, account, Effect{Available: amount, Held: amount.Neg()}, &next)

	case Chargeback:
		if err := checkReference(tx, account, referenced, Disputed); err != nil {
			return reject(tx, err)
		}
		amount := referenced.Amount
		next := referenced.withDispute(ChargedBack)
		return move(tx, account, Effect{Available: decimal.Zero, Held: amount.Neg(), Lock: true}, &next)

	default:
		return Reject{Reason: ErrUnknownKind}
	}
}

// checkReference validates the deposit a dispute-family transaction acts on.
func checkReference(tx Transaction, account *Account, ref *TransactionRecord, want DisputeState) error {
	switch {
	case ref == nil:
		return fmt.Errorf("%w: deposit %d not found", ErrInvalidReference, tx.ID())
	case ref.Kind != KindDeposit:
		return fmt.Errorf("%w: tx %d is a %s", ErrInvalidReference, ref.ID, ref.Kind)
	case ref.Client != tx.Client():
		return fmt.Errorf("%w: deposit %d belongs to client %d", ErrInvalidReference, ref.ID, ref.Client)
	case ref.Status != StatusApplied:
		return fmt.Errorf("%w: deposit %d is %s", ErrInvalidReference, ref.ID, ref.Status)
	case ref.Dispute != want:
		return fmt.Errorf("%w: deposit %d is %s, want %s", ErrInvalidReference, ref.ID, ref.Dispute, want)
	case account == nil:
		return fmt.Errorf("%w: no account for client %d", ErrInvalidReference, tx.Client())
	}
	return nil
}

func move(tx Transaction, account *Account, e Effect, ref *TransactionRecord) Decision {
	base := NewAccount(tx.Client())
	if account != nil {
		base = *account
	}
	next, err := e.ApplyTo(base)
	if err != nil {
		return reject(tx, err)
	}
	return Apply{Account: next, Effect: e, Status: appliedStatus(tx), Referenced: ref}
}

func reject(tx Transaction, reason error) Reject {
	r := Reject{Reason: reason}
	if recorded(tx) {
		r.Status = StatusError
	}
	return r
}

func appliedStatus(tx Transaction) Status {
	if recorded(tx) {
		return StatusApplied
	}
	return ""
}

// recorded reports whether tx owns a transaction record.
func recorded(tx Transaction) bool {
	switch tx.(type) {
	case Deposit, Withdrawal:
		return true
	}
	return false
}
