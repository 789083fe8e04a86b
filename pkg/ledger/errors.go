package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrCASConflict is returned by a repository when the stored value no
	// longer matches the expected one. Nothing was written.
	ErrCASConflict = errors.New("compare-and-swap conflict")

	// ErrRetriesExhausted is returned when CAS conflicts persist beyond the retry budget.
	ErrRetriesExhausted = errors.New("retry budget exhausted")

	// Business rule rejections.
	ErrAccountLocked        = errors.New("account locked")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidReference     = errors.New("invalid reference")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrUnknownKind          = errors.New("unknown transaction kind")
)

// RejectionError reports a transaction rejected by a business rule.
// It is not fatal: the batch goes on with the next transaction.
type RejectionError struct {
	TxID   TxID
	Client ClientID
	Kind   Kind
	Reason error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s tx %d for client %d rejected: %v", e.Kind, e.TxID, e.Client, e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Reason }

// ProcessingError reports a failure that must stop the batch, such as an
// unavailable repository or an exhausted retry budget.
type ProcessingError struct {
	TxID TxID
	Op   string
	Err  error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing tx %d: %s: %v", e.TxID, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// IsRejection reports whether err is a non-fatal business rejection.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

var reasonCodes = []struct {
	err  error
	code string
}{
	{ErrAccountLocked, "account_locked"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInvalidReference, "invalid_reference"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrDuplicateTransaction, "duplicate_transaction"},
	{ErrUnknownKind, "unknown_kind"},
	{ErrRetriesExhausted, "retries_exhausted"},
}

// ReasonCode returns a short stable code for err, suitable as a metric
// dimension or a summary key. Unrecognized errors map to "error".
func ReasonCode(err error) string {
	for _, rc := range reasonCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return "error"
}
