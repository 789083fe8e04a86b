// Package ingest turns input records into ledger transactions.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

// ErrMalformed marks a record that cannot be turned into a transaction.
// Such records are skipped; they never stop a run.
var ErrMalformed = errors.New("malformed record")

// Record is one raw input record. Every field is kept as text so that
// range and format errors are reported per record.
type Record struct {
	Type   string `json:"type"`
	Client string `json:"client"`
	Tx     string `json:"tx"`
	Amount string `json:"amount,omitempty"`
	Line   int    `json:"-"`
}

// Parse validates r and builds the matching transaction. Every error it
// returns wraps ErrMalformed.
func Parse(r Record) (ledger.Transaction, error) {
	kind, err := ledger.ParseKind(strings.ToLower(strings.TrimSpace(r.Type)))
	if err != nil {
		return nil, malformed(r, err)
	}
	client, err := strconv.ParseUint(strings.TrimSpace(r.Client), 10, 16)
	if err != nil {
		return nil, malformed(r, fmt.Errorf("client: %w", err))
	}
	id, err := strconv.ParseUint(strings.TrimSpace(r.Tx), 10, 32)
	if err != nil {
		return nil, malformed(r, fmt.Errorf("tx: %w", err))
	}
	c, tx := ledger.ClientID(client), ledger.TxID(id)

	switch kind {
	case ledger.KindDeposit, ledger.KindWithdrawal:
		amount, err := parseAmount(r.Amount)
		if err != nil {
			return nil, malformed(r, err)
		}
		if kind == ledger.KindDeposit {
			return ledger.NewDeposit(c, tx, amount), nil
		}
		return ledger.NewWithdrawal(c, tx, amount), nil
	case ledger.KindDispute:
		return ledger.NewDispute(c, tx), nil
	case ledger.KindResolve:
		return ledger.NewResolve(c, tx), nil
	default:
		return ledger.NewChargeback(c, tx), nil
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.New("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %s is negative", s)
	}
	if !d.Equal(d.Truncate(ledger.Precision)) {
		return decimal.Zero, fmt.Errorf("amount %s has more than %d fractional digits", s, ledger.Precision)
	}
	return d, nil
}

func malformed(r Record, err error) error {
	if r.Line > 0 {
		return fmt.Errorf("%w: line %d: %v", ErrMalformed, r.Line, err)
	}
	return fmt.Errorf("%w: tx %q: %v", ErrMalformed, r.Tx, err)
}
