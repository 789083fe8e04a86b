package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func account(client ClientID, available, held string, locked bool) *Account {
	return &Account{Client: client, Available: dec(available), Held: dec(held), Locked: locked, Version: 3}
}

func deposit(id TxID, client ClientID, amount string, dispute DisputeState) *TransactionRecord {
	return &TransactionRecord{
		ID:      id,
		Client:  client,
		Kind:    KindDeposit,
		Amount:  dec(amount),
		Status:  StatusApplied,
		Dispute: dispute,
		Version: 2,
	}
}

func TestDecideApply(t *testing.T) {
	testCases := []struct {
		name      string
		tx        Transaction
		account   *Account
		ref       *TransactionRecord
		available string
		held      string
		locked    bool
		status    Status
		dispute   DisputeState
	}{
		{
			name:      "deposit creates account",
			tx:        NewDeposit(1, 1, dec("5.0")),
			available: "5",
			held:      "0",
			status:    StatusApplied,
		},
		{
			name:      "deposit credits available",
			tx:        NewDeposit(1, 2, dec("3.0")),
			account:   account(1, "5", "0", false),
			available: "8",
			held:      "0",
			status:    StatusApplied,
		},
		{
			name:      "withdrawal of the whole balance",
			tx:        NewWithdrawal(1, 3, dec("4.5")),
			account:   account(1, "4.5", "1", false),
			available: "0",
			held:      "1",
			status:    StatusApplied,
		},
		{
			name:      "dispute holds deposit amount",
			tx:        NewDispute(2, 4),
			account:   account(2, "10", "0", false),
			ref:       deposit(4, 2, "10", DisputeNone),
			available: "0",
			held:      "10",
			dispute:   Disputed,
		},
		{
			name:      "resolve releases held funds",
			tx:        NewResolve(2, 4),
			account:   account(2, "1", "10", false),
			ref:       deposit(4, 2, "10", Disputed),
			available: "11",
			held:      "0",
			dispute:   Resolved,
		},
		{
			name:      "chargeback removes held funds and locks",
			tx:        NewChargeback(2, 4),
			account:   account(2, "0", "10", false),
			ref:       deposit(4, 2, "10", Disputed),
			available: "0",
			held:      "0",
			locked:    true,
			dispute:   ChargedBack,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.tx, tc.account, tc.ref)
			apply, ok := d.(Apply)
			require.True(t, ok, "expected Apply, got %#v", d)

			assert.Equal(t, tc.tx.Client(), apply.Account.Client)
			assert.True(t, dec(tc.available).Equal(apply.Account.Available), "available %s", apply.Account.Available)
			assert.True(t, dec(tc.held).Equal(apply.Account.Held), "held %s", apply.Account.Held)
			assert.Equal(t, tc.locked, apply.Account.Locked)
			assert.Equal(t, tc.status, apply.Status)

			if tc.account != nil {
				assert.Equal(t, tc.account.Version+1, apply.Account.Version)
			}
			if tc.ref == nil {
				assert.Nil(t, apply.Referenced)
			} else {
				require.NotNil(t, apply.Referenced)
				assert.Equal(t, tc.dispute, apply.Referenced.Dispute)
				assert.Equal(t, tc.ref.Version+1, apply.Referenced.Version)
			}
		})
	}
}

func TestDecideReject(t *testing.T) {
	testCases := []struct {
		name    string
		tx      Transaction
		account *Account
		ref     *TransactionRecord
		reason  error
		status  Status
	}{
		{
			name:    "deposit on locked account",
			tx:      NewDeposit(2, 5, dec("1")),
			account: account(2, "0", "0", true),
			reason:  ErrAccountLocked,
			status:  StatusError,
		},
		{
			name:   "zero deposit",
			tx:     NewDeposit(1, 1, decimal.Zero),
			reason: ErrInvalidAmount,
			status: StatusError,
		},
		{
			name:    "withdrawal beyond available",
			tx:      NewWithdrawal(1, 3, dec("4.0001")),
			account: account(1, "4", "0", false),
			reason:  ErrInsufficientFunds,
			status:  StatusError,
		},
		{
			name:   "withdrawal without account",
			tx:     NewWithdrawal(7, 3, dec("1")),
			reason: ErrInsufficientFunds,
			status: StatusError,
		},
		{
			name:    "dispute of unknown deposit",
			tx:      NewDispute(1, 99),
			account: account(1, "4", "0", false),
			reason:  ErrInvalidReference,
		},
		{
			name:    "dispute of another client's deposit",
			tx:      NewDispute(1, 4),
			account: account(1, "10", "0", false),
			ref:     deposit(4, 2, "10", DisputeNone),
			reason:  ErrInvalidReference,
		},
		{
			name:    "dispute of a withdrawal",
			tx:      NewDispute(1, 4),
			account: account(1, "10", "0", false),
			ref:     &TransactionRecord{ID: 4, Client: 1, Kind: KindWithdrawal, Amount: dec("1"), Status: StatusApplied, Dispute: DisputeNone},
			reason:  ErrInvalidReference,
		},
		{
			name:    "dispute of a rejected deposit",
			tx:      NewDispute(1, 4),
			account: account(1, "10", "0", false),
			ref:     &TransactionRecord{ID: 4, Client: 1, Kind: KindDeposit, Amount: dec("1"), Status: StatusError, Dispute: DisputeNone},
			reason:  ErrInvalidReference,
		},
		{
			name:    "dispute twice",
			tx:      NewDispute(2, 4),
			account: account(2, "0", "10", false),
			ref:     deposit(4, 2, "10", Disputed),
			reason:  ErrInvalidReference,
		},
		{
			name:    "dispute after funds were withdrawn",
			tx:      NewDispute(2, 4),
			account: account(2, "3", "0", false),
			ref:     deposit(4, 2, "10", DisputeNone),
			reason:  ErrInsufficientFunds,
		},
		{
			name:    "resolve of undisputed deposit",
			tx:      NewResolve(2, 4),
			account: account(2, "10", "0", false),
			ref:     deposit(4, 2, "10", DisputeNone),
			reason:  ErrInvalidReference,
		},
		{
			name:    "chargeback of resolved deposit",
			tx:      NewChargeback(2, 4),
			account: account(2, "10", "0", false),
			ref:     deposit(4, 2, "10", Resolved),
			reason:  ErrInvalidReference,
		},
		{
			name:    "resolve on locked account",
			tx:      NewResolve(2, 4),
			account: account(2, "0", "10", true),
			ref:     deposit(4, 2, "10", Disputed),
			reason:  ErrAccountLocked,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var before Account
			if tc.account != nil {
				before = *tc.account
			}

			d := Decide(tc.tx, tc.account, tc.ref)
			rej, ok := d.(Reject)
			require.True(t, ok, "expected Reject, got %#v", d)
			assert.True(t, errors.Is(rej.Reason, tc.reason), "reason %v", rej.Reason)
			assert.Equal(t, tc.status, rej.Status)

			if tc.account != nil {
				assert.True(t, before.Equal(*tc.account), "account mutated")
			}
		})
	}
}

func TestEffectApplyTo(t *testing.T) {
	base := *account(1, "5", "2", false)

	next, err := Effect{Available: dec("-5"), Held: dec("5")}.ApplyTo(base)
	require.NoError(t, err)
	assert.True(t, dec("0").Equal(next.Available))
	assert.True(t, dec("7").Equal(next.Held))
	assert.True(t, base.Total().Equal(next.Total()))
	assert.Equal(t, base.Version+1, next.Version)

	_, err = Effect{Available: dec("-5.0001"), Held: decimal.Zero}.ApplyTo(base)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = Effect{Available: decimal.Zero, Held: dec("-2.1")}.ApplyTo(base)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	locked := base
	locked.Locked = true
	_, err = Effect{Available: dec("1"), Held: decimal.Zero}.ApplyTo(locked)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("chargeback")
	require.NoError(t, err)
	assert.Equal(t, KindChargeback, k)

	_, err = ParseKind("transfer")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestReasonCode(t *testing.T) {
	err := &RejectionError{TxID: 1, Client: 1, Kind: KindWithdrawal, Reason: ErrInsufficientFunds}
	assert.Equal(t, "insufficient_funds", ReasonCode(err))
	assert.True(t, IsRejection(err))
	assert.Equal(t, "error", ReasonCode(errors.New("boom")))
	assert.False(t, IsRejection(&ProcessingError{TxID: 1, Op: "get account", Err: ErrRetriesExhausted}))
}
