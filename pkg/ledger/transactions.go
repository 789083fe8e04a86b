package ledger

import "github.com/shopspring/decimal"

// Transaction is an incoming ledger transaction.
//
// The set of implementations is closed: Deposit, Withdrawal, Dispute,
// Resolve and Chargeback. For the dispute family, ID is the id of the
// deposit being acted on.
type Transaction interface {
	Kind() Kind       // Kind returns the transaction type
	Client() ClientID // Client returns the client the transaction belongs to
	ID() TxID         // ID returns the transaction id, or the referenced deposit id
}

type header struct {
	kind   Kind
	client ClientID
	id     TxID
}

func (h header) Kind() Kind       { return h.kind }
func (h header) Client() ClientID { return h.client }
func (h header) ID() TxID         { return h.id }

// Deposit credits Amount to the client's available balance.
type Deposit struct {
	header
	Amount decimal.Decimal
}

// NewDeposit creates a Deposit transaction.
func NewDeposit(client ClientID, id TxID, amount decimal.Decimal) Deposit {
	return Deposit{header: header{kind: KindDeposit, client: client, id: id}, Amount: amount}
}

// Withdrawal debits Amount from the client's available balance.
type Withdrawal struct {
	header
	Amount decimal.Decimal
}

// NewWithdrawal creates a Withdrawal transaction.
func NewWithdrawal(client ClientID, id TxID, amount decimal.Decimal) Withdrawal {
	return Withdrawal{header: header{kind: KindWithdrawal, client: client, id: id}, Amount: amount}
}

// Dispute claims that deposit ID was erroneous and holds its funds.
type Dispute struct{ header }

// NewDispute creates a Dispute of deposit id.
func NewDispute(client ClientID, id TxID) Dispute {
	return Dispute{header{kind: KindDispute, client: client, id: id}}
}

// Resolve settles the dispute of deposit ID and releases its funds.
type Resolve struct{ header }

// NewResolve creates a Resolve of deposit id.
func NewResolve(client ClientID, id TxID) Resolve {
	return Resolve{header{kind: KindResolve, client: client, id: id}}
}

// Chargeback settles the dispute of deposit ID by withdrawing its funds.
type Chargeback struct{ header }

// NewChargeback creates a Chargeback of deposit id.
func NewChargeback(client ClientID, id TxID) Chargeback {
	return Chargeback{header{kind: KindChargeback, client: client, id: id}}
}
