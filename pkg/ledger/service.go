package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultMaxRetries bounds the CAS attempts made for one step of a transaction.
const DefaultMaxRetries = 8

// Service processes transactions against the account and transaction
// repositories. It keeps no state of its own, so several Services may share
// the same repositories concurrently.
type Service struct {
	accounts   AccountRepository
	txs        TransactionRepository
	log        logrus.FieldLogger
	journal    Journal
	maxRetries int
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxRetries sets the CAS retry budget. Values below one are ignored.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithJournal sends the outcome of every processed transaction to j.
func WithJournal(j Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// NewService creates a Service over the given repositories.
func NewService(accounts AccountRepository, txs TransactionRepository, log logrus.FieldLogger, opts ...Option) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		accounts:   accounts,
		txs:        txs,
		log:        log,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process applies a single transaction.
//
// It returns nil when the transaction was applied, a *RejectionError when a
// business rule refused it, and a *ProcessingError when a repository failed
// or the retry budget ran out. Only the last kind should stop a batch.
func (s *Service) Process(ctx context.Context, tx Transaction) error {
	var (
		amount decimal.Decimal
		err    error
	)
	switch tx.(type) {
	case Deposit, Withdrawal:
		amount, err = s.processMovement(ctx, tx)
	case Dispute, Resolve, Chargeback:
		amount, err = s.processClaim(ctx, tx)
	default:
		err = s.rejection(tx, ErrUnknownKind)
	}
	s.report(ctx, tx, amount, err)
	return err
}

// Accounts returns every account ordered by client id.
func (s *Service) Accounts(ctx context.Context) ([]Account, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Client < accounts[j].Client })
	return accounts, nil
}

// processMovement handles a Deposit or Withdrawal: register a pending
// record, move the funds, then settle the record.
func (s *Service) processMovement(ctx context.Context, tx Transaction) (decimal.Decimal, error) {
	rec, err := s.register(ctx, tx)
	if err != nil {
		return rec.Amount, err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		account, err := s.accounts.Get(ctx, tx.Client())
		if err != nil {
			return rec.Amount, s.fatal(tx.ID(), "get account", err)
		}

		switch d := Decide(tx, account, nil).(type) {
		case Reject:
			if err := s.settle(ctx, rec, d.Status); err != nil {
				return rec.Amount, err
			}
			return rec.Amount, s.rejection(tx, d.Reason)

		case Apply:
			err := s.accounts.CompareAndSwap(ctx, tx.Client(), account, d.Account)
			if errors.Is(err, ErrCASConflict) {
				s.retrying(tx.ID(), "account", attempt)
				continue
			}
			if err != nil {
				return rec.Amount, s.fatal(tx.ID(), "update account", err)
			}
			return rec.Amount, s.settle(ctx, rec, d.Status)
		}
	}
	return rec.Amount, s.fatal(tx.ID(), "update account", ErrRetriesExhausted)
}

// register stores the pending record of tx. Any record already stored
// under the same id, whatever its status, makes tx a duplicate.
func (s *Service) register(ctx context.Context, tx Transaction) (TransactionRecord, error) {
	rec, err := NewRecord(tx)
	if err != nil {
		return rec, s.fatal(tx.ID(), "register", err)
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		existing, err := s.txs.Get(ctx, tx.ID())
		if err != nil {
			return rec, s.fatal(tx.ID(), "get transaction", err)
		}
		if existing != nil {
			return rec, s.rejection(tx, ErrDuplicateTransaction)
		}

		err = s.txs.CompareAndSwap(ctx, tx.ID(), nil, rec)
		if errors.Is(err, ErrCASConflict) {
			s.retrying(tx.ID(), "transaction", attempt)
			continue
		}
		if err != nil {
			return rec, s.fatal(tx.ID(), "register", err)
		}
		return rec, nil
	}
	return rec, s.fatal(tx.ID(), "register", ErrRetriesExhausted)
}

// settle moves rec to a terminal status. A record some other writer has
// already settled is left alone.
func (s *Service) settle(ctx context.Context, rec TransactionRecord, status Status) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.txs.CompareAndSwap(ctx, rec.ID, &rec, rec.withStatus(status))
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCASConflict) {
			return s.fatal(rec.ID, "settle transaction", err)
		}
		s.retrying(rec.ID, "transaction", attempt)

		current, err := s.txs.Get(ctx, rec.ID)
		if err != nil {
			return s.fatal(rec.ID, "get transaction", err)
		}
		if current == nil {
			return s.fatal(rec.ID, "settle transaction", fmt.Errorf("record %d disappeared", rec.ID))
		}
		if current.Status.Terminal() {
			return nil
		}
		rec = *current
	}
	return s.fatal(rec.ID, "settle transaction", ErrRetriesExhausted)
}

// processClaim handles the dispute family. The referenced deposit's dispute
// transition is claimed first, then the funds are moved on the account. A
// claim whose funds can no longer be moved is reverted.
func (s *Service) processClaim(ctx context.Context, tx Transaction) (decimal.Decimal, error) {
	var amount decimal.Decimal

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		account, err := s.accounts.Get(ctx, tx.Client())
		if err != nil {
			return amount, s.fatal(tx.ID(), "get account", err)
		}
		ref, err := s.txs.GetByDepositID(ctx, tx.ID())
		if err != nil {
			return amount, s.fatal(tx.ID(), "get deposit", err)
		}
		if ref != nil {
			amount = ref.Amount
		}

		switch d := Decide(tx, account, ref).(type) {
		case Reject:
			return amount, s.rejection(tx, d.Reason)

		case Apply:
			err := s.txs.CompareAndSwap(ctx, ref.ID, ref, *d.Referenced)
			if errors.Is(err, ErrCASConflict) {
				s.retrying(tx.ID(), "deposit", attempt)
				continue
			}
			if err != nil {
				return amount, s.fatal(tx.ID(), "claim deposit", err)
			}
			return amount, s.moveClaimed(ctx, tx, account, *ref, d)
		}
	}
	return amount, s.fatal(tx.ID(), "claim deposit", ErrRetriesExhausted)
}

// moveClaimed writes the account side of a claimed dispute transition,
// re-applying the decided Effect to fresh account state on every conflict.
func (s *Service) moveClaimed(ctx context.Context, tx Transaction, account *Account, ref TransactionRecord, d Apply) error {
	next := d.Account

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.accounts.CompareAndSwap(ctx, tx.Client(), account, next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCASConflict) {
			return s.fatal(tx.ID(), "update account", err)
		}
		s.retrying(tx.ID(), "account", attempt)

		if account, err = s.accounts.Get(ctx, tx.Client()); err != nil {
			return s.fatal(tx.ID(), "get account", err)
		}
		if account == nil {
			err = ErrInvalidReference
		} else {
			next, err = d.Effect.ApplyTo(*account)
		}
		if err != nil {
			if rerr := s.revertClaim(ctx, ref, *d.Referenced); rerr != nil {
				return s.fatal(tx.ID(), "revert claim", rerr)
			}
			return s.rejection(tx, err)
		}
	}
	return s.fatal(tx.ID(), "update account", ErrRetriesExhausted)
}

// revertClaim restores the dispute state of a claimed deposit. The version
// keeps moving forward so the restored record never equals the original.
func (s *Service) revertClaim(ctx context.Context, original, claimed TransactionRecord) error {
	restored := original
	restored.Version = claimed.Version + 1
	return s.txs.CompareAndSwap(ctx, original.ID, &claimed, restored)
}

func (s *Service) report(ctx context.Context, tx Transaction, amount decimal.Decimal, err error) {
	entry := s.log.WithFields(logrus.Fields{
		"tx":     tx.ID(),
		"client": tx.Client(),
		"kind":   tx.Kind(),
	})

	o := Outcome{
		TxID:   tx.ID(),
		Client: tx.Client(),
		Kind:   tx.Kind(),
		Amount: amount,
		At:     s.now(),
	}
	switch {
	case err == nil:
		o.Result = ResultApplied
		entry.Debug("transaction applied")
	case IsRejection(err):
		o.Result = ResultRejected
		o.Reason = ReasonCode(err)
		entry.WithField("reason", o.Reason).Info("transaction rejected")
	default:
		entry.WithError(err).Error("transaction failed")
		return
	}

	if s.journal == nil {
		return
	}
	if jerr := s.journal.Record(ctx, o); jerr != nil {
		entry.WithError(jerr).Warn("journal record failed")
	}
}

func (s *Service) retrying(id TxID, target string, attempt int) {
	s.log.WithFields(logrus.Fields{
		"tx":      id,
		"target":  target,
		"attempt": attempt + 1,
	}).Debug("cas conflict, retrying")
}

func (s *Service) rejection(tx Transaction, reason error) error {
	return &RejectionError{TxID: tx.ID(), Client: tx.Client(), Kind: tx.Kind(), Reason: reason}
}

func (s *Service) fatal(id TxID, op string, err error) error {
	return &ProcessingError{TxID: id, Op: op, Err: err}
}
