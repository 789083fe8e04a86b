// Package batch drives a ledger service over a stream of input records.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/ingest"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/metrics"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/sirupsen/logrus"
)

// Source yields input records. Next returns io.EOF at the end of input and
// an error wrapping ingest.ErrMalformed for a record it could not read.
type Source interface {
	Next() (ingest.Record, error)
}

// Processor applies a single transaction. *ledger.Service implements it.
type Processor interface {
	Process(ctx context.Context, tx ledger.Transaction) error
}

// Summary counts what happened to the records of one run
type Summary struct {
	RunID     string         `json:"runId"`
	Read      int            `json:"read"`
	Applied   int            `json:"applied"`
	Rejected  map[string]int `json:"rejected"`
	Malformed int            `json:"malformed"`
}

// RejectedTotal returns the number of rejected transactions.
func (s Summary) RejectedTotal() int {
	n := 0
	for _, c := range s.Rejected {
		n += c
	}
	return n
}

// Runner processes records one at a time, in input order.
type Runner struct {
	Service Processor
	Log     logrus.FieldLogger
	Metrics *metrics.Collector // optional
	RunID   string             // generated when empty
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run reads src to the end. Malformed records and rejected transactions
// are counted and skipped. Run stops at the first read failure or fatal
// processing error and returns it along with the summary so far.
func (r *Runner) Run(ctx context.Context, src Source) (Summary, error) {
	if r.RunID == "" {
		r.RunID = NewRunID()
	}
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("run_id", r.RunID)

	sum := Summary{RunID: r.RunID, Rejected: make(map[string]int)}
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		sum.Read++
		if err != nil {
			if !errors.Is(err, ingest.ErrMalformed) {
				return sum, fmt.Errorf("reading input: %w", err)
			}
			r.malformed(log, &sum, err)
			continue
		}

		tx, err := ingest.Parse(rec)
		if err != nil {
			r.malformed(log, &sum, err)
			continue
		}

		err = r.Service.Process(ctx, tx)
		switch {
		case err == nil:
			sum.Applied++
			r.outcome(string(ledger.ResultApplied))
		case ledger.IsRejection(err):
			code := ledger.ReasonCode(err)
			sum.Rejected[code]++
			r.outcome(code)
		default:
			return sum, err
		}
	}

	log.WithFields(logrus.Fields{
		"read":      sum.Read,
		"applied":   sum.Applied,
		"rejected":  sum.RejectedTotal(),
		"malformed": sum.Malformed,
	}).Info("batch complete")
	return sum, nil
}

func (r *Runner) malformed(log logrus.FieldLogger, sum *Summary, err error) {
	sum.Malformed++
	r.outcome("malformed")
	log.WithError(err).Warn("skipping record")
}

func (r *Runner) outcome(key string) {
	if r.Metrics != nil {
		r.Metrics.RecordOutcome(key)
	}
}

// Records returns a Source over an in-memory slice.
func Records(recs []ingest.Record) Source {
	return &sliceSource{recs: recs}
}

type sliceSource struct {
	recs []ingest.Record
	pos  int
}

func (s *sliceSource) Next() (ingest.Record, error) {
	if s.pos >= len(s.recs) {
		return ingest.Record{}, io.EOF
	}
	rec := s.recs[s.pos]
	s.pos++
	if rec.Line == 0 {
		rec.Line = s.pos
	}
	return rec, nil
}
