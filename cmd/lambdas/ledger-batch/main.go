package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/backend"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/batch"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/config"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/ingest"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/logging"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/metrics"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/report"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/sirupsen/logrus"
)

// InputRecord is one transaction of a JSON request. Client and tx may be
// given as JSON numbers or numeric strings.
type InputRecord struct {
	Type   string      `json:"type"`
	Client json.Number `json:"client"`
	Tx     json.Number `json:"tx"`
	Amount string      `json:"amount,omitempty"`
}

// Request is the input of the batch Lambda function. Exactly one of
// Records and CSV should be set.
type Request struct {
	Records        []InputRecord `json:"records,omitempty"`
	CSV            string        `json:"csv,omitempty"`
	CollectMetrics bool          `json:"collectMetrics"`
}

// Response is the output of the batch Lambda function
type Response struct {
	RunID    string                 `json:"runId"`
	Summary  batch.Summary          `json:"summary"`
	Accounts []report.Row           `json:"accounts"`
	Metrics  map[string]interface{} `json:"metrics,omitempty"`
}

type handler struct {
	cfg       *config.Config
	log       *logrus.Logger
	openStore func(ctx context.Context) (databases.Store, func() error, error)
	journal   func(runID string) (ledger.Journal, func() error, error)
}

func newHandler(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*handler, error) {
	registry := backend.NewRegistry()
	h := &handler{cfg: cfg, log: log}
	if cfg.Store == config.StoreMemory {
		// A warm container reuses the handler, so an in-process ledger
		// lives for one invocation only.
		h.openStore = func(ctx context.Context) (databases.Store, func() error, error) {
			store, err := registry.Open(ctx, cfg.Store, cfg.StoreConfig())
			if err != nil {
				return nil, nil, err
			}
			return store, store.Close, nil
		}
	} else {
		store, err := registry.Open(ctx, cfg.Store, cfg.StoreConfig())
		if err != nil {
			return nil, err
		}
		h.openStore = func(context.Context) (databases.Store, func() error, error) {
			return store, func() error { return nil }, nil
		}
	}
	if cfg.JournalEnabled {
		h.journal = func(runID string) (ledger.Journal, func() error, error) {
			j, err := backend.OpenJournal(cfg.JournalConfig(runID))
			if err != nil {
				return nil, nil, err
			}
			return j, j.Close, nil
		}
	}
	return h, nil
}

func (h *handler) source(req Request) (batch.Source, error) {
	switch {
	case len(req.Records) > 0 && req.CSV != "":
		return nil, errors.New("request sets both records and csv")
	case req.CSV != "":
		return ingest.NewReader(strings.NewReader(req.CSV))
	}
	recs := make([]ingest.Record, len(req.Records))
	for i, r := range req.Records {
		recs[i] = ingest.Record{
			Type:   r.Type,
			Client: r.Client.String(),
			Tx:     r.Tx.String(),
			Amount: r.Amount,
			Line:   i + 1,
		}
	}
	return batch.Records(recs), nil
}

func (h *handler) handleRequest(ctx context.Context, req Request) (Response, error) {
	src, err := h.source(req)
	if err != nil {
		return Response{}, fmt.Errorf("invalid request: %w", err)
	}

	runID := batch.NewRunID()
	runLog := h.log.WithField("run_id", runID)

	store, closeStore, err := h.openStore(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			runLog.WithError(err).Warn("closing store")
		}
	}()

	collector := metrics.NewCollector()
	collector.StartRun(runID, h.cfg.Store)

	opts := []ledger.Option{ledger.WithMaxRetries(h.cfg.MaxRetries)}
	if h.journal != nil {
		j, closeJournal, err := h.journal(runID)
		if err != nil {
			return Response{}, err
		}
		defer func() {
			if err := closeJournal(); err != nil {
				runLog.WithError(err).Warn("flushing journal")
			}
		}()
		opts = append(opts, ledger.WithJournal(j))
	}

	svc := ledger.NewService(
		metrics.InstrumentAccounts(store.Accounts(), collector),
		metrics.InstrumentTransactions(store.Transactions(), collector),
		runLog,
		opts...,
	)

	runner := &batch.Runner{Service: svc, Log: h.log, Metrics: collector, RunID: runID}
	summary, err := runner.Run(ctx, src)
	if err != nil {
		return Response{RunID: runID, Summary: summary}, err
	}

	accounts, err := svc.Accounts(ctx)
	if err != nil {
		return Response{RunID: runID, Summary: summary}, err
	}

	resp := Response{
		RunID:    runID,
		Summary:  summary,
		Accounts: report.Rows(accounts),
	}
	if result := collector.EndRun(); result != nil && req.CollectMetrics {
		resp.Metrics = result.Summary
	}
	return resp, nil
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	h, err := newHandler(context.Background(), cfg, log)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	lambda.Start(h.handleRequest)
}
