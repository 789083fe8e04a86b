package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/backend"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/batch"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/config"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/ingest"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/logging"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/metrics"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/report"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/sirupsen/logrus"
)

// processCmd holds the flags for the 'process' subcommand.
type processCmd struct {
	flags configFlags

	stdout io.Writer
	stderr io.Writer
}

func (*processCmd) Name() string     { return "process" }
func (*processCmd) Synopsis() string { return "apply a CSV transaction log and print the final accounts" }
func (*processCmd) Usage() string {
	return `ledger process [-store <backend>] [-retries <n>] [-o csv|table] [-journal] <transactions.csv>

  Reads transactions (type, client, tx, amount) in file order, applies them
  to the selected store and prints client, available, held, total, locked
  for every account. Logs go to stderr.
`
}

func (c *processCmd) SetFlags(f *flag.FlagSet) {
	c.flags.register(f)
}

func (c *processCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	stderr := c.stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if f.NArg() != 1 {
		fmt.Fprint(stderr, c.Usage())
		return subcommands.ExitUsageError
	}

	cfg, err := c.flags.load()
	if err != nil {
		return finish(stderr, err)
	}
	log := logging.NewWithOutput(stderr, cfg.LogLevel, cfg.LogFormat)

	file, err := os.Open(f.Arg(0))
	if err != nil {
		return finish(stderr, ioError(err))
	}
	defer file.Close()

	return finish(stderr, process(ctx, cfg, log, file, stdoutOr(c.stdout)))
}

// process runs one batch from in and writes the account report to out.
func process(ctx context.Context, cfg *config.Config, log *logrus.Logger, in io.Reader, out io.Writer) error {
	registry := backend.NewRegistry()
	store, err := registry.Open(ctx, cfg.Store, cfg.StoreConfig())
	if err != nil {
		return ioError(err)
	}
	defer store.Close()

	runID := batch.NewRunID()
	runLog := log.WithField("run_id", runID)

	collector := metrics.NewCollector()
	collector.StartRun(runID, cfg.Store)

	opts := []ledger.Option{ledger.WithMaxRetries(cfg.MaxRetries)}
	if cfg.JournalEnabled {
		journal, err := backend.OpenJournal(cfg.JournalConfig(runID))
		if err != nil {
			return ioError(err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				runLog.WithError(err).Warn("flushing journal")
			}
		}()
		opts = append(opts, ledger.WithJournal(journal))
	}

	svc := ledger.NewService(
		metrics.InstrumentAccounts(store.Accounts(), collector),
		metrics.InstrumentTransactions(store.Transactions(), collector),
		runLog,
		opts...,
	)

	reader, err := ingest.NewReader(in)
	if err != nil {
		return dataError(err)
	}

	runner := &batch.Runner{Service: svc, Log: log, Metrics: collector, RunID: runID}
	if _, err := runner.Run(ctx, reader); err != nil {
		return err
	}

	accounts, err := svc.Accounts(ctx)
	if err != nil {
		return ioError(err)
	}
	if err := writeReport(out, cfg.Output, report.Rows(accounts)); err != nil {
		return ioError(err)
	}

	if result := collector.EndRun(); result != nil {
		runLog.WithFields(logrus.Fields(result.Summary)).Debug("repository metrics")
	}
	return nil
}

func writeReport(out io.Writer, format string, rows []report.Row) error {
	if format == "table" {
		report.WriteTable(out, rows)
		return nil
	}
	return report.WriteCSV(out, rows)
}
