package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/backend"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/config"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/report"
)

// auditCmd holds the flags for the 'audit' subcommand.
type auditCmd struct {
	since time.Duration
	runID string

	stdout io.Writer
	stderr io.Writer
}

func (*auditCmd) Name() string     { return "audit" }
func (*auditCmd) Synopsis() string { return "count journaled rejections by reason" }
func (*auditCmd) Usage() string {
	return `ledger audit [-since <duration>] [-run <run id>]

  Queries the Timestream journal and prints how many transactions were
  rejected for each reason.
`
}

func (c *auditCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.since, "since", 24*time.Hour, "How far back to look.")
	f.StringVar(&c.runID, "run", "", "Restrict the count to one batch run.")
}

func (c *auditCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	stderr := c.stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if c.since <= 0 {
		fmt.Fprint(stderr, c.Usage())
		return subcommands.ExitUsageError
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return finish(stderr, usageError(err))
	}
	journal, err := backend.OpenJournal(cfg.JournalConfig(c.runID))
	if err != nil {
		return finish(stderr, ioError(err))
	}

	counts, err := journal.RejectionCounts(ctx, time.Now().Add(-c.since), c.runID)
	if err != nil {
		return finish(stderr, ioError(err))
	}
	report.WriteCounts(stdoutOr(c.stdout), "reason", counts)
	return subcommands.ExitSuccess
}
