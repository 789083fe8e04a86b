package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/backend"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/config"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// Exit statuses beyond those of subcommands, following sysexits.h.
const (
	exitDataError subcommands.ExitStatus = 65
	exitIOError   subcommands.ExitStatus = 74
)

// exitError carries the exit status a failure maps to.
type exitError struct {
	status subcommands.ExitStatus
	err    error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func ioError(err error) error   { return &exitError{status: exitIOError, err: err} }
func dataError(err error) error { return &exitError{status: exitDataError, err: err} }
func usageError(err error) error {
	return &exitError{status: subcommands.ExitUsageError, err: err}
}

// exitStatus maps err to the process exit status. Fatal ledger errors are
// data errors; anything unclassified is treated as an I/O failure.
func exitStatus(err error) subcommands.ExitStatus {
	if err == nil {
		return subcommands.ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.status
	}
	var pe *ledger.ProcessingError
	if errors.As(err, &pe) {
		return exitDataError
	}
	return exitIOError
}

// finish prints err and returns its exit status.
func finish(stderr io.Writer, err error) subcommands.ExitStatus {
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitStatus(err)
}

// configFlags are the command-line overrides of the environment settings.
type configFlags struct {
	store   string
	retries int
	output  string
	journal bool
}

func (c *configFlags) register(f *flag.FlagSet) {
	f.StringVar(&c.store, "store", "", "Storage backend, one of "+strings.Join(backend.NewRegistry().Names(), ", ")+". Overrides LEDGER_STORE.")
	f.IntVar(&c.retries, "retries", 0, "Compare-and-swap retry budget per step. Overrides LEDGER_MAX_RETRIES.")
	f.StringVar(&c.output, "o", "", "Output format: csv or table. Overrides LEDGER_OUTPUT.")
	f.BoolVar(&c.journal, "journal", false, "Record every outcome in the Timestream journal. Implied by JOURNAL_ENABLED=true.")
}

// load reads the environment and applies the flags on top.
func (c *configFlags) load() (*config.Config, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, usageError(err)
	}
	if c.store != "" {
		cfg.Store = c.store
	}
	if c.retries != 0 {
		cfg.MaxRetries = c.retries
	}
	if c.output != "" {
		cfg.Output = c.output
	}
	if c.journal {
		cfg.JournalEnabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

func stdoutOr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
