package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/backend"
	"github.com/pedro-hbl/lambda-gopher-ledger/internal/logging"
)

// initStoreCmd holds the flags for the 'init-store' subcommand.
type initStoreCmd struct {
	flags configFlags

	stderr io.Writer
}

func (*initStoreCmd) Name() string     { return "init-store" }
func (*initStoreCmd) Synopsis() string { return "create the tables of the selected store" }
func (*initStoreCmd) Usage() string {
	return `ledger init-store [-store <backend>] [-journal]

  Creates the account and transaction tables of the store if they do not
  exist yet. With -journal, also creates the Timestream journal database
  and table.
`
}

func (c *initStoreCmd) SetFlags(f *flag.FlagSet) {
	c.flags.register(f)
}

func (c *initStoreCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	stderr := c.stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	cfg, err := c.flags.load()
	if err != nil {
		return finish(stderr, err)
	}
	log := logging.NewWithOutput(stderr, cfg.LogLevel, cfg.LogFormat).WithField("store", cfg.Store)

	created, err := backend.NewRegistry().CreateSchema(ctx, cfg.Store, cfg.StoreConfig())
	if err != nil {
		return finish(stderr, ioError(err))
	}
	if created {
		log.Info("store schema ready")
	} else {
		log.Info("store has no schema to create")
	}

	if cfg.JournalEnabled {
		journal, err := backend.OpenJournal(cfg.JournalConfig(""))
		if err != nil {
			return finish(stderr, ioError(err))
		}
		if err := journal.EnsureSchema(ctx); err != nil {
			return finish(stderr, ioError(fmt.Errorf("journal: %w", err)))
		}
		log.WithField("database", cfg.TimestreamDatabase).Info("journal schema ready")
	}
	return subcommands.ExitSuccess
}
