// Command ledger processes a CSV log of client transactions and prints the
// final state of every account.
//
//	ledger process transactions.csv > accounts.csv
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&processCmd{}, "ledger")
	commander.Register(&initStoreCmd{}, "ledger")
	commander.Register(&auditCmd{}, "journal")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
