package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Migrate *MigrateCommand
	Flush   *FlushCommand
	Stats   *StatsCommand
	Record  *RecordCommand

	deps *deps
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "insight"
	parser.LongDescription = "Page view analytics: live counters in Redis, durable statistics in PostgreSQL."

	d := &deps{}
	cmds := &commands{
		Migrate: &MigrateCommand{globals: &globals, version: version, deps: d},
		Flush:   &FlushCommand{globals: &globals, version: version, deps: d},
		Stats:   &StatsCommand{globals: &globals, version: version, deps: d},
		Record:  &RecordCommand{globals: &globals, version: version, deps: d},
		deps:    d,
	}

	parser.AddCommand("migrate", "Migrate legacy view data",
		"Copy legacy view logs, normalize summary references, move model counter columns into the statistics table and register every tracked content type. Safe to re-run.",
		cmds.Migrate)
	parser.AddCommand("flush", "Flush live counters to durable statistics",
		"Write the growth of every live counter since the last flush into the statistics table, once or on a cron schedule.",
		cmds.Flush)
	parser.AddCommand("stats", "Show live view counts", "Show the live total and unique view counts of one object.", cmds.Stats)
	parser.AddCommand("record", "Record a page view", "Record one page view of an object, counting it as unique once per session.", cmds.Record)

	return parser, &globals, cmds
}

// Run is the main entry point for the insight CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// go-flags requires a subcommand, --version does not.
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("insight %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
