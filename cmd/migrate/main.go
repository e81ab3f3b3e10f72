package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/dvloznov/receipt-ledger/internal/config"
	"github.com/dvloznov/receipt-ledger/internal/history"
	"github.com/dvloznov/receipt-ledger/internal/logger"
)

// command is a parsed migrate invocation.
type command struct {
	name string
	arg  int
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: "up"}, nil
	}

	cmd := command{name: args[0]}
	switch cmd.name {
	case "up", "down", "version":
		if len(args) > 1 {
			return command{}, fmt.Errorf("%s takes no arguments", cmd.name)
		}
	case "steps", "force":
		if len(args) != 2 {
			return command{}, fmt.Errorf("%s requires exactly one integer argument", cmd.name)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return command{}, fmt.Errorf("%s: invalid number %q", cmd.name, args[1])
		}
		if cmd.name == "steps" && n == 0 {
			return command{}, fmt.Errorf("steps: n must not be zero")
		}
		cmd.arg = n
	default:
		return command{}, fmt.Errorf("unknown command %q", cmd.name)
	}
	return cmd, nil
}

func main() {
	dbPath := flag.String("db", "", "Path to the history database (defaults to HISTORY_DB_PATH)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db PATH] [up | down | version | steps N | force V]")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New()

	cmd, err := parseCommand(flag.Args())
	if err != nil {
		flag.Usage()
		log.Fatal().Err(err).Msg("Invalid arguments")
	}

	if *dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
		*dbPath = cfg.HistoryDBPath
	}
	if *dbPath == "" {
		log.Fatal().Msg("Error: -db is required when HISTORY_DB_PATH is empty")
	}

	mg, err := history.NewMigrator(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("Failed to open history database")
	}
	defer mg.Close()

	log.Info().Str("db", *dbPath).Str("command", cmd.name).Msg("Running migrations")

	switch cmd.name {
	case "up":
		err = mg.Up()
	case "down":
		err = mg.Down()
	case "steps":
		err = mg.Steps(cmd.arg)
	case "force":
		err = mg.Force(cmd.arg)
	}
	if err != nil {
		mg.Close()
		log.Fatal().Err(err).Msg("Migration failed")
	}

	version, dirty, ok, err := mg.Version()
	if err != nil {
		mg.Close()
		log.Fatal().Err(err).Msg("Failed to read schema version")
	}
	if !ok {
		fmt.Println("No migrations applied.")
		return
	}
	fmt.Printf("Schema version: %d (dirty: %t)\n", version, dirty)
}
