package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "txfeed",
		Usage: "Wallet transaction feed service CLI",
		Description: `A command-line tool for the txfeed service.

Use this CLI to read presented feeds, register wallets, inspect the
database and drive ingestion workflows.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "feed",
				Usage: "Read and write a wallet's transaction feed over HTTP",
				Subcommands: []*cli.Command{
					feedShowCommand(),
					feedStreamCommand(),
					standbyCommand(),
					recipientCommand(),
				},
			},
			{
				Name:  "wallet",
				Usage: "Manage ingested wallets over HTTP",
				Subcommands: []*cli.Command{
					walletRegisterCommand(),
					walletUnregisterCommand(),
					walletGetCommand(),
					walletListCommand(),
				},
			},
			{
				Name:  "account",
				Usage: "Send limits and bank linking",
				Subcommands: []*cli.Command{
					limitsCommand(),
					requestLimitCommand(),
					bankSyncCommand(),
					bankStatusCommand(),
				},
			},
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listWalletsCommand(),
					listRecordsCommand(),
					expirePendingCommand(),
				},
			},
			{
				Name:  "temporal",
				Usage: "Temporal inspection and management commands",
				Subcommands: []*cli.Command{
					listSchedulesCommand(),
					ingestCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "txfeed",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "txfeed server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log client requests to stderr",
			},
		},
	}
}
