package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/feed"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(stdout(c), "✓ Schema applied")
			return nil
		},
	}
}

func listWalletsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-wallets",
		Usage: "List all registered wallets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (active, paused, error)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallets, err := store.ListWallets(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}

			if status := c.String("status"); status != "" {
				filtered := make([]*db.Wallet, 0, len(wallets))
				for _, w := range wallets {
					if w.Status == status {
						filtered = append(filtered, w)
					}
				}
				wallets = filtered
			}

			if c.Bool("json") {
				return outputJSON(stdout(c), wallets)
			}

			tw := tabwriter.NewWriter(stdout(c), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tNETWORK\tSTATUS\tPOLL INTERVAL\tLAST POLL\tCREATED")
			for _, w := range wallets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\t%s\n",
					w.Address,
					w.Network,
					w.Status,
					w.PollInterval,
					formatTime(w.LastPollTime),
					w.CreatedAt.Format(time.RFC3339),
				)
			}
			tw.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d wallets\n", len(wallets))
			return nil
		},
	}
}

func listRecordsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-records",
		Usage:     "List the stored records of a wallet, newest first",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			address := c.Args().First()
			records, err := store.ListRecords(c.Context, db.ListRecordsParams{
				WalletAddress: address,
				Limit:         int32(c.Int("limit")),
				Offset:        int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(stdout(c), records)
			}

			tw := tabwriter.NewWriter(stdout(c), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tKIND\tSTATUS\tHASH\tDETAIL")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.Timestamp.UTC().Format(time.RFC3339),
					r.Kind,
					r.Status,
					r.Hash,
					recordDetail(r),
				)
			}
			tw.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nShowing %d records for %s\n", len(records), address)
			return nil
		},
	}
}

func expirePendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "expire-pending",
		Usage: "Mark standby records older than a cutoff as Failed",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Age after which a Pending record is failed",
				Value: time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Duration("older-than") <= 0 {
				return fmt.Errorf("older-than must be positive")
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			n, err := store.FailStalePending(c.Context, time.Now().Add(-c.Duration("older-than")))
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout(c), "✓ Expired %d pending records\n", n)
			return nil
		},
	}
}

func recordDetail(r feed.Record) string {
	switch {
	case r.Transfer != nil:
		return fmt.Sprintf("%s %s %s", r.Transfer.Type, r.Transfer.Amount, r.Transfer.Address)
	case r.Exchange != nil:
		return fmt.Sprintf("%s -> %s", r.Exchange.MakerAmount, r.Exchange.TakerAmount)
	}
	return ""
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool), pool.Close, nil
}
