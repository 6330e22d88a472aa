package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/txfeed/client"
	"github.com/urfave/cli/v2"
)

var networkFlag = &cli.StringFlag{
	Name:  "network",
	Usage: "Solana network (mainnet, devnet)",
	Value: "mainnet",
}

func walletRegisterCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Usage:     "Start ingesting records for a wallet",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			networkFlag,
			&cli.DurationFlag{
				Name:    "poll-interval",
				Aliases: []string{"i"},
				Usage:   "Polling interval (server default when 0)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			w, err := cl.Register(c.Context, c.Args().First(), c.String("network"), c.Duration("poll-interval"))
			if err != nil {
				return fmt.Errorf("failed to register wallet: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(stdout(c), w)
			}
			fmt.Fprintf(stdout(c), "✓ Registered %s on %s (every %v)\n", w.Address, w.Network, w.PollInterval)
			return nil
		},
	}
}

func walletUnregisterCommand() *cli.Command {
	return &cli.Command{
		Name:      "unregister",
		Usage:     "Stop ingesting records for a wallet",
		ArgsUsage: "<address>",
		Flags:     []cli.Flag{networkFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			if err := cl.Unregister(c.Context, c.Args().First(), c.String("network")); err != nil {
				return fmt.Errorf("failed to unregister wallet: %w", err)
			}
			fmt.Fprintf(stdout(c), "✓ Unregistered %s\n", c.Args().First())
			return nil
		},
	}
}

func walletGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a registered wallet",
		ArgsUsage: "<address>",
		Flags:     []cli.Flag{networkFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			w, err := cl.Get(c.Context, c.Args().First(), c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(stdout(c), w)
			}
			printWalletDetail(stdout(c), w)
			return nil
		},
	}
}

func walletListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List registered wallets",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			wallets, err := cl.List(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(stdout(c), wallets)
			}

			tw := tabwriter.NewWriter(stdout(c), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tNETWORK\tSTATUS\tPOLL INTERVAL\tLAST POLL")
			for _, w := range wallets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", w.Address, w.Network, w.Status, w.PollInterval, formatTime(w.LastPollTime))
			}
			tw.Flush()
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d wallets\n", len(wallets))
			return nil
		},
	}
}

func printWalletDetail(w io.Writer, wallet *client.Wallet) {
	fmt.Fprintf(w, "Address:        %s\n", wallet.Address)
	fmt.Fprintf(w, "Network:        %s\n", wallet.Network)
	fmt.Fprintf(w, "Status:         %s\n", wallet.Status)
	fmt.Fprintf(w, "Poll Interval:  %v\n", wallet.PollInterval)
	fmt.Fprintf(w, "Last Poll:      %s\n", formatTime(wallet.LastPollTime))
	if wallet.LastSignature != nil {
		fmt.Fprintf(w, "Last Signature: %s\n", *wallet.LastSignature)
	}
	fmt.Fprintf(w, "Created:        %s\n", wallet.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:        %s\n", wallet.UpdatedAt.Format(time.RFC3339))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
