package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/brojonat/txfeed/client"
	"github.com/brojonat/txfeed/service/limits"
	"github.com/urfave/cli/v2"
)

var verifiedFlag = &cli.BoolFlag{
	Name:  "verified",
	Usage: "Treat the wallet's phone number as verified",
}

func limitsCommand() *cli.Command {
	return &cli.Command{
		Name:      "limits",
		Usage:     "Show the send-limit screen of a wallet",
		ArgsUsage: "<address>",
		Flags:     []cli.Flag{verifiedFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			s, err := cl.Limits(c.Context, c.Args().First(), c.Bool("verified"))
			if err != nil {
				return fmt.Errorf("failed to load limits: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(stdout(c), s)
			}
			printScreen(stdout(c), s)
			return nil
		},
	}
}

func requestLimitCommand() *cli.Command {
	return &cli.Command{
		Name:      "request-limit",
		Usage:     "Apply for a higher send limit",
		ArgsUsage: "<address>",
		Flags:     []cli.Flag{verifiedFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			s, err := cl.RequestLimit(c.Context, c.Args().First(), c.Bool("verified"))
			if err != nil {
				return fmt.Errorf("failed to request limit: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(stdout(c), s)
			}
			printScreen(stdout(c), s)
			return nil
		},
	}
}

func bankSyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "bank-sync",
		Usage:     "Link a bank account to a wallet",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "public-token", Usage: "Plaid public token", Required: true},
			&cli.StringFlag{Name: "account-mtw", Usage: "Account multi-token wallet address"},
			&cli.StringFlag{Name: "institution", Usage: "Institution name"},
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Wait for the sync to finish"},
			&cli.DurationFlag{Name: "timeout", Value: 2 * time.Minute, Usage: "How long --wait waits"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			b, err := cl.StartBankSync(c.Context, client.BankSyncRequest{
				WalletAddress:     c.Args().First(),
				AccountMTWAddress: c.String("account-mtw"),
				PublicToken:       c.String("public-token"),
				Institution:       c.String("institution"),
			})
			if err != nil {
				return fmt.Errorf("failed to start bank sync: %w", err)
			}

			if c.Bool("wait") {
				ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
				defer cancel()
				b, err = cl.AwaitBankSync(ctx, b.WorkflowID, time.Second)
				if err != nil {
					return fmt.Errorf("bank sync did not finish: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(stdout(c), b)
			}
			printBankSync(stdout(c), b)
			return nil
		},
	}
}

func bankStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "bank-status",
		Usage:     "Show the state of a bank sync",
		ArgsUsage: "<workflow-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow ID")
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			b, err := cl.BankSyncStatus(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get bank sync: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(stdout(c), b)
			}
			printBankSync(stdout(c), b)
			return nil
		},
	}
}

func printScreen(w io.Writer, s *limits.Screen) {
	if s.Unlimited {
		fmt.Fprintf(w, "Daily limit:  unlimited\n")
	} else {
		fmt.Fprintf(w, "Daily limit:  %s %s\n", s.DailyLimit.StringFixed(2), s.Currency)
		fmt.Fprintf(w, "Remaining:    %s %s\n", s.Remaining.StringFixed(2), s.Currency)
	}
	if s.Application != nil {
		fmt.Fprintf(w, "Application:  %s\n", s.Application.Title)
		fmt.Fprintf(w, "              %s\n", s.Application.Description)
	}
	if s.Button != nil {
		fmt.Fprintf(w, "Next step:    %s\n", s.Button.Label)
	}
}

func printBankSync(w io.Writer, b *client.BankSync) {
	fmt.Fprintf(w, "Workflow ID:  %s\n", b.WorkflowID)
	fmt.Fprintf(w, "Status:       %s\n", b.Status)
	if b.BankAccountID != nil {
		fmt.Fprintf(w, "Account:      %s\n", *b.BankAccountID)
	}
	if b.Error != nil {
		fmt.Fprintf(w, "Error:        %s\n", *b.Error)
	}
}
