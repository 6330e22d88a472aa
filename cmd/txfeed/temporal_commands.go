package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/brojonat/txfeed/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List the ingestion schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			iter, err := tc.SDKClient().ScheduleClient().List(c.Context, client.ScheduleListOptions{
				PageSize: 100,
			})
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			tw := tabwriter.NewWriter(stdout(c), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SCHEDULE ID\tPAUSED\tNEXT RUN")
			count := 0
			for iter.HasNext() {
				s, err := iter.Next()
				if err != nil {
					return fmt.Errorf("failed to iterate schedules: %w", err)
				}
				next := "-"
				if len(s.NextActionTimes) > 0 {
					next = s.NextActionTimes[0].Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%v\t%s\n", s.ID, s.Paused, next)
				count++
			}
			tw.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d schedules\n", count)
			return nil
		},
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Run one ingestion of a wallet now and wait for the result",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			networkFlag,
			&cli.BoolFlag{Name: "async", Usage: "Print the workflow ID without waiting"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			id, err := tc.StartIngest(c.Context, c.Args().First(), c.String("network"))
			if err != nil {
				return err
			}
			if c.Bool("async") {
				fmt.Fprintln(stdout(c), id)
				return nil
			}

			fmt.Fprintf(c.App.ErrWriter, "Waiting for %s...\n", id)
			result, err := tc.WaitIngest(c.Context, id)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(stdout(c), result)
			}
			printIngestResult(stdout(c), result)
			return nil
		},
	}
}

func printIngestResult(w io.Writer, r *temporal.IngestWalletResult) {
	fmt.Fprintf(w, "Address:   %s\n", r.Address)
	fmt.Fprintf(w, "Fetched:   %d\n", r.Fetched)
	fmt.Fprintf(w, "Inserted:  %d\n", r.Inserted)
	fmt.Fprintf(w, "Updated:   %d\n", r.Updated)
	fmt.Fprintf(w, "Skipped:   %d\n", r.Skipped)
	fmt.Fprintf(w, "Expired:   %d\n", r.Expired)
	if r.NewestSignature != nil {
		fmt.Fprintf(w, "Newest:    %s\n", *r.NewestSignature)
	}
	if r.Error != nil {
		fmt.Fprintf(w, "Error:     %s\n", *r.Error)
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level}))

	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
}
