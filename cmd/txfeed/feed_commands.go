package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/txfeed/client"
	"github.com/brojonat/txfeed/service/feed"
	"github.com/urfave/cli/v2"
)

var feedFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "context",
		Aliases: []string{"c"},
		Usage:   "Presentation context (home, exchange)",
		Value:   "home",
	},
	&cli.IntFlag{
		Name:    "limit",
		Aliases: []string{"n"},
		Usage:   "Maximum records to present (server default when 0)",
	},
}

func feedOptions(c *cli.Context) (client.FeedOptions, error) {
	fc, err := feed.ParseContext(c.String("context"))
	if err != nil {
		return client.FeedOptions{}, err
	}
	if c.Int("limit") < 0 {
		return client.FeedOptions{}, fmt.Errorf("limit cannot be negative")
	}
	return client.FeedOptions{Context: fc, Limit: c.Int("limit")}, nil
}

func feedShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show the presented feed of a wallet",
		ArgsUsage: "<address>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON presentation",
			},
		}, feedFlags...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			opts, err := feedOptions(c)
			if err != nil {
				return err
			}
			code, err := compileJQ(c.String("jq"))
			if err != nil {
				return err
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}

			f, err := cl.Feed(c.Context, c.Args().First(), opts)
			if err != nil {
				return fmt.Errorf("failed to fetch feed: %w", err)
			}

			out := stdout(c)
			switch {
			case code != nil:
				return writeJQ(out, code, f)
			case c.Bool("json"):
				return outputJSON(out, f)
			}
			printFeed(out, f)
			return nil
		},
	}
}

func feedStreamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream presentation updates of a wallet's feed",
		ArgsUsage: "<address>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "until",
				Usage: "Stop once this jq filter is truthy for a presentation",
			},
		}, feedFlags...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			opts, err := feedOptions(c)
			if err != nil {
				return err
			}
			until, err := compileJQ(c.String("until"))
			if err != nil {
				return err
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errDone := errors.New("done")
			out := stdout(c)
			err = cl.StreamFeed(ctx, c.Args().First(), opts, func(f *client.Feed) error {
				if c.Bool("json") {
					b, err := json.Marshal(f)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(b))
				} else {
					printFeed(out, f)
					fmt.Fprintln(out)
				}

				if until == nil {
					return nil
				}
				results, err := runJQ(until, f)
				if err != nil {
					return err
				}
				if len(results) > 0 && isTruthy(results[0]) {
					return errDone
				}
				return nil
			})
			switch {
			case errors.Is(err, errDone), errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				return fmt.Errorf("stream failed: %w", err)
			}
			return nil
		},
	}
}

func standbyCommand() *cli.Command {
	return &cli.Command{
		Name:      "standby",
		Usage:     "Submit an optimistic Pending record for a wallet",
		ArgsUsage: "<address> <record-json|@file|->",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: wallet address and record JSON")
			}
			raw, err := readArg(c.Args().Get(1), os.Stdin)
			if err != nil {
				return err
			}

			var rec feed.Record
			if err := json.Unmarshal(withStandbyDefaults(raw), &rec); err != nil {
				return fmt.Errorf("invalid record: %w", err)
			}
			// Let the server stamp the submission time.
			if !hasField(raw, "timestamp") {
				rec.Timestamp = time.Time{}
			}
			if !hasField(raw, "hash") {
				rec.Hash = ""
			}

			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			stored, err := cl.Standby(c.Context, c.Args().First(), rec)
			if err != nil {
				return fmt.Errorf("failed to submit standby record: %w", err)
			}

			out := stdout(c)
			if c.Bool("json") {
				return outputJSON(out, stored)
			}
			fmt.Fprintf(out, "Standby record stored\n")
			fmt.Fprintf(out, "  Hash:      %s\n", stored.Hash)
			fmt.Fprintf(out, "  Status:    %s\n", stored.Status)
			fmt.Fprintf(out, "  Timestamp: %s\n", stored.Timestamp.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func recipientCommand() *cli.Command {
	return &cli.Command{
		Name:      "recipient",
		Usage:     "Set the display metadata of a counterparty address",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Display name", Required: true},
			&cli.StringFlag{Name: "phone", Usage: "E.164 phone number"},
			&cli.StringFlag{Name: "avatar", Usage: "Avatar URL"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: counterparty address")
			}
			cl, err := apiClient(c)
			if err != nil {
				return err
			}
			r, err := cl.UpsertRecipient(c.Context, feed.Recipient{
				Address:     c.Args().First(),
				DisplayName: c.String("name"),
				E164Number:  c.String("phone"),
				AvatarURL:   c.String("avatar"),
			})
			if err != nil {
				return fmt.Errorf("failed to set recipient: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(stdout(c), r)
			}
			fmt.Fprintf(stdout(c), "%s is now shown as %q\n", r.Address, r.DisplayName)
			return nil
		},
	}
}

// printFeed renders a presentation as a table, one block per section.
func printFeed(w io.Writer, f *client.Feed) {
	switch f.State {
	case feed.StateLoading:
		fmt.Fprintln(w, "Loading…")
		return
	case feed.StateEmpty:
		if f.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", f.Error)
			return
		}
		fmt.Fprintln(w, "No activity yet")
		return
	}

	if f.Error != "" {
		fmt.Fprintf(w, "Error: %s, showing earlier activity\n", f.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if f.State == feed.StateSectioned {
		for _, s := range f.Sections {
			fmt.Fprintf(tw, "%s\n", strings.ToUpper(s.Title))
			for _, item := range s.Items {
				printItem(tw, item)
			}
		}
	} else {
		for _, item := range f.Items {
			printItem(tw, item)
		}
	}
	tw.Flush()
}

func printItem(w io.Writer, item feed.Item) {
	at := time.UnixMilli(item.Timestamp).UTC().Format("Jan 2 15:04")
	fmt.Fprintf(w, "  %s\t%s\t%s\t%s %s\t%s\n",
		at,
		item.Title,
		item.Subtitle,
		item.Amount.Value.StringFixed(2),
		item.Amount.CurrencyCode,
		item.Status,
	)
}

// readArg returns s itself, the contents of the file named by @path, or r
// when s is "-".
func readArg(s string, r io.Reader) ([]byte, error) {
	switch {
	case s == "-":
		return io.ReadAll(r)
	case strings.HasPrefix(s, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(s, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read record file: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}

// withStandbyDefaults fills the fields feed.Record requires so a partial
// record can be decoded locally; the server replaces them.
func withStandbyDefaults(raw []byte) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw
	}
	if !hasField(raw, "hash") {
		fields["hash"] = json.RawMessage(`"standby"`)
	}
	if !hasField(raw, "timestamp") {
		fields["timestamp"] = json.RawMessage(`0`)
	}
	fields["status"] = json.RawMessage(`"Pending"`)
	b, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return b
}

func hasField(raw []byte, name string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	v, ok := fields[name]
	return ok && string(v) != "null" && string(v) != `""`
}
