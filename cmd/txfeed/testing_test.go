package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/urfave/cli/v2"
)

// runApp runs the CLI against serverURL and returns what it wrote to stdout.
func runApp(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	argv := append([]string{"txfeed", "--server-url", serverURL}, args...)
	err := app.Run(argv)
	return out.String(), err
}
