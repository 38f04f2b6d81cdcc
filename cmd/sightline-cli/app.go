package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/socketrpc"
)

// explorerClient is the socket client surface the commands use.
type explorerClient interface {
	model.ExplorerAPI
	Close() error
}

// app carries global flags and the client factory shared by every command.
type app struct {
	socketPath string
	output     string
	timeout    time.Duration
	out        io.Writer
	dial       func(socketPath string) (explorerClient, error)
}

func newApp(out io.Writer) *app {
	return &app{
		out: out,
		dial: func(path string) (explorerClient, error) {
			return socketrpc.Dial(path)
		},
	}
}

// withClient dials the server, runs fn and closes the connection.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c explorerClient) error) error {
	if _, err := newPrinter(a.output, a.out); err != nil {
		return err
	}
	c, err := a.dial(a.socketPath)
	if err != nil {
		return fmt.Errorf("is the sightline server running? %w", err)
	}
	defer c.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

func (a *app) printer() *printer {
	p, _ := newPrinter(a.output, a.out)
	return p
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sightline-cli",
		Short: "Query a running sightline server",
		Long: `sightline-cli talks to a running sightline server over its Unix socket.

Example:
  sightline-cli compose "source=logs | where status=500" --start now-1h
  sightline-cli search "source=logs" --pattern-field message
  sightline-cli live start --tab <id> --interval 10s
  sightline-cli history --limit 20 -o yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.socketPath, "socket", socketrpc.DefaultSocketPath(), "server socket path")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format (table|json|yaml)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 60*time.Second, "request timeout (0 disables)")

	root.AddCommand(newComposeCommand(a))
	root.AddCommand(newSearchCommand(a))
	root.AddCommand(newPatternsCommand(a))
	root.AddCommand(newLiveCommand(a))
	root.AddCommand(newTabCommand(a))
	root.AddCommand(newHistoryCommand(a))
	return root
}
