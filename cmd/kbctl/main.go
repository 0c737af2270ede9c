// Package main implements kbctl, a CLI for manual operations against the
// knowledged HTTP API.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version information
var version = "dev"

// options are the persistent flags shared by every command.
type options struct {
	server  string
	actor   string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "kbctl",
		Short: "CLI for knowledged HTTP API operations",
		Long: `kbctl is a command-line interface for the knowledged HTTP API.
It adds, updates, removes and lists knowledge base documents, runs searches,
triggers backfills and checks server health.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:9191", "knowledged server URL")
	root.PersistentFlags().StringVar(&opts.actor, "actor", defaultActor(), "user recorded as the author of changes")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newAddCmd(opts),
		newUpdateCmd(opts),
		newRemoveCmd(opts),
		newRenameCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newSearchCmd(opts),
		newBackfillCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

// defaultActor is $USER, or "kbctl" when unset.
func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "kbctl"
}
