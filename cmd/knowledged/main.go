// Knowledged serves a team knowledge base with hybrid semantic and lexical
// search.
//
// The daemon keeps documents and initiatives in a key-value store and their
// chunk embeddings in a vector index. It exposes them over an HTTP API or as
// MCP tools on stdio.
//
// Configuration is loaded from ~/.config/knowledged/config.yaml (or --config)
// and overridden by KNOWLEDGED_* environment variables. See internal/config.
//
// Usage:
//
//	# Start the HTTP API
//	knowledged serve
//
//	# Serve MCP tools on stdio
//	knowledged mcp
//
//	# Re-index every document once
//	knowledged backfill
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "knowledged",
	Short: "Knowledge base daemon with hybrid search",
	Long: `knowledged stores team documents and initiatives, indexes document chunks
as embeddings, and answers searches that combine semantic and lexical matches.

It runs either as an HTTP API (serve) or as an MCP tool server on stdio (mcp).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/knowledged/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd.OutOrStdout())
	},
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "knowledged by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// loadConfig reads the config selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
