package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the knowledged HTTP API until interrupted.

A throttled backfill runs at startup so documents written while the vector
index was unavailable become searchable again.

Examples:
  # Start with the default config file
  knowledged serve

  # Override the port
  KNOWLEDGED_SERVER_HTTP_PORT=9292 knowledged serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Serve the knowledge base as MCP tools over stdin/stdout.

Logs go to stderr so stdout carries only protocol messages. Mutations are
attributed to the "mcp" actor.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

var backfillIfNeeded bool

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-index every document",
	Long: `Re-chunk and re-embed every document, replacing its vectors.

Examples:
  # Re-index everything now
  knowledged backfill

  # Skip if a backfill ran within the cooldown
  knowledged backfill --if-needed`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().BoolVar(&backfillIfNeeded, "if-needed", false, "skip when a backfill ran within the cooldown")
}

// runServe handles the serve command
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info(cmd.Context(), "starting knowledged",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Address()),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))
	if err := a.serve(cmd.Context()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	a.logger.Info(cmd.Context(), "server shutdown complete")
	return nil
}

// runMCP handles the mcp command
func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{logToStderr: true})
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := a.mcpServer()
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Run(cmd.Context())
}

// runBackfill handles the backfill command
func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{logToStderr: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if backfillIfNeeded {
		res, _ := a.backfill.BackfillIfNeeded(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		if !res.Success {
			return errors.New("backfill did not complete")
		}
		return nil
	}

	res := a.backfill.BackfillAll(cmd.Context())
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	for _, f := range res.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", f.Title, f.Error)
	}
	if !res.Success {
		return errors.New("backfill did not complete")
	}
	return nil
}
