package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	khttp "github.com/fyrsmithlabs/knowledged/internal/http"
)

func newSearchCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search documents and initiatives",
		Long: `Run a combined semantic and lexical search and print the context block.

Examples:
  kbctl search how do we deploy
  kbctl search --limit 3 "release pipeline"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"q": {strings.Join(args, " ")}}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			var resp khttp.SearchResponse
			if err := newClient(opts).do(cmd.Context(), http.MethodGet, "/api/v1/search", q, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Context)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results per kind (server default when 0)")
	return cmd
}

func newBackfillCmd(opts *options) *cobra.Command {
	var ifNeeded bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-index every document on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var q url.Values
			if ifNeeded {
				q = url.Values{"if_needed": {"true"}}
			}
			var resp khttp.BackfillResponse
			if err := newClient(opts).do(cmd.Context(), http.MethodPost, "/api/v1/backfill", q, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			for _, f := range resp.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", f.Title, f.Error)
			}
			if !resp.Success {
				return errors.New("backfill did not complete")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ifNeeded, "if-needed", false, "skip when a backfill ran within the cooldown")
	return cmd
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check knowledged server health",
		Long: `Check the health status of the knowledged HTTP server.

Examples:
  # Check health
  kbctl health

  # Check health on a different server
  kbctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp khttp.HealthResponse
			if err := newClient(opts).do(cmd.Context(), http.MethodGet, "/health", nil, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			if resp.Version != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", resp.Version)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", opts.server)
			return nil
		},
	}
}
