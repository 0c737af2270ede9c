package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	khttp "github.com/fyrsmithlabs/knowledged/internal/http"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
)

func newAddCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title> [file]",
		Short: "Add a document",
		Long: `Add a document to the knowledge base. Content is read from file, or from
stdin when file is "-" or omitted.

Examples:
  # Add a file
  kbctl add "Deploy Runbook" runbook.md

  # Add from stdin
  cat notes.txt | kbctl add "Meeting Notes"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, args, 1)
			if err != nil {
				return err
			}
			var res knowledge.Result
			req := khttp.AddDocumentRequest{Title: args[0], Content: content}
			if err := newClient(opts).do(cmd.Context(), http.MethodPost, "/api/v1/documents", nil, req, &res); err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
}

func newUpdateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "update <title> [file]",
		Short: "Replace a document's content",
		Long: `Replace the content of an existing document. Content is read from file, or
from stdin when file is "-" or omitted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, args, 1)
			if err != nil {
				return err
			}
			var res knowledge.Result
			req := khttp.UpdateDocumentRequest{Content: content}
			if err := newClient(opts).do(cmd.Context(), http.MethodPut, documentPath(args[0]), nil, req, &res); err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
}

func newRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <title>",
		Aliases: []string{"rm"},
		Short:   "Remove a document",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res knowledge.Result
			if err := newClient(opts).do(cmd.Context(), http.MethodDelete, documentPath(args[0]), nil, nil, &res); err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
}

func newRenameCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <title> <new-title>",
		Short: "Rename a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res knowledge.Result
			req := khttp.RenameDocumentRequest{NewTitle: args[1]}
			if err := newClient(opts).do(cmd.Context(), http.MethodPost, documentPath(args[0])+"/rename", nil, req, &res); err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <title>",
		Short: "Print a document's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc knowledge.Document
			if err := newClient(opts).do(cmd.Context(), http.MethodGet, documentPath(args[0]), nil, nil, &doc); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.Content)
			return nil
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List documents",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if page > 0 {
				q.Set("page", strconv.Itoa(page))
			}
			if pageSize > 0 {
				q.Set("page_size", strconv.Itoa(pageSize))
			}
			var resp khttp.ListDocumentsResponse
			if err := newClient(opts).do(cmd.Context(), http.MethodGet, "/api/v1/documents", q, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page number (1-based)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "documents per page (server default when 0)")
	return cmd
}

// readContent reads args[i] as a file, or stdin when it is "-" or absent.
func readContent(cmd *cobra.Command, args []string, i int) (string, error) {
	var (
		content []byte
		err     error
	)
	if len(args) <= i || args[i] == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[i])
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", args[i], err)
		}
	}
	if len(content) == 0 {
		return "", errors.New("no content provided")
	}
	return string(content), nil
}

// printResult prints a successful result; a failed one becomes the command
// error.
func printResult(cmd *cobra.Command, res knowledge.Result) error {
	if !res.Success {
		return errors.New(res.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}
