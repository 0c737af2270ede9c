// Package mcp exposes the knowledge base and initiative registry as MCP
// tools over stdio, using github.com/modelcontextprotocol/go-sdk/mcp.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/knowledged/internal/backfill"
	"github.com/fyrsmithlabs/knowledged/internal/initiatives"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/retrieval"
)

// Documents is the knowledge base as the tools see it.
type Documents interface {
	AddItem(ctx context.Context, title, content, actor string) knowledge.Result
	UpdateItem(ctx context.Context, title, content, actor string) knowledge.Result
	RemoveItem(ctx context.Context, title string) knowledge.Result
	RenameItem(ctx context.Context, oldTitle, newTitle, actor string) knowledge.Result
	Get(ctx context.Context, title string) (knowledge.Document, error)
	ListItems(ctx context.Context, page, pageSize int) (knowledge.Page, error)
}

// Initiatives is the initiative registry as the tools see it.
type Initiatives interface {
	AddInitiative(ctx context.Context, d initiatives.Draft, actor string) initiatives.Result
	SetStatusResult(ctx context.Context, name, status, actor string) initiatives.Result
	SearchLexical(ctx context.Context, query string, limit int) []initiatives.SearchResult
}

// Searcher runs combined searches.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (retrieval.Results, error)
}

// Backfiller runs reconciliation.
type Backfiller interface {
	BackfillAll(ctx context.Context) backfill.Result
	BackfillIfNeeded(ctx context.Context) (backfill.Result, bool)
}

// Deps are the services behind the tools. Initiatives and Backfill are
// optional; their tools are only registered when set.
type Deps struct {
	Documents   Documents
	Search      Searcher
	Initiatives Initiatives
	Backfill    Backfiller
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "knowledged").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// Actor is recorded as the author of every mutation (default: "mcp").
	Actor string

	// SearchLimit applies when a search call gives no limit.
	SearchLimit int

	// Meter receives tool metrics. Nil uses the global meter provider.
	Meter metric.Meter

	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:        "knowledged",
		Version:     "dev",
		Actor:       "mcp",
		SearchLimit: retrieval.DefaultLimit,
		Logger:      logging.NewNop(),
	}
}

// Server is an MCP server backed directly by the knowledged services.
type Server struct {
	mcp     *mcp.Server
	deps    Deps
	cfg     *Config
	metrics *Metrics
	logger  *logging.Logger
}

// NewServer creates a new MCP server and registers its tools.
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Documents == nil {
		return nil, fmt.Errorf("documents service is required")
	}
	if deps.Search == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.Actor == "" {
		cfg.Actor = defaults.Actor
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = defaults.SearchLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{Name: cfg.Name, Version: cfg.Version},
			nil,
		),
		deps:    deps,
		cfg:     cfg,
		metrics: NewMetrics(cfg.Meter, cfg.Logger.Underlying()),
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves MCP on t. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
