// Package http provides the knowledged HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/backfill"
	"github.com/fyrsmithlabs/knowledged/internal/initiatives"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/retrieval"
)

// ActorHeader names the user a mutation is attributed to.
const ActorHeader = "X-Actor"

const defaultActor = "api"

// Documents is the knowledge base as the API sees it.
type Documents interface {
	AddItem(ctx context.Context, title, content, actor string) knowledge.Result
	UpdateItem(ctx context.Context, title, content, actor string) knowledge.Result
	RemoveItem(ctx context.Context, title string) knowledge.Result
	RenameItem(ctx context.Context, oldTitle, newTitle, actor string) knowledge.Result
	Get(ctx context.Context, title string) (knowledge.Document, error)
	ListItems(ctx context.Context, page, pageSize int) (knowledge.Page, error)
}

// Initiatives is the initiative registry as the API sees it.
type Initiatives interface {
	AddInitiative(ctx context.Context, d initiatives.Draft, actor string) initiatives.Result
	SetStatusResult(ctx context.Context, name, status, actor string) initiatives.Result
	RemoveInitiative(ctx context.Context, name string) initiatives.Result
	List(ctx context.Context, status string) ([]initiatives.Entry, error)
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

// Deps are the services behind the API. Initiatives and Backfill are
// optional; their routes are only registered when set.
type Deps struct {
	Documents   Documents
	Search      Searcher
	Initiatives Initiatives
	Backfill    Backfiller

	// Registerer receives the HTTP metrics and Gatherer backs /metrics.
	// Both default to the prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	SearchLimit int
	Version     string
}

// Server provides HTTP endpoints for knowledged.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Documents == nil {
		return nil, fmt.Errorf("documents service cannot be nil")
	}
	if deps.Search == nil {
		return nil, fmt.Errorf("searcher cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9191}
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = retrieval.DefaultLimit
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(deps.Registerer)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestContext())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)

			return err
		}
	})
	e.Use(metrics.MetricsMiddleware())

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// requestContext copies the request ID and actor into the request context.
// Request and service log lines carry them as request.id and actor.
func requestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			ctx = logging.WithActor(ctx, strings.TrimSpace(req.Header.Get(ActorHeader)))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/documents", s.handleListDocuments)
	v1.POST("/documents", s.handleAddDocument)
	v1.GET("/documents/:title", s.handleGetDocument)
	v1.PUT("/documents/:title", s.handleUpdateDocument)
	v1.DELETE("/documents/:title", s.handleRemoveDocument)
	v1.POST("/documents/:title/rename", s.handleRenameDocument)
	v1.GET("/search", s.handleSearch)

	if s.deps.Initiatives != nil {
		v1.GET("/initiatives", s.handleListInitiatives)
		v1.POST("/initiatives", s.handleAddInitiative)
		v1.GET("/initiatives/search", s.handleSearchInitiatives)
		v1.PUT("/initiatives/:name/status", s.handleSetInitiativeStatus)
		v1.DELETE("/initiatives/:name", s.handleRemoveInitiative)
	}
	if s.deps.Backfill != nil {
		v1.POST("/backfill", s.handleBackfill)
	}
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.config.Version})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
