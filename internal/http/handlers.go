package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/initiatives"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/retrieval"
)

func actor(c echo.Context) string {
	if a := strings.TrimSpace(c.Request().Header.Get(ActorHeader)); a != "" {
		return a
	}
	return defaultActor
}

// pathParam returns an unescaped path parameter. Values that fail to
// unescape are returned as matched.
func pathParam(c echo.Context, name string) string {
	v := c.Param(name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// intQuery parses an optional integer query parameter.
func intQuery(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return n, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func (s *Server) handleListDocuments(c echo.Context) error {
	page, err := intQuery(c, "page")
	if err != nil {
		return err
	}
	size, err := intQuery(c, "page_size")
	if err != nil {
		return err
	}

	p, err := s.deps.Documents.ListItems(c.Request().Context(), page, size)
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing documents failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list documents")
	}
	return c.JSON(http.StatusOK, ListDocumentsResponse{Page: p, Text: knowledge.FormatPage(p)})
}

func (s *Server) handleAddDocument(c echo.Context) error {
	var req AddDocumentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.deps.Documents.AddItem(c.Request().Context(), req.Title, req.Content, actor(c))
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.deps.Documents.Get(c.Request().Context(), pathParam(c, "title"))
	if errors.Is(err, knowledge.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "reading document failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not read document")
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(c echo.Context) error {
	var req UpdateDocumentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.deps.Documents.UpdateItem(c.Request().Context(), pathParam(c, "title"), req.Content, actor(c))
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRemoveDocument(c echo.Context) error {
	res := s.deps.Documents.RemoveItem(c.Request().Context(), pathParam(c, "title"))
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRenameDocument(c echo.Context) error {
	var req RenameDocumentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.deps.Documents.RenameItem(c.Request().Context(), pathParam(c, "title"), req.NewTitle, actor(c))
	return c.JSON(http.StatusOK, res)
}

func (s *Server) searchParams(c echo.Context) (string, int, error) {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return "", 0, echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		return "", 0, err
	}
	if limit <= 0 {
		limit = s.config.SearchLimit
	}
	return q, limit, nil
}

func (s *Server) handleSearch(c echo.Context) error {
	q, limit, err := s.searchParams(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Search.Search(c.Request().Context(), q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search canceled")
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: res, Context: retrieval.FormatContext(res)})
}

func (s *Server) handleListInitiatives(c echo.Context) error {
	entries, err := s.deps.Initiatives.List(c.Request().Context(), c.QueryParam("status"))
	if errors.Is(err, initiatives.ErrInvalidStatus) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing initiatives failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list initiatives")
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleAddInitiative(c echo.Context) error {
	var d initiatives.Draft
	if err := bind(c, &d); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.deps.Initiatives.AddInitiative(c.Request().Context(), d, actor(c)))
}

func (s *Server) handleSearchInitiatives(c echo.Context) error {
	q, limit, err := s.searchParams(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.deps.Initiatives.SearchLexical(c.Request().Context(), q, limit))
}

func (s *Server) handleSetInitiativeStatus(c echo.Context) error {
	var req SetStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.deps.Initiatives.SetStatusResult(c.Request().Context(), pathParam(c, "name"), req.Status, actor(c))
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRemoveInitiative(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Initiatives.RemoveInitiative(c.Request().Context(), pathParam(c, "name")))
}

func (s *Server) handleBackfill(c echo.Context) error {
	ctx := c.Request().Context()
	if c.QueryParam("if_needed") == "true" {
		res, ran := s.deps.Backfill.BackfillIfNeeded(ctx)
		return c.JSON(http.StatusOK, BackfillResponse{Result: res, Ran: ran})
	}
	return c.JSON(http.StatusOK, BackfillResponse{Result: s.deps.Backfill.BackfillAll(ctx), Ran: true})
}
