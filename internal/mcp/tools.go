package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/backfill"
	"github.com/fyrsmithlabs/knowledged/internal/initiatives"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/retrieval"
)

// Tool names.
const (
	toolAdd              = "knowledge_add"
	toolUpdate           = "knowledge_update"
	toolRemove           = "knowledge_remove"
	toolRename           = "knowledge_rename"
	toolGet              = "knowledge_get"
	toolList             = "knowledge_list"
	toolSearch           = "knowledge_search"
	toolBackfill         = "knowledge_backfill"
	toolInitiativeAdd    = "initiative_add"
	toolInitiativeStatus = "initiative_status"
	toolInitiativeSearch = "initiative_search"
)

var errQueryRequired = errors.New("query is required")

type addInput struct {
	Title   string `json:"title" jsonschema:"Unique document title"`
	Content string `json:"content" jsonschema:"Document text"`
}

type updateInput struct {
	Title   string `json:"title" jsonschema:"Title of the document to replace"`
	Content string `json:"content" jsonschema:"New document text"`
}

type titleInput struct {
	Title string `json:"title" jsonschema:"Document title (case-insensitive)"`
}

type renameInput struct {
	Title    string `json:"title" jsonschema:"Current document title"`
	NewTitle string `json:"new_title" jsonschema:"New document title"`
}

type resultOutput struct {
	Success bool   `json:"success" jsonschema:"Whether the change was applied"`
	Message string `json:"message" jsonschema:"Outcome for the user"`
}

type getOutput struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	CharCount int    `json:"char_count"`
	AddedBy   string `json:"added_by"`
}

type listInput struct {
	Page     int `json:"page,omitempty" jsonschema:"1-indexed page (default: 1)"`
	PageSize int `json:"page_size,omitempty" jsonschema:"Documents per page (default: 10, max: 50)"`
}

type documentEntry struct {
	Title     string `json:"title"`
	CharCount int    `json:"char_count"`
	AddedBy   string `json:"added_by"`
}

type listOutput struct {
	Documents     []documentEntry `json:"documents"`
	Page          int             `json:"page"`
	TotalPages    int             `json:"total_pages"`
	Total         int             `json:"total"`
	TotalChars    int             `json:"total_chars"`
	MaxTotalChars int             `json:"max_total_chars"`
}

type searchInput struct {
	Query string `json:"query" jsonschema:"What to look for"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results per source (default: 5)"`
}

type documentHit struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type initiativeHit struct {
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Status  string `json:"status"`
	Snippet string `json:"snippet"`
	Score   int    `json:"score"`
}

type searchOutput struct {
	Documents   []documentHit   `json:"documents"`
	Initiatives []initiativeHit `json:"initiatives"`
}

type initiativeSearchOutput struct {
	Initiatives []initiativeHit `json:"initiatives"`
}

type initiativeAddInput struct {
	Name            string   `json:"name" jsonschema:"Unique initiative name"`
	Description     string   `json:"description,omitempty"`
	Owner           string   `json:"owner,omitempty"`
	ExpectedMetrics []string `json:"expected_metrics,omitempty" jsonschema:"Metrics the initiative should move"`
	PRDLink         string   `json:"prd_link,omitempty"`
	Status          string   `json:"status,omitempty" jsonschema:"proposed, active, paused, completed or cancelled (default: proposed)"`
}

type initiativeStatusInput struct {
	Name   string `json:"name" jsonschema:"Initiative name (case-insensitive)"`
	Status string `json:"status" jsonschema:"proposed, active, paused, completed or cancelled"`
}

type backfillInput struct {
	IfNeeded bool `json:"if_needed,omitempty" jsonschema:"Skip when a backfill ran within the cooldown"`
}

type backfillOutput struct {
	Ran     bool   `json:"ran"`
	Success bool   `json:"success"`
	Indexed int    `json:"indexed"`
	Failed  int    `json:"failed"`
	Chunks  int    `json:"chunks"`
	Message string `json:"message"`
}

// instrument wraps a tool handler with metrics and actor attribution.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		ctx = logging.WithActor(ctx, s.cfg.Actor)

		res, out, err := h(ctx, req, in)

		outcome := outcomeOK
		switch {
		case err != nil:
			outcome = outcomeError
			s.logger.Warn(ctx, "tool failed", zap.String("tool", name), zap.Error(err))
		case res != nil && res.IsError:
			outcome = outcomeRejected
		}
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, outcome, time.Since(start))
		return res, out, err
	}
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

func fromResult(r knowledge.Result) (*mcp.CallToolResult, resultOutput) {
	return textResult(r.Message, !r.Success), resultOutput{Success: r.Success, Message: r.Message}
}

func fromInitiativeResult(r initiatives.Result) (*mcp.CallToolResult, resultOutput) {
	return textResult(r.Message, !r.Success), resultOutput{Success: r.Success, Message: r.Message}
}

func initiativeHits(in []initiatives.SearchResult) []initiativeHit {
	out := make([]initiativeHit, 0, len(in))
	for _, r := range in {
		out = append(out, initiativeHit{
			Name:    r.Name,
			Owner:   r.Owner,
			Status:  string(r.Status),
			Snippet: r.Snippet,
			Score:   r.Score,
		})
	}
	return out
}

func (s *Server) registerTools() {
	s.registerDocumentTools()
	s.registerSearchTools()
	if s.deps.Initiatives != nil {
		s.registerInitiativeTools()
	}
	if s.deps.Backfill != nil {
		s.registerBackfillTool()
	}
}

func (s *Server) registerDocumentTools() {
	docs := s.deps.Documents

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolAdd,
		Description: "Add a document to the knowledge base. Titles are unique regardless of case.",
	}, instrument(s, toolAdd, func(ctx context.Context, _ *mcp.CallToolRequest, args addInput) (*mcp.CallToolResult, resultOutput, error) {
		res, out := fromResult(docs.AddItem(ctx, args.Title, args.Content, s.cfg.Actor))
		return res, out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolUpdate,
		Description: "Replace the content of an existing document and re-index it.",
	}, instrument(s, toolUpdate, func(ctx context.Context, _ *mcp.CallToolRequest, args updateInput) (*mcp.CallToolResult, resultOutput, error) {
		res, out := fromResult(docs.UpdateItem(ctx, args.Title, args.Content, s.cfg.Actor))
		return res, out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolRemove,
		Description: "Remove a document and its search index entries.",
	}, instrument(s, toolRemove, func(ctx context.Context, _ *mcp.CallToolRequest, args titleInput) (*mcp.CallToolResult, resultOutput, error) {
		res, out := fromResult(docs.RemoveItem(ctx, args.Title))
		return res, out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolRename,
		Description: "Rename a document, keeping its content.",
	}, instrument(s, toolRename, func(ctx context.Context, _ *mcp.CallToolRequest, args renameInput) (*mcp.CallToolResult, resultOutput, error) {
		res, out := fromResult(docs.RenameItem(ctx, args.Title, args.NewTitle, s.cfg.Actor))
		return res, out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolGet,
		Description: "Read the full content of a document.",
	}, instrument(s, toolGet, func(ctx context.Context, _ *mcp.CallToolRequest, args titleInput) (*mcp.CallToolResult, getOutput, error) {
		doc, err := docs.Get(ctx, args.Title)
		if errors.Is(err, knowledge.ErrNotFound) {
			msg := fmt.Sprintf("No document titled %q found.", strings.TrimSpace(args.Title))
			return textResult(msg, true), getOutput{}, nil
		}
		if err != nil {
			return nil, getOutput{}, fmt.Errorf("reading document: %w", err)
		}
		return textResult(doc.Content, false), getOutput{
			Title:     doc.Title,
			Content:   doc.Content,
			CharCount: doc.CharCount,
			AddedBy:   doc.AddedBy,
		}, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolList,
		Description: "List documents in the knowledge base, one page at a time.",
	}, instrument(s, toolList, func(ctx context.Context, _ *mcp.CallToolRequest, args listInput) (*mcp.CallToolResult, listOutput, error) {
		page, err := docs.ListItems(ctx, args.Page, args.PageSize)
		if err != nil {
			return nil, listOutput{}, fmt.Errorf("listing documents: %w", err)
		}
		out := listOutput{
			Documents:     make([]documentEntry, 0, len(page.Items)),
			Page:          page.Page,
			TotalPages:    page.TotalPages,
			Total:         page.Total,
			TotalChars:    page.TotalChars,
			MaxTotalChars: page.MaxTotalChars,
		}
		for _, m := range page.Items {
			out.Documents = append(out.Documents, documentEntry{Title: m.Title, CharCount: m.CharCount, AddedBy: m.AddedBy})
		}
		return textResult(knowledge.FormatPage(page), false), out, nil
	}))
}

func (s *Server) registerSearchTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolSearch,
		Description: "Search documents by meaning and initiatives by keyword. Returns a context block ready to quote.",
	}, instrument(s, toolSearch, func(ctx context.Context, _ *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
		if strings.TrimSpace(args.Query) == "" {
			return nil, searchOutput{}, errQueryRequired
		}
		limit := args.Limit
		if limit <= 0 {
			limit = s.cfg.SearchLimit
		}
		res, err := s.deps.Search.Search(ctx, args.Query, limit)
		if err != nil {
			return nil, searchOutput{}, fmt.Errorf("search failed: %w", err)
		}

		out := searchOutput{
			Documents:   make([]documentHit, 0, len(res.Documents)),
			Initiatives: initiativeHits(res.Initiatives),
		}
		for _, d := range res.Documents {
			out.Documents = append(out.Documents, documentHit{Title: d.Title, Content: d.Content, Score: float64(d.Score)})
		}
		return textResult(retrieval.FormatContext(res), false), out, nil
	}))
}

func (s *Server) registerInitiativeTools() {
	inits := s.deps.Initiatives

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolInitiativeAdd,
		Description: "Register a new initiative.",
	}, instrument(s, toolInitiativeAdd, func(ctx context.Context, _ *mcp.CallToolRequest, args initiativeAddInput) (*mcp.CallToolResult, resultOutput, error) {
		res, out := fromInitiativeResult(inits.AddInitiative(ctx, initiatives.Draft{
			Name:            args.Name,
			Description:     args.Description,
			Owner:           args.Owner,
			ExpectedMetrics: args.ExpectedMetrics,
			PRDLink:         args.PRDLink,
			Status:          args.Status,
		}, s.cfg.Actor))
		return res, out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolInitiativeStatus,
		Description: "Change the status of an initiative.",
	}, instrument(s, toolInitiativeStatus, func(ctx context.Context, _ *mcp.CallToolRequest, args initiativeStatusInput) (*mcp.CallToolResult, resultOutput, error) {
		res, out := fromInitiativeResult(inits.SetStatusResult(ctx, args.Name, args.Status, s.cfg.Actor))
		return res, out, nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolInitiativeSearch,
		Description: "Find initiatives whose name or description mention the query.",
	}, instrument(s, toolInitiativeSearch, func(ctx context.Context, _ *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, initiativeSearchOutput, error) {
		if strings.TrimSpace(args.Query) == "" {
			return nil, initiativeSearchOutput{}, errQueryRequired
		}
		limit := args.Limit
		if limit <= 0 {
			limit = s.cfg.SearchLimit
		}
		hits := inits.SearchLexical(ctx, args.Query, limit)
		text := retrieval.FormatContext(retrieval.Results{Initiatives: hits})
		return textResult(text, false), initiativeSearchOutput{Initiatives: initiativeHits(hits)}, nil
	}))
}

func (s *Server) registerBackfillTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolBackfill,
		Description: "Re-index every document from stored content. Use after restoring or replacing the vector index.",
	}, instrument(s, toolBackfill, func(ctx context.Context, _ *mcp.CallToolRequest, args backfillInput) (*mcp.CallToolResult, backfillOutput, error) {
		var (
			r   backfill.Result
			ran = true
		)
		if args.IfNeeded {
			r, ran = s.deps.Backfill.BackfillIfNeeded(ctx)
		} else {
			r = s.deps.Backfill.BackfillAll(ctx)
		}
		out := backfillOutput{
			Ran:     ran,
			Success: r.Success,
			Indexed: r.Indexed,
			Failed:  r.Failed,
			Chunks:  r.Chunks,
			Message: r.Message,
		}
		return textResult(r.Message, !r.Success), out, nil
	}))
}
