// Package retrieval runs semantic document search and lexical initiative
// search side by side and renders the combined context block.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/knowledged/internal/initiatives"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// DefaultLimit applies when Search is called with limit <= 0.
const DefaultLimit = 5

var tracer = otel.Tracer("knowledged.retrieval")

// DocumentSearcher is satisfied by *knowledge.Service.
type DocumentSearcher interface {
	SearchSemantic(ctx context.Context, query string, limit int) []knowledge.SearchResult
}

// InitiativeSearcher is satisfied by *initiatives.Registry.
type InitiativeSearcher interface {
	SearchLexical(ctx context.Context, query string, limit int) []initiatives.SearchResult
}

// Results holds both result sets. Scores are not comparable across them.
type Results struct {
	Query       string                     `json:"query"`
	Documents   []knowledge.SearchResult   `json:"documents"`
	Initiatives []initiatives.SearchResult `json:"initiatives"`
}

// Orchestrator fans a query out to both searchers.
type Orchestrator struct {
	docs   DocumentSearcher
	inits  InitiativeSearcher
	logger *logging.Logger
}

// New returns an Orchestrator. inits may be nil when no initiative registry
// is configured.
func New(docs DocumentSearcher, inits InitiativeSearcher, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{docs: docs, inits: inits, logger: logger}
}

// Search runs both searches concurrently. Each searcher degrades to an empty
// set on its own, so the only error is ctx cancellation.
func (o *Orchestrator) Search(ctx context.Context, query string, limit int) (Results, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()

	if limit <= 0 {
		limit = DefaultLimit
	}
	res := Results{
		Query:       strings.TrimSpace(query),
		Documents:   []knowledge.SearchResult{},
		Initiatives: []initiatives.SearchResult{},
	}

	g, gctx := errgroup.WithContext(ctx)
	if o.docs != nil {
		g.Go(func() error {
			res.Documents = o.docs.SearchSemantic(gctx, res.Query, limit)
			return nil
		})
	}
	if o.inits != nil {
		g.Go(func() error {
			res.Initiatives = o.inits.SearchLexical(gctx, res.Query, limit)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Results{}, err
	}

	span.SetAttributes(
		attribute.Int("results.documents", len(res.Documents)),
		attribute.Int("results.initiatives", len(res.Initiatives)),
	)
	o.logger.Debug(ctx, "search complete",
		zap.Int("documents", len(res.Documents)),
		zap.Int("initiatives", len(res.Initiatives)),
	)
	return res, nil
}

// NoResultsMessage is FormatContext's output for empty results.
const NoResultsMessage = "No relevant documents or initiatives found."

// FormatContext renders res as a plain-text block for a prompt or chat reply.
func FormatContext(res Results) string {
	if len(res.Documents) == 0 && len(res.Initiatives) == 0 {
		return NoResultsMessage
	}

	var b strings.Builder
	if len(res.Documents) > 0 {
		b.WriteString("Relevant documents:\n")
		for i, d := range res.Documents {
			fmt.Fprintf(&b, "[%d] %s (score %.2f)\n%s\n", i+1, d.Title, d.Score, strings.TrimSpace(d.Content))
		}
	}
	if len(res.Initiatives) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Related initiatives:\n")
		for _, in := range res.Initiatives {
			fmt.Fprintf(&b, "- %s [%s", in.Name, in.Status)
			if in.Owner != "" {
				fmt.Fprintf(&b, ", owner %s", in.Owner)
			}
			b.WriteString("]")
			if in.Snippet != "" {
				b.WriteString(": " + in.Snippet)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
