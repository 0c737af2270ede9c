package knowledge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/chunker"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/indexedstore"
	"github.com/fyrsmithlabs/knowledged/internal/vectorindex"
)

// indexDocument embeds and inserts every chunk of content, one at a time.
// It returns how many chunks were written.
func (s *Service) indexDocument(ctx context.Context, title, content string, embedder embeddings.Embedder) (int, error) {
	if embedder == nil {
		embedder = s.embedder
	}

	chunks := s.chunker.Chunk(title, content)
	for i, c := range chunks {
		vec, err := embedder.Embed(ctx, c.EmbeddingText())
		if err != nil {
			s.logger.Warn(ctx, "embedding chunk failed",
				zap.String("title", title),
				zap.Int("chunk", i),
				zap.Error(err),
			)
			return i, fmt.Errorf("embedding chunk %d of %q: %w", i, title, err)
		}

		rec := vectorindex.Record{
			ID:        c.ID,
			Embedding: vec,
			Metadata: vectorindex.Metadata{
				Title:         title,
				ChunkIndex:    c.Index,
				Content:       c.Content,
				ContextPrefix: c.ContextPrefix,
			},
		}
		if err := s.index.Insert(ctx, []vectorindex.Record{rec}); err != nil {
			s.logger.Warn(ctx, "inserting chunk failed",
				zap.String("title", title),
				zap.Int("chunk", i),
				zap.Error(err),
			)
			return i, fmt.Errorf("inserting chunk %d of %q: %w", i, title, err)
		}
		s.logger.Trace(ctx, "chunk indexed", zap.String("id", c.ID))
	}

	s.logger.Debug(ctx, "document indexed", zap.String("title", title), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// settleChunks runs after indexDocument wrote written chunks for meta. prev
// is the chunk count recorded before the write, nil meaning unknown.
//
// On success the ids between written and the previous coverage are deleted
// and written is recorded. When that delete fails, or indexing failed, the
// recorded count keeps covering every id that may still exist: it stays nil
// while the bounded sweep covers it and is raised past the bound otherwise.
// If the entry was removed while indexing, the vectors are swept again.
func (s *Service) settleChunks(ctx context.Context, meta Meta, prev *int, written int, indexErr error) Meta {
	covered := max(written, s.countOrBound(prev))
	var count *int
	switch {
	case indexErr != nil:
		if covered > s.cfg.DeleteChunkBound {
			count = intPtr(covered)
		}
	case s.deleteVectors(ctx, chunker.ChunkIDs(meta.Title, written, covered)) != nil:
		count = intPtr(covered)
	default:
		count = intPtr(written)
	}

	out := meta
	var gone bool
	err := s.store.Mutate(ctx, func(_ context.Context, tx *indexedstore.Tx[Meta, Content]) error {
		m, ok := tx.Get(meta.ID)
		if !ok {
			gone = true
			return nil
		}
		m.ChunkCount = count
		tx.Upsert(m)
		out = m
		return nil
	})
	if err != nil {
		s.logger.Warn(ctx, "recording chunk count failed", zap.String("id", meta.ID), zap.Error(err))
		return out
	}
	if gone {
		s.logger.Info(ctx, "document removed while indexing", zap.String("id", meta.ID))
		_ = s.deleteVectors(ctx, chunker.ChunkIDs(meta.Title, 0, covered))
	}
	return out
}

// deleteVectors removes ids from the vector index, logging failures.
func (s *Service) deleteVectors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.index.DeleteByIDs(ctx, ids); err != nil {
		s.logger.Warn(ctx, "vector cleanup failed",
			zap.Int("ids", len(ids)),
			zap.String("first", ids[0]),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// SearchSemantic returns the chunks nearest to query. Any failure yields an
// empty result, logged at warn.
func (s *Service) SearchSemantic(ctx context.Context, query string, limit int) []SearchResult {
	ctx, span := tracer.Start(ctx, "knowledge.SearchSemantic")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []SearchResult{}
	}

	vec, err := s.queries.Embed(ctx, query)
	if err != nil {
		s.logger.Warn(ctx, "semantic search: embedding query failed", zap.Error(err))
		return []SearchResult{}
	}
	matches, err := s.index.QueryNearest(ctx, vec, limit)
	if err != nil {
		s.logger.Warn(ctx, "semantic search: vector query failed", zap.Error(err))
		return []SearchResult{}
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			Title:      m.Metadata.Title,
			Content:    m.Metadata.Content,
			Score:      m.Score,
			ChunkIndex: m.Metadata.ChunkIndex,
		})
	}
	return results
}
