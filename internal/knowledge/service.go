// Package knowledge manages knowledge-base documents: validated writes to the
// metadata index and content store, chunk indexing into the vector index,
// listing, and semantic search.
//
// Content is durable first. A write whose vectors fail to index still
// succeeds and reports the indexing failure; backfill repairs it later.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/chunker"
	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/guard"
	"github.com/fyrsmithlabs/knowledged/internal/indexedstore"
	"github.com/fyrsmithlabs/knowledged/internal/kvstore"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
	"github.com/fyrsmithlabs/knowledged/internal/vectorindex"
)

var tracer = otel.Tracer("knowledged.knowledge")

// Config holds limits for the service. Zero values take defaults.
type Config struct {
	Limits           guard.Limits
	DeleteChunkBound int
	DefaultPageSize  int
	MaxPageSize      int
	FetchConcurrency int
}

// ConfigFrom converts the application config section.
func ConfigFrom(c config.KnowledgeConfig) Config {
	return Config{
		Limits: guard.Limits{
			MaxTitleLength: c.MaxTitleLength,
			MaxItemChars:   c.MaxDocumentChars,
			MaxTotalChars:  c.MaxTotalChars,
		},
		DeleteChunkBound: c.DeleteChunkBound,
		DefaultPageSize:  c.DefaultPageSize,
		MaxPageSize:      c.MaxPageSize,
		FetchConcurrency: c.FetchConcurrency,
	}
}

func (c *Config) applyDefaults() {
	if c.DeleteChunkBound <= 0 {
		c.DeleteChunkBound = 100
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 50
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 10
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
}

// Service implements document operations.
type Service struct {
	store    *indexedstore.Store[Meta, Content]
	chunker  *chunker.Chunker
	embedder embeddings.Embedder
	queries  embeddings.Embedder
	index    vectorindex.Index
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithQueryEmbedder embeds search queries with e instead of the document
// embedder, typically an embeddings.CachedEmbedder over it.
func WithQueryEmbedder(e embeddings.Embedder) Option {
	return func(s *Service) { s.queries = e }
}

// NewService wires a Service. ch may be nil for default chunking.
func NewService(kv kvstore.Store, embedder embeddings.Embedder, index vectorindex.Index, ch *chunker.Chunker, cfg Config, logger *logging.Logger, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("knowledge: embedder is required")
	}
	if index == nil {
		return nil, errors.New("knowledge: vector index is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if ch == nil {
		ch = chunker.New()
	}
	cfg.applyDefaults()

	store, err := indexedstore.New[Meta, Content](kv, indexedstore.Config[Meta]{
		IndexKey:         IndexKey,
		ItemKey:          DocKey,
		EntryID:          func(m Meta) string { return m.ID },
		FetchConcurrency: cfg.FetchConcurrency,
	}, logger.Underlying())
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:    store,
		chunker:  ch,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queries == nil {
		s.queries = embedder
	}
	return s, nil
}

// Close stops the index writer. It does not close the KV store or vector
// index.
func (s *Service) Close() error {
	return s.store.Close()
}

func titleMatches(title string) func(Meta) bool {
	title = strings.TrimSpace(title)
	return func(m Meta) bool { return strings.EqualFold(m.Title, title) }
}

// Add validates and stores a new document, then indexes its chunks.
// Validation failures are *guard.Error.
func (s *Service) Add(ctx context.Context, title, content, actor string) (WriteResult, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Add")
	defer span.End()
	ctx = logging.WithActor(ctx, actor)

	title = strings.TrimSpace(title)
	var meta Meta
	err := s.store.Mutate(ctx, func(ctx context.Context, tx *indexedstore.Tx[Meta, Content]) error {
		if err := guard.Validate(guard.Input{Title: title, Content: content}, guardEntries(tx.Index()), s.cfg.Limits); err != nil {
			return err
		}
		meta = Meta{
			ID:        sanitize.TitleKey(title),
			Title:     title,
			AddedBy:   actor,
			AddedAt:   s.now().UTC(),
			CharCount: utf8.RuneCountInString(content),
		}
		if err := tx.SaveItem(ctx, meta.ID, Content{ID: meta.ID, Title: title, Content: content}); err != nil {
			return err
		}
		tx.Upsert(meta)
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	span.SetAttributes(attribute.String("document.id", meta.ID), attribute.Int("document.chars", meta.CharCount))

	s.logger.Info(ctx, "document added",
		zap.String("id", meta.ID),
		zap.String("title", title),
		zap.Int("chars", meta.CharCount),
	)

	res := WriteResult{Meta: meta, Delta: meta.CharCount}
	res.Chunks, res.IndexErr = s.indexDocument(ctx, title, content, nil)
	res.Meta = s.settleChunks(ctx, meta, intPtr(0), res.Chunks, res.IndexErr)
	return res, nil
}

// Update replaces a document's content and fully re-indexes it.
func (s *Service) Update(ctx context.Context, title, content, actor string) (WriteResult, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Update")
	defer span.End()
	ctx = logging.WithActor(ctx, actor)

	var meta Meta
	var oldCount *int
	var delta int
	err := s.store.Mutate(ctx, func(ctx context.Context, tx *indexedstore.Tx[Meta, Content]) error {
		existing, ok := tx.Find(titleMatches(title))
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, strings.TrimSpace(title))
		}
		in := guard.Input{Title: existing.Title, Content: content, UpdatingID: existing.ID}
		if err := guard.Validate(in, guardEntries(tx.Index()), s.cfg.Limits); err != nil {
			return err
		}

		now := s.now().UTC()
		meta = existing
		meta.CharCount = utf8.RuneCountInString(content)
		meta.UpdatedAt = &now
		meta.UpdatedBy = actor
		oldCount = existing.ChunkCount
		meta.ChunkCount = nil
		delta = meta.CharCount - existing.CharCount

		if err := tx.SaveItem(ctx, meta.ID, Content{ID: meta.ID, Title: meta.Title, Content: content}); err != nil {
			return err
		}
		tx.Upsert(meta)
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	span.SetAttributes(attribute.String("document.id", meta.ID))

	s.logger.Info(ctx, "document updated",
		zap.String("id", meta.ID),
		zap.Int("chars", meta.CharCount),
		zap.Int("delta", delta),
	)

	res := WriteResult{Meta: meta, Delta: delta}
	res.Chunks, res.IndexErr = s.indexDocument(ctx, meta.Title, content, nil)
	res.Meta = s.settleChunks(ctx, meta, oldCount, res.Chunks, res.IndexErr)
	return res, nil
}

// Remove deletes a document's metadata and content, then sweeps its vectors
// best-effort.
func (s *Service) Remove(ctx context.Context, title string) (Meta, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Remove")
	defer span.End()

	var meta Meta
	err := s.store.Mutate(ctx, func(ctx context.Context, tx *indexedstore.Tx[Meta, Content]) error {
		existing, ok := tx.Find(titleMatches(title))
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, strings.TrimSpace(title))
		}
		meta = existing
		tx.Remove(existing.ID)
		return tx.DeleteItem(ctx, existing.ID)
	})
	if err != nil {
		return Meta{}, err
	}

	s.logger.Info(ctx, "document removed", zap.String("id", meta.ID), zap.String("title", meta.Title))
	_ = s.deleteVectors(ctx, chunker.ChunkIDs(meta.Title, 0, s.countOrBound(meta.ChunkCount)))
	return meta, nil
}

// Rename moves a document to a new title. Its old vectors are deleted and it
// is re-chunked under the new title.
func (s *Service) Rename(ctx context.Context, oldTitle, newTitle, actor string) (WriteResult, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Rename")
	defer span.End()
	ctx = logging.WithActor(ctx, actor)

	newTitle = strings.TrimSpace(newTitle)
	var old, meta Meta
	var content string
	err := s.store.Mutate(ctx, func(ctx context.Context, tx *indexedstore.Tx[Meta, Content]) error {
		existing, ok := tx.Find(titleMatches(oldTitle))
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, strings.TrimSpace(oldTitle))
		}
		item, err := tx.GetItem(ctx, existing.ID)
		if errors.Is(err, indexedstore.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrContentNotFound, existing.Title)
		}
		if err != nil {
			return err
		}
		in := guard.Input{Title: newTitle, Content: item.Content, UpdatingID: existing.ID}
		if err := guard.Validate(in, guardEntries(tx.Index()), s.cfg.Limits); err != nil {
			return err
		}

		now := s.now().UTC()
		old = existing
		content = item.Content
		meta = existing
		meta.ID = sanitize.TitleKey(newTitle)
		meta.Title = newTitle
		meta.UpdatedAt = &now
		meta.UpdatedBy = actor
		meta.ChunkCount = nil

		if err := tx.SaveItem(ctx, meta.ID, Content{ID: meta.ID, Title: newTitle, Content: content}); err != nil {
			return err
		}
		if meta.ID != old.ID {
			tx.Remove(old.ID)
		}
		tx.Upsert(meta)
		if meta.ID != old.ID {
			return tx.DeleteItem(ctx, old.ID)
		}
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}

	s.logger.Info(ctx, "document renamed",
		zap.String("from", old.Title),
		zap.String("to", meta.Title),
	)

	// Chunk ids derive from the title key, so a case-only rename reuses them.
	prev := old.ChunkCount
	if meta.ID != old.ID {
		_ = s.deleteVectors(ctx, chunker.ChunkIDs(old.Title, 0, s.countOrBound(old.ChunkCount)))
		prev = intPtr(0)
	}
	res := WriteResult{Meta: meta}
	res.Chunks, res.IndexErr = s.indexDocument(ctx, newTitle, content, nil)
	res.Meta = s.settleChunks(ctx, meta, prev, res.Chunks, res.IndexErr)
	return res, nil
}

// Get returns a document with its content. An index entry without content
// is reported as ErrNotFound.
func (s *Service) Get(ctx context.Context, title string) (Document, error) {
	meta, ok, err := s.store.FindInIndex(ctx, titleMatches(title))
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, fmt.Errorf("%w: %q", ErrNotFound, strings.TrimSpace(title))
	}
	item, err := s.store.GetItem(ctx, meta.ID)
	if errors.Is(err, indexedstore.ErrNotFound) {
		s.logger.Warn(ctx, "index entry without content", zap.String("id", meta.ID))
		return Document{}, fmt.Errorf("%w: %q", ErrNotFound, meta.Title)
	}
	if err != nil {
		return Document{}, err
	}
	return Document{Meta: meta, Content: item.Content}, nil
}

// Entries returns the metadata index in insertion order.
func (s *Service) Entries(ctx context.Context) ([]Meta, error) {
	return s.store.GetIndex(ctx)
}

// ListItems returns one page of metadata. page is 1-indexed; pageSize is
// clamped to [1, MaxPageSize] with 0 meaning the default.
func (s *Service) ListItems(ctx context.Context, page, pageSize int) (Page, error) {
	index, err := s.store.GetIndex(ctx)
	if err != nil {
		return Page{}, err
	}

	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	if page < 1 {
		page = 1
	}

	total := len(index)
	p := Page{
		Items:         []Meta{},
		Page:          page,
		PageSize:      pageSize,
		Total:         total,
		TotalPages:    (total + pageSize - 1) / pageSize,
		TotalChars:    guard.Usage(guardEntries(index)),
		MaxTotalChars: s.maxTotalChars(),
	}
	start := (page - 1) * pageSize
	if start < total {
		end := start + pageSize
		if end > total {
			end = total
		}
		p.Items = append(p.Items, index[start:end]...)
	}
	return p, nil
}

// AllContent fetches every document with content, skipping ghosts.
func (s *Service) AllContent(ctx context.Context) ([]Content, error) {
	return s.store.GetAllItems(ctx)
}

// Reindex re-chunks and re-embeds one stored document, then deletes chunk
// ids left past the new count. A nil embedder uses the service's own.
// Missing content returns ErrContentNotFound.
func (s *Service) Reindex(ctx context.Context, id string, embedder embeddings.Embedder) (int, error) {
	meta, ok, err := s.store.FindInIndex(ctx, func(m Meta) bool { return m.ID == id })
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	item, err := s.store.GetItem(ctx, id)
	if errors.Is(err, indexedstore.ErrNotFound) {
		return 0, ErrContentNotFound
	}
	if err != nil {
		return 0, err
	}

	n, err := s.indexDocument(ctx, meta.Title, item.Content, embedder)
	s.settleChunks(ctx, meta, meta.ChunkCount, n, err)
	return n, err
}

func (s *Service) maxTotalChars() int {
	if s.cfg.Limits.MaxTotalChars > 0 {
		return s.cfg.Limits.MaxTotalChars
	}
	return guard.DefaultMaxTotalChars
}

func (s *Service) countOrBound(count *int) int {
	if count != nil {
		return *count
	}
	return s.cfg.DeleteChunkBound
}
