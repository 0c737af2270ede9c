package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// BackendChromem labels chromem metrics.
const BackendChromem = "chromem"

const (
	metaTitle         = "title"
	metaChunkIndex    = "chunk_index"
	metaContextPrefix = "context_prefix"
)

var errQueryByVectorOnly = errors.New("chromem: text queries are not supported, query by vector")

// ChromemConfig configures a ChromemIndex.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool

	// Collection defaults to "knowledge".
	Collection string

	// Dimensions is the expected vector length. 0 disables the check.
	Dimensions int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "knowledge"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimensions < 0 {
		return fmt.Errorf("%w: dimensions must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements Index on an embedded chromem-go collection.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewChromemIndex opens (or creates) the configured collection.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	// A nil embedding func makes chromem fall back to OpenAI; every vector
	// here is computed by the caller.
	collection, err := db.GetOrCreateCollection(config.Collection, nil, rejectTextQuery)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
		zap.String("collection", config.Collection),
		zap.Int("documents", collection.Count()),
	)

	return &ChromemIndex{db: db, collection: collection, config: config, logger: logger}, nil
}

func rejectTextQuery(context.Context, string) ([]float32, error) {
	return nil, errQueryByVectorOnly
}

// Insert implements Index.
func (s *ChromemIndex) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, s.config.Dimensions); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		embedding := make([]float32, len(r.Embedding))
		copy(embedding, r.Embedding)
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Metadata.Content,
			Metadata:  encodeMetadata(r.Metadata),
			Embedding: embedding,
		}
	}

	// Concurrency of 1: embeddings are already computed.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("inserted vectors", zap.String("collection", s.config.Collection), zap.Int("count", len(docs)))
	return nil
}

// QueryNearest implements Index.
func (s *ChromemIndex) QueryNearest(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if err := validateQuery(vector, k, s.config.Dimensions); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	// chromem requires nResults <= document count
	count := s.collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		meta := decodeMetadata(r.Metadata)
		meta.Content = r.Content
		matches[i] = Match{ID: r.ID, Score: r.Similarity, Metadata: meta}
	}
	return matches, nil
}

// DeleteByIDs implements Index.
func (s *ChromemIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := s.collection.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := s.collection.Delete(ctx, nil, nil, existing...); err != nil {
		return fmt.Errorf("deleting %d documents: %w", len(existing), err)
	}

	s.logger.Debug("deleted vectors",
		zap.String("collection", s.config.Collection),
		zap.Int("requested", len(ids)),
		zap.Int("deleted", len(existing)),
	)
	return nil
}

// Count returns the number of stored vectors.
func (s *ChromemIndex) Count() int {
	return s.collection.Count()
}

// Close implements Index. Persistent collections are written on every
// insert, so there is nothing to flush.
func (s *ChromemIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func encodeMetadata(m Metadata) map[string]string {
	return map[string]string{
		metaTitle:         m.Title,
		metaChunkIndex:    strconv.Itoa(m.ChunkIndex),
		metaContextPrefix: m.ContextPrefix,
	}
}

func decodeMetadata(m map[string]string) Metadata {
	idx, _ := strconv.Atoi(m[metaChunkIndex])
	return Metadata{
		Title:         m[metaTitle],
		ChunkIndex:    idx,
		ContextPrefix: m[metaContextPrefix],
	}
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
