// Package vectorindex stores chunk embeddings and answers nearest-neighbour
// queries.
//
// Three backends share the Index contract: chromem-go (embedded, optionally
// persisted to disk), Qdrant over gRPC, and an in-process coder/hnsw graph.
// The index is derived state: everything in it can be rebuilt from the
// content store, so deletes are best-effort and IDs are never enumerated.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid vector index configuration")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidRecord indicates a record without an ID or embedding.
	ErrInvalidRecord = errors.New("invalid vector record")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vector index closed")
)

// Metadata is the payload stored next to each vector.
type Metadata struct {
	Title         string `json:"title"`
	ChunkIndex    int    `json:"chunk_index"`
	Content       string `json:"content"`
	ContextPrefix string `json:"context_prefix"`
}

// Record is one vector to insert. Inserting an existing ID replaces it.
type Record struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
}

// Match is a query result. Higher Score means more similar.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// Index is a nearest-neighbour vector index.
type Index interface {
	// Insert upserts records by ID.
	Insert(ctx context.Context, records []Record) error

	// QueryNearest returns at most k matches ordered by descending score.
	QueryNearest(ctx context.Context, vector []float32, k int) ([]Match, error)

	// DeleteByIDs removes records. Unknown IDs are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error

	Close() error
}

func validateRecords(records []Record, dim int) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record %d has no id", ErrInvalidRecord, i)
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: record %q has no embedding", ErrInvalidRecord, r.ID)
		}
		if dim > 0 && len(r.Embedding) != dim {
			return fmt.Errorf("%w: record %q has %d dimensions, index expects %d",
				ErrDimensionMismatch, r.ID, len(r.Embedding), dim)
		}
	}
	return nil
}

func validateQuery(vector []float32, k, dim int) error {
	if k <= 0 {
		return fmt.Errorf("k must be positive, got %d", k)
	}
	if dim > 0 && len(vector) != dim {
		return fmt.Errorf("%w: query has %d dimensions, index expects %d", ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}
