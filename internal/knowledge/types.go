package knowledge

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/knowledged/internal/guard"
)

const (
	// IndexKey holds the document metadata index.
	IndexKey = "kb:index"

	docKeyPrefix = "kb:doc:"
)

var (
	// ErrNotFound indicates no document with the given title.
	ErrNotFound = errors.New("document not found")

	// ErrContentNotFound indicates an index entry whose content record is
	// missing.
	ErrContentNotFound = errors.New("content not found")
)

// DocKey is the content key of a document id.
func DocKey(id string) string { return docKeyPrefix + id }

// Meta is a document's metadata index entry.
type Meta struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	AddedBy   string     `json:"addedBy"`
	AddedAt   time.Time  `json:"addedAt"`
	UpdatedBy string     `json:"updatedBy,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	CharCount int        `json:"charCount"`

	// ChunkCount is the number of vectors last written for the document.
	// Nil for entries written before counts were recorded or while indexing
	// is in progress; deletes then fall back to a bounded ID sweep.
	ChunkCount *int `json:"chunkCount,omitempty"`
}

// Content is a document's content record.
type Content struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Document joins metadata and content.
type Document struct {
	Meta
	Content string `json:"content"`
}

// WriteResult describes a successful add, update or rename. IndexErr is set
// when the content was stored but vectors could not be written.
type WriteResult struct {
	Meta     Meta
	Chunks   int
	Delta    int
	IndexErr error
}

// Page is one page of ListItems.
type Page struct {
	Items         []Meta `json:"items"`
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
	Total         int    `json:"total"`
	TotalPages    int    `json:"totalPages"`
	TotalChars    int    `json:"totalChars"`
	MaxTotalChars int    `json:"maxTotalChars"`
}

// SearchResult is one semantic search hit.
type SearchResult struct {
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
	ChunkIndex int     `json:"chunkIndex"`
}

// Result is the user-facing outcome of a mutation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func guardEntries(index []Meta) []guard.Entry {
	out := make([]guard.Entry, len(index))
	for i, m := range index {
		out[i] = guard.Entry{ID: m.ID, Title: m.Title, Chars: m.CharCount}
	}
	return out
}

func intPtr(n int) *int { return &n }
