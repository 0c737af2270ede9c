// Package chunker splits document content into overlapping chunks that end on
// paragraph or sentence boundaries where possible.
//
// Sizes are counted in runes. Output depends only on (title, content), so
// re-indexing a document overwrites its previous vectors.
package chunker

import (
	"fmt"

	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
)

const (
	// DefaultChunkSize is the maximum runes per chunk.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of runes shared by consecutive chunks.
	DefaultChunkOverlap = 200

	// DefaultMinChunkSize is the shortest a non-final chunk may be cut.
	DefaultMinChunkSize = 300
)

// Chunk is one slice of a document.
type Chunk struct {
	ID            string
	Title         string
	Index         int
	Content       string
	Position      string
	ContextPrefix string
}

// EmbeddingText is the text sent to the embedder: the context prefix, a blank
// line, then the chunk content.
func (c Chunk) EmbeddingText() string {
	return c.ContextPrefix + "\n\n" + c.Content
}

// Chunker splits content. The zero value is not usable; call New.
type Chunker struct {
	chunkSize int
	overlap   int
	minSize   int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum runes per chunk.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the runes shared between consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinChunkSize sets the shortest boundary cut allowed.
func WithMinChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.minSize = size
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		minSize:   DefaultMinChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	// Every cut must land past start+overlap or the scan would not advance.
	if c.minSize <= c.overlap {
		c.minSize = c.overlap + 1
	}
	if c.minSize > c.chunkSize {
		c.minSize = c.chunkSize
	}
	return c
}

// ChunkSize returns the configured maximum chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// MinChunkSize returns the effective minimum cut size.
func (c *Chunker) MinChunkSize() int { return c.minSize }

// Chunk splits content into chunks covering it completely. Empty content
// yields nil.
func (c *Chunker) Chunk(title, content string) []Chunk {
	runes := []rune(content)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var spans [][2]int
	if n <= c.chunkSize {
		spans = append(spans, [2]int{0, n})
	} else {
		start := 0
		for {
			end := start + c.chunkSize
			if end >= n {
				end = n
			} else {
				end = c.boundary(runes, start, end)
			}
			spans = append(spans, [2]int{start, end})
			if end >= n {
				break
			}
			start = end - c.overlap
		}
	}

	chunks := make([]Chunk, len(spans))
	for i, s := range spans {
		pos := Position(i, len(spans))
		chunks[i] = Chunk{
			ID:            ChunkID(title, i),
			Title:         title,
			Index:         i,
			Content:       string(runes[s[0]:s[1]]),
			Position:      pos,
			ContextPrefix: ContextPrefix(title, pos),
		}
	}
	return chunks
}

// boundary picks where a chunk starting at start should end, given the hard
// limit. It prefers the last paragraph break, then the last sentence break,
// that leaves at least minSize runes in the chunk.
func (c *Chunker) boundary(runes []rune, start, limit int) int {
	floor := start + c.minSize

	// Paragraph: chunk ends after "\n\n".
	for i := limit - 2; i+2 >= floor && i >= start; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}

	// Sentence: chunk ends after the punctuation, the following space or
	// newline starts the next chunk.
	for end := limit; end >= floor && end > start; end-- {
		if end >= len(runes) {
			continue
		}
		if isSentenceEnd(runes[end-1]) && (runes[end] == ' ' || runes[end] == '\n') {
			return end
		}
	}

	return limit
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Position labels chunk i of n.
func Position(i, n int) string {
	switch {
	case n <= 1:
		return "full content"
	case i == 0:
		return "beginning"
	case i == n-1:
		return "end"
	default:
		return fmt.Sprintf("part %d of %d", i+1, n)
	}
}

// ContextPrefix is the header prepended to embedded chunk text.
func ContextPrefix(title, position string) string {
	return `Document "` + title + `" (` + position + `)`
}

// ChunkIDPrefix is the shared prefix of every chunk ID of title.
func ChunkIDPrefix(title string) string {
	return "doc:" + sanitize.TitleKey(title) + ":chunk:"
}

// ChunkID is the deterministic vector ID of chunk index of title.
func ChunkID(title string, index int) string {
	return fmt.Sprintf("%s%d", ChunkIDPrefix(title), index)
}

// ChunkIDs returns the IDs of chunks from..to-1 of title.
func ChunkIDs(title string, from, to int) []string {
	if to <= from {
		return nil
	}
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, ChunkID(title, i))
	}
	return ids
}
