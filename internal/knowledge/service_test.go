package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/knowledged/internal/chunker"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/guard"
	"github.com/fyrsmithlabs/knowledged/internal/kvstore"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/vectorindex"
)

// memIndex is an exact in-memory Index that records deletes and can be told
// to fail.
type memIndex struct {
	mu         sync.Mutex
	records    map[string]vectorindex.Record
	deleted    [][]string
	failInsert error
	failQuery  error
	failDelete error
}

func newMemIndex() *memIndex {
	return &memIndex{records: make(map[string]vectorindex.Record)}
}

func (m *memIndex) Insert(_ context.Context, records []vectorindex.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return m.failInsert
	}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *memIndex) QueryNearest(_ context.Context, vec []float32, k int) ([]vectorindex.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failQuery != nil {
		return nil, m.failQuery
	}
	out := make([]vectorindex.Match, 0, len(m.records))
	for id, r := range m.records {
		var dot float32
		for i := range vec {
			dot += vec[i] * r.Embedding[i]
		}
		out = append(out, vectorindex.Match{ID: id, Score: dot, Metadata: r.Metadata})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memIndex) DeleteByIDs(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, append([]string(nil), ids...))
	if m.failDelete != nil {
		return m.failDelete
	}
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *memIndex) Close() error { return nil }

func (m *memIndex) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *memIndex) get(id string) (vectorindex.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *memIndex) snapshot() map[string]vectorindex.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]vectorindex.Record, len(m.records))
	for id, r := range m.records {
		out[id] = r
	}
	return out
}

func (m *memIndex) lastDelete() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deleted) == 0 {
		return nil
	}
	return m.deleted[len(m.deleted)-1]
}

// hookEmbedder runs hook once, before its first embedding.
type hookEmbedder struct {
	embeddings.Embedder
	once sync.Once
	hook func()
}

func (h *hookEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h.once.Do(h.hook)
	return h.Embedder.Embed(ctx, text)
}

type fixture struct {
	svc      *Service
	kv       *kvstore.MemoryStore
	index    *memIndex
	embedder *embeddings.Fake
	logs     *logging.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		kv:       kvstore.NewMemoryStore(),
		index:    newMemIndex(),
		embedder: embeddings.NewFake(16),
		logs:     logging.NewTestLogger(),
	}
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewService(f.kv, f.embedder, f.index, nil, Config{}, f.logs.Logger,
		WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	f.svc = svc
	return f
}

func TestNewService_RequiresDependencies(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	_, err := NewService(kv, nil, newMemIndex(), nil, Config{}, nil)
	assert.Error(t, err)
	_, err = NewService(kv, embeddings.NewFake(4), nil, nil, Config{}, nil)
	assert.Error(t, err)
}

func TestAddAndRemove_ListRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.AddItem(ctx, "Doc A", strings.Repeat("x", 18), "U1")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, `Added "Doc A" (18 chars, 1 chunk).`, res.Message)

	page, err := f.svc.ListItems(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 18, page.TotalChars)
	assert.Contains(t, FormatPage(page), "18 chars")
	assert.Contains(t, FormatPage(page), "added by U1")

	res = f.svc.RemoveItem(ctx, "doc a")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, `Removed "Doc A".`, res.Message)

	page, err = f.svc.ListItems(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, EmptyMessage, FormatPage(page))
	assert.Empty(t, f.index.ids())
}

func TestAdd_RejectedWhenStoreFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three", "Four"} {
		_, err := f.svc.Add(ctx, title, strings.Repeat("a", 49_000), "U1")
		require.NoError(t, err)
	}

	before, err := f.svc.Entries(ctx)
	require.NoError(t, err)
	vectorsBefore := f.index.ids()

	_, err = f.svc.Add(ctx, "Five", strings.Repeat("b", 10_000), "U1")
	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrStoreFull)

	res := f.svc.AddItem(ctx, "Five", strings.Repeat("b", 10_000), "U1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "knowledge base is full")

	after, err := f.svc.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, vectorsBefore, f.index.ids())

	page, err := f.svc.ListItems(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 196_000, page.TotalChars)

	_, err = f.kv.Get(ctx, DocKey("five"))
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestAdd_ChunksWithPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Add(ctx, "Long", strings.Repeat("z", 2500), "U1")
	require.NoError(t, err)
	require.NoError(t, res.IndexErr)
	assert.Equal(t, 3, res.Chunks)
	require.NotNil(t, res.Meta.ChunkCount)
	assert.Equal(t, 3, *res.Meta.ChunkCount)

	assert.Equal(t, chunker.ChunkIDs("Long", 0, 3), f.index.ids())

	wantPos := []string{"beginning", "part 2 of 3", "end"}
	for i, pos := range wantPos {
		rec, ok := f.index.get(chunker.ChunkID("Long", i))
		require.True(t, ok)
		assert.Equal(t, `Document "Long" (`+pos+`)`, rec.Metadata.ContextPrefix)
		assert.Equal(t, i, rec.Metadata.ChunkIndex)
		assert.Equal(t, "Long", rec.Metadata.Title)
	}
}

func TestAdd_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "   ", "content", "U1")
	assert.ErrorIs(t, err, guard.ErrEmptyTitle)

	_, err = f.svc.Add(ctx, strings.Repeat("t", 101), "content", "U1")
	assert.ErrorIs(t, err, guard.ErrTitleTooLong)

	_, err = f.svc.Add(ctx, "Big", strings.Repeat("a", 50_001), "U1")
	assert.ErrorIs(t, err, guard.ErrDocumentTooLarge)

	_, err = f.svc.Add(ctx, "Doc A", "first", "U1")
	require.NoError(t, err)
	_, err = f.svc.Add(ctx, "DOC A", "second", "U2")
	assert.ErrorIs(t, err, guard.ErrDuplicateTitle)

	res := f.svc.AddItem(ctx, "doc a", "third", "U2")
	assert.False(t, res.Success)
	assert.Equal(t, `A document titled "Doc A" already exists.`, res.Message)

	entries, err := f.svc.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAdd_TrimsTitleAndStampsMeta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Add(ctx, "  Onboarding: Q3  ", "héllo wörld", "U7")
	require.NoError(t, err)
	assert.Equal(t, "onboarding_q3", res.Meta.ID)
	assert.Equal(t, "Onboarding: Q3", res.Meta.Title)
	assert.Equal(t, "U7", res.Meta.AddedBy)
	assert.Equal(t, 11, res.Meta.CharCount)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), res.Meta.AddedAt)
	assert.Nil(t, res.Meta.UpdatedAt)
}

func TestGet_ReturnsExactContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := "line one\n\n  indented\ttab  \nüñíçødé ✓\n"
	_, err := f.svc.Add(ctx, "Exact", content, "U1")
	require.NoError(t, err)

	doc, err := f.svc.Get(ctx, "exact")
	require.NoError(t, err)
	assert.Equal(t, content, doc.Content)
	assert.Equal(t, "Exact", doc.Title)

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_GhostEntryIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Ghost", "boo", "U1")
	require.NoError(t, err)
	require.NoError(t, f.kv.Delete(ctx, DocKey("ghost")))

	_, err = f.svc.Get(ctx, "Ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	f.logs.AssertLogged(t, zapcore.WarnLevel, "index entry without content")

	all, err := f.svc.AllContent(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = f.svc.Reindex(ctx, "ghost", nil)
	assert.ErrorIs(t, err, ErrContentNotFound)
}

func TestUpdate_ReportsDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "X", "hello", "U1")
	require.NoError(t, err)

	res := f.svc.UpdateItem(ctx, "x", "hello world, hello again", "U2")
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Message, "+19")

	res = f.svc.UpdateItem(ctx, "X", strings.Repeat("y", 25), "U2")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, `Updated "X" (25 chars, +1, 1 chunk).`, res.Message)

	res = f.svc.UpdateItem(ctx, "X", "short", "U2")
	assert.Contains(t, res.Message, "-20")

	doc, err := f.svc.Get(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, "short", doc.Content)
	assert.Equal(t, "U2", doc.UpdatedBy)
	require.NotNil(t, doc.UpdatedAt)
	assert.Equal(t, "U1", doc.AddedBy)
}

func TestUpdate_FromFiveToTwentyFive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Notes", "12345", "U1")
	require.NoError(t, err)

	res := f.svc.UpdateItem(ctx, "Notes", strings.Repeat("n", 25), "U1")
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "+20")

	rec, ok := f.index.get(chunker.ChunkID("Notes", 0))
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("n", 25), rec.Metadata.Content)
}

func TestUpdate_CapacityExcludesOwnSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three", "Four"} {
		_, err := f.svc.Add(ctx, title, strings.Repeat("a", 49_000), "U1")
		require.NoError(t, err)
	}

	_, err := f.svc.Update(ctx, "Four", strings.Repeat("c", 50_000), "U1")
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, "Four", strings.Repeat("c", 50_001), "U1")
	assert.ErrorIs(t, err, guard.ErrDocumentTooLarge)
}

func TestUpdate_ShrinkDeletesExcessChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Shrink", strings.Repeat("s", 2500), "U1")
	require.NoError(t, err)
	require.Len(t, f.index.ids(), 3)

	res, err := f.svc.Update(ctx, "Shrink", "tiny", "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)

	assert.Equal(t, chunker.ChunkIDs("Shrink", 1, 3), f.index.lastDelete())
	assert.Equal(t, []string{chunker.ChunkID("Shrink", 0)}, f.index.ids())
	require.NotNil(t, res.Meta.ChunkCount)
	assert.Equal(t, 1, *res.Meta.ChunkCount)
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Update(context.Background(), "nope", "x", "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	res := f.svc.UpdateItem(context.Background(), "nope", "x", "U1")
	assert.False(t, res.Success)
	assert.Equal(t, `No document titled "nope" found.`, res.Message)
}

func TestAdd_IndexFailureKeepsContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.index.failInsert = errors.New("index unavailable")

	res := f.svc.AddItem(ctx, "Durable", "kept even without vectors", "U1")
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "could not be indexed")

	doc, err := f.svc.Get(ctx, "Durable")
	require.NoError(t, err)
	assert.Equal(t, "kept even without vectors", doc.Content)
	assert.Nil(t, doc.ChunkCount)
}

func TestRemove_SweepsRecordedChunkCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Sweep", strings.Repeat("w", 2500), "U1")
	require.NoError(t, err)

	_, err = f.svc.Remove(ctx, "Sweep")
	require.NoError(t, err)
	assert.Equal(t, chunker.ChunkIDs("Sweep", 0, 3), f.index.lastDelete())
	assert.Empty(t, f.index.ids())

	_, err = f.kv.Get(ctx, DocKey("sweep"))
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestRemove_UnknownCountUsesBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.index.failInsert = errors.New("down")
	_, err := f.svc.Add(ctx, "Unindexed", "content", "U1")
	require.NoError(t, err)
	f.index.failInsert = nil

	_, err = f.svc.Remove(ctx, "Unindexed")
	require.NoError(t, err)

	deleted := f.index.lastDelete()
	require.Len(t, deleted, 100)
	assert.Equal(t, chunker.ChunkID("Unindexed", 0), deleted[0])
	assert.Equal(t, chunker.ChunkID("Unindexed", 99), deleted[99])
}

func TestRemove_VectorFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Doc", "content", "U1")
	require.NoError(t, err)
	f.index.failDelete = errors.New("delete failed")

	res := f.svc.RemoveItem(ctx, "Doc")
	assert.True(t, res.Success)
	f.logs.AssertLogged(t, zapcore.WarnLevel, "vector cleanup failed")

	entries, err := f.svc.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemove_NotFound(t *testing.T) {
	f := newFixture(t)
	res := f.svc.RemoveItem(context.Background(), "absent")
	assert.False(t, res.Success)
	assert.Equal(t, `No document titled "absent" found.`, res.Message)
}

func TestRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Old Name", strings.Repeat("r", 1500), "U1")
	require.NoError(t, err)
	require.Equal(t, chunker.ChunkIDs("Old Name", 0, 2), f.index.ids())

	res := f.svc.RenameItem(ctx, "old name", "New Name", "U2")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, `Renamed "old name" to "New Name".`, res.Message)

	_, err = f.svc.Get(ctx, "Old Name")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.kv.Get(ctx, DocKey("old_name"))
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	doc, err := f.svc.Get(ctx, "New Name")
	require.NoError(t, err)
	assert.Equal(t, "new_name", doc.ID)
	assert.Equal(t, strings.Repeat("r", 1500), doc.Content)
	assert.Equal(t, "U1", doc.AddedBy)
	assert.Equal(t, "U2", doc.UpdatedBy)

	assert.Equal(t, chunker.ChunkIDs("New Name", 0, 2), f.index.ids())
	rec, _ := f.index.get(chunker.ChunkID("New Name", 0))
	assert.Equal(t, `Document "New Name" (beginning)`, rec.Metadata.ContextPrefix)
}

func TestRename_CaseOnlyKeepsID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "readme", "content", "U1")
	require.NoError(t, err)

	res, err := f.svc.Rename(ctx, "readme", "README", "U1")
	require.NoError(t, err)
	assert.Equal(t, "readme", res.Meta.ID)

	entries, err := f.svc.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "README", entries[0].Title)

	doc, err := f.svc.Get(ctx, "readme")
	require.NoError(t, err)
	assert.Equal(t, "content", doc.Content)
}

func TestRename_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "A", "a", "U1")
	require.NoError(t, err)
	_, err = f.svc.Add(ctx, "B", "b", "U1")
	require.NoError(t, err)

	_, err = f.svc.Rename(ctx, "A", "b", "U1")
	assert.ErrorIs(t, err, guard.ErrDuplicateTitle)

	_, err = f.svc.Rename(ctx, "missing", "C", "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Rename(ctx, "A", " ", "U1")
	assert.ErrorIs(t, err, guard.ErrEmptyTitle)
}

func TestListItems_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := f.svc.Add(ctx, "Doc "+string(rune('A'+i)), "body", "U1")
		require.NoError(t, err)
	}

	p, err := f.svc.ListItems(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 10, p.PageSize)
	assert.Equal(t, 2, p.TotalPages)
	require.Len(t, p.Items, 10)
	assert.Equal(t, "Doc A", p.Items[0].Title)

	p, err = f.svc.ListItems(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, p.Items, 2)
	assert.Equal(t, "Doc K", p.Items[0].Title)
	assert.Contains(t, FormatPage(p), "11. Doc K")

	p, err = f.svc.ListItems(ctx, 9, 10)
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.Contains(t, FormatPage(p), "past the end")

	p, err = f.svc.ListItems(ctx, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 50, p.PageSize)
	assert.Len(t, p.Items, 12)
	assert.Equal(t, 200_000, p.MaxTotalChars)
}

func TestSearchSemantic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Deploys", "deploy the service with the release pipeline", "U1")
	require.NoError(t, err)
	_, err = f.svc.Add(ctx, "Lunch", "tacos on tuesday in the kitchen", "U1")
	require.NoError(t, err)

	results := f.svc.SearchSemantic(ctx, "release pipeline deploy", 5)
	require.Len(t, results, 2)
	assert.Equal(t, "Deploys", results[0].Title)
	assert.Equal(t, "deploy the service with the release pipeline", results[0].Content)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	assert.Len(t, f.svc.SearchSemantic(ctx, "deploy", 1), 1)
	assert.Empty(t, f.svc.SearchSemantic(ctx, "   ", 5))
	assert.Empty(t, f.svc.SearchSemantic(ctx, "deploy", 0))
}

func TestSearchSemantic_UsesQueryEmbedder(t *testing.T) {
	docs := embeddings.NewFake(16)
	queries := embeddings.NewFake(16)
	svc, err := NewService(kvstore.NewMemoryStore(), docs, newMemIndex(), nil, Config{}, nil,
		WithQueryEmbedder(queries))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	ctx := context.Background()

	_, err = svc.Add(ctx, "Deploys", "deploy the service with the release pipeline", "U1")
	require.NoError(t, err)
	indexed := docs.Calls()
	assert.Positive(t, indexed)
	assert.Zero(t, queries.Calls())

	results := svc.SearchSemantic(ctx, "release pipeline", 5)
	require.Len(t, results, 1)
	assert.Equal(t, 1, queries.Calls())
	assert.Equal(t, indexed, docs.Calls())
}

func TestSearchSemantic_DegradesToEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Doc", "some content", "U1")
	require.NoError(t, err)

	f.index.failQuery = errors.New("query timeout")
	results := f.svc.SearchSemantic(ctx, "content", 5)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	f.logs.AssertLogged(t, zapcore.WarnLevel, "vector query failed")

	f.index.failQuery = nil
	f.embedder.FailWith(errors.New("model offline"))
	results = f.svc.SearchSemantic(ctx, "content", 5)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	f.logs.AssertLogged(t, zapcore.WarnLevel, "embedding query failed")
}

func TestReindex_RewritesVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.index.failInsert = errors.New("down")
	_, err := f.svc.Add(ctx, "Later", "index me later", "U1")
	require.NoError(t, err)
	f.index.failInsert = nil
	assert.Empty(t, f.index.ids())

	n, err := f.svc.Reindex(ctx, "later", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{chunker.ChunkID("Later", 0)}, f.index.ids())

	entries, err := f.svc.Entries(ctx)
	require.NoError(t, err)
	require.NotNil(t, entries[0].ChunkCount)
	assert.Equal(t, 1, *entries[0].ChunkCount)
}

func TestReindex_SweepsChunksLeftByFailedUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Shrink", strings.Repeat("s", 2500), "U1")
	require.NoError(t, err)
	require.Len(t, f.index.ids(), 3)

	f.index.failInsert = errors.New("down")
	res, err := f.svc.Update(ctx, "Shrink", "tiny new content", "U1")
	require.NoError(t, err)
	require.Error(t, res.IndexErr)
	assert.Nil(t, res.Meta.ChunkCount)
	f.index.failInsert = nil

	n, err := f.svc.Reindex(ctx, "shrink", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{chunker.ChunkID("Shrink", 0)}, f.index.ids())

	results := f.svc.SearchSemantic(ctx, "tiny new content", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "tiny new content", results[0].Content)

	_, err = f.svc.Remove(ctx, "Shrink")
	require.NoError(t, err)
	assert.Empty(t, f.index.ids())
}

func TestUpdate_FailedExcessDeleteKeepsCoverage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Shrink", strings.Repeat("s", 2500), "U1")
	require.NoError(t, err)

	f.index.failDelete = errors.New("delete failed")
	res, err := f.svc.Update(ctx, "Shrink", "tiny new content", "U1")
	require.NoError(t, err)
	require.NoError(t, res.IndexErr)
	assert.Equal(t, 1, res.Chunks)
	require.NotNil(t, res.Meta.ChunkCount)
	assert.Equal(t, 3, *res.Meta.ChunkCount)
	f.logs.AssertLogged(t, zapcore.WarnLevel, "vector cleanup failed")
	f.index.failDelete = nil

	_, err = f.svc.Remove(ctx, "Shrink")
	require.NoError(t, err)
	assert.Equal(t, chunker.ChunkIDs("Shrink", 0, 3), f.index.lastDelete())
	assert.Empty(t, f.index.ids())
}

func TestUpdate_IndexFailureKeepsCountPastBound(t *testing.T) {
	index := newMemIndex()
	svc, err := NewService(kvstore.NewMemoryStore(), embeddings.NewFake(16), index, nil,
		Config{DeleteChunkBound: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	ctx := context.Background()

	_, err = svc.Add(ctx, "Wide", strings.Repeat("w", 2500), "U1")
	require.NoError(t, err)
	require.Len(t, index.ids(), 3)

	index.failInsert = errors.New("down")
	res, err := svc.Update(ctx, "Wide", "narrow", "U1")
	require.NoError(t, err)
	require.Error(t, res.IndexErr)
	require.NotNil(t, res.Meta.ChunkCount)
	assert.Equal(t, 3, *res.Meta.ChunkCount)
	index.failInsert = nil

	_, err = svc.Remove(ctx, "Wide")
	require.NoError(t, err)
	assert.Empty(t, index.ids())
}

func TestReindex_RemovedWhileIndexingSweepsVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Racy", strings.Repeat("q", 2500), "U1")
	require.NoError(t, err)

	embedder := &hookEmbedder{Embedder: f.embedder, hook: func() {
		_, err := f.svc.Remove(ctx, "Racy")
		assert.NoError(t, err)
	}}
	n, err := f.svc.Reindex(ctx, "racy", embedder)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Empty(t, f.index.ids())
	entries, err := f.svc.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	f.logs.AssertLogged(t, zapcore.InfoLevel, "document removed while indexing")
}

func TestReindex_UnknownID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reindex(context.Background(), "nobody", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdd_RemoveThenReAddReproducesChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := strings.Repeat("The release train leaves on Thursday. ", 30) + "\n\n" +
		strings.Repeat("Hotfixes skip the queue. ", 50)

	first, err := f.svc.Add(ctx, "Release Process", content, "U1")
	require.NoError(t, err)
	require.Greater(t, first.Chunks, 1)
	before := f.index.snapshot()

	_, err = f.svc.Remove(ctx, "Release Process")
	require.NoError(t, err)
	require.Empty(t, f.index.ids())

	second, err := f.svc.Add(ctx, "Release Process", content, "U2")
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, before, f.index.snapshot())
}

func TestAdd_IdempotentContentAfterRepeatedUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "Same", "stable content", "U1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.svc.Update(ctx, "Same", "stable content", "U1")
		require.NoError(t, err)
	}

	entries, err := f.svc.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 14, entries[0].CharCount)
	assert.Equal(t, []string{chunker.ChunkID("Same", 0)}, f.index.ids())
}

func TestConfigFrom_Defaults(t *testing.T) {
	cfg := Config{DefaultPageSize: 80, MaxPageSize: 40}
	cfg.applyDefaults()
	assert.Equal(t, 40, cfg.DefaultPageSize)
	assert.Equal(t, 100, cfg.DeleteChunkBound)
}
