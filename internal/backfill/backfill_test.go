package backfill

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/kvstore"
	"github.com/fyrsmithlabs/knowledged/internal/vectorindex"
)

type testClock struct{ ns atomic.Int64 }

func newTestClock(t time.Time) *testClock {
	c := &testClock{}
	c.ns.Store(t.UnixNano())
	return c
}

func (c *testClock) Now() time.Time { return time.Unix(0, c.ns.Load()).UTC() }

func (c *testClock) Advance(d time.Duration) { c.ns.Add(int64(d)) }

type harness struct {
	svc      *knowledge.Service
	kv       *kvstore.MemoryStore
	index    *vectorindex.ChromemIndex
	embedder *embeddings.Fake
	clock    *testClock
	runner   *Runner
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		embedder: embeddings.NewFake(16),
		clock:    newTestClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)),
	}
	h.kv = kvstore.NewMemoryStore(kvstore.WithClock(h.clock.Now))

	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{Dimensions: 16}, nil)
	require.NoError(t, err)
	h.index = idx

	svc, err := knowledge.NewService(h.kv, h.embedder, idx, nil, knowledge.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	h.svc = svc

	h.runner = New(svc, h.kv, h.embedder, cfg, nil, WithClock(h.clock.Now))
	return h
}

func TestBackfillAll_Empty(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.runner.BackfillAll(context.Background())
	assert.True(t, res.Success)
	assert.Zero(t, res.Indexed)
	assert.Equal(t, "Nothing to backfill: the knowledge base is empty.", res.Message)
	assert.NotNil(t, res.Failures)
}

func TestBackfillAll_ReindexesUpdatedContent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.True(t, h.svc.AddItem(ctx, "Notes", "12345", "U1").Success)
	up := h.svc.UpdateItem(ctx, "Notes", "release checklist for v2", "U1")
	require.True(t, up.Success)
	assert.Contains(t, up.Message, "+19")

	// Lose the vectors, as when the index is rebuilt from scratch.
	require.NoError(t, h.index.DeleteByIDs(ctx, []string{"doc:notes:chunk:0"}))
	require.Empty(t, h.svc.SearchSemantic(ctx, "release checklist", 3))

	res := h.runner.BackfillAll(ctx)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, "Backfill complete: 1 of 1 documents indexed (1 chunks).", res.Message)

	hits := h.svc.SearchSemantic(ctx, "release checklist", 3)
	require.Len(t, hits, 1)
	assert.Equal(t, "Notes", hits[0].Title)
	assert.Equal(t, "release checklist for v2", hits[0].Content)
	assert.Equal(t, 1, h.index.Count())
}

func TestBackfillAll_ContentNotFound(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.True(t, h.svc.AddItem(ctx, "Kept", "still here", "U1").Success)
	require.True(t, h.svc.AddItem(ctx, "Ghost", "gone soon", "U1").Success)
	require.NoError(t, h.kv.Delete(ctx, knowledge.DocKey("ghost")))

	before := testutil.ToFloat64(RunsTotal.WithLabelValues("manual", "partial"))
	res := h.runner.BackfillAll(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []Failure{{Title: "Ghost", Error: "content not found"}}, res.Failures)
	assert.Equal(t, "Backfill finished with errors: 1 indexed, 1 failed.", res.Message)
	assert.Equal(t, before+1, testutil.ToFloat64(RunsTotal.WithLabelValues("manual", "partial")))
}

func TestBackfillAll_EmbeddingFailure(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.True(t, h.svc.AddItem(ctx, "One", "first doc", "U1").Success)
	require.True(t, h.svc.AddItem(ctx, "Two", "second doc", "U1").Success)

	h.embedder.FailWith(errors.New("model offline"))
	res := h.runner.BackfillAll(ctx)
	assert.False(t, res.Success)
	assert.Zero(t, res.Indexed)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "One", res.Failures[0].Title)
	assert.Contains(t, res.Failures[0].Error, "model offline")
}

func TestBackfillAll_CanceledContext(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.True(t, h.svc.AddItem(ctx, "One", "first doc", "U1").Success)

	// Entries is answered before cancellation is observed by the loop.
	docs := &cancelingDocs{Documents: h.svc}
	r := New(docs, h.kv, h.embedder, Config{}, nil)
	cctx, cancel := context.WithCancel(ctx)
	docs.cancel = cancel

	res := r.BackfillAll(cctx)
	assert.False(t, res.Success)
	assert.Equal(t, []Failure{{Title: "One", Error: "canceled"}}, res.Failures)
}

type cancelingDocs struct {
	Documents
	cancel context.CancelFunc
}

func (d *cancelingDocs) Entries(ctx context.Context) ([]knowledge.Meta, error) {
	entries, err := d.Documents.Entries(ctx)
	d.cancel()
	return entries, err
}

func TestBackfillIfNeeded_Cooldown(t *testing.T) {
	h := newHarness(t, Config{Cooldown: time.Hour})
	ctx := context.Background()
	require.True(t, h.svc.AddItem(ctx, "Doc", "content", "U1").Success)

	res, ran := h.runner.BackfillIfNeeded(ctx)
	require.True(t, ran)
	assert.Equal(t, 1, res.Indexed)

	stamp, err := h.kv.Get(ctx, LastRunKey)
	require.NoError(t, err)
	assert.Equal(t, "2026-06-01T08:00:00Z", string(stamp))

	h.clock.Advance(59 * time.Minute)
	res, ran = h.runner.BackfillIfNeeded(ctx)
	assert.False(t, ran)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "ran recently")

	h.clock.Advance(2 * time.Minute)
	_, ran = h.runner.BackfillIfNeeded(ctx)
	assert.True(t, ran)
}

func TestPacedEmbedder(t *testing.T) {
	fake := embeddings.NewFake(4)
	p := newPacedEmbedder(fake, 20, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := p.Embed(ctx, "text")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, fake.Calls())
	assert.Equal(t, 4, p.Dimension())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := newPacedEmbedder(fake, 0.001, 1).Embed(cctx, "text")
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	r := New(nil, kvstore.NewMemoryStore(), embeddings.NewFake(4), Config{}, nil)
	assert.Equal(t, DefaultCooldown, r.cfg.Cooldown)
	assert.Equal(t, 1, r.cfg.EmbedBurst)

	cfg := ConfigFrom(config.BackfillConfig{Cooldown: config.Duration(2 * time.Hour), EmbedRate: 5, EmbedBurst: 2})
	assert.Equal(t, Config{Cooldown: 2 * time.Hour, EmbedRate: 5, EmbedBurst: 2}, cfg)
}
