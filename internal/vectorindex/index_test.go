package vectorindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

const testDim = 4

func rec(id string, vec ...float32) Record {
	return Record{
		ID:        id,
		Embedding: vec,
		Metadata: Metadata{
			Title:         "Doc " + id,
			ChunkIndex:    1,
			Content:       "content of " + id,
			ContextPrefix: `Document "Doc ` + id + `" (full content)`,
		},
	}
}

type backend struct {
	name string
	open func(t *testing.T) Index
}

func backends() []backend {
	return []backend{
		{"chromem-memory", func(t *testing.T) Index {
			idx, err := NewChromemIndex(ChromemConfig{Dimensions: testDim}, nil)
			require.NoError(t, err)
			return idx
		}},
		{"chromem-persistent", func(t *testing.T) Index {
			idx, err := NewChromemIndex(ChromemConfig{Dimensions: testDim, Path: t.TempDir()}, nil)
			require.NoError(t, err)
			return idx
		}},
		{"hnsw", func(t *testing.T) Index {
			idx, err := NewHNSWIndex(HNSWConfig{Dimensions: testDim}, nil)
			require.NoError(t, err)
			return idx
		}},
	}
}

func TestIndexContract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("empty index returns no matches", func(t *testing.T) {
				idx := b.open(t)
				defer idx.Close()

				matches, err := idx.QueryNearest(ctx, []float32{1, 0, 0, 0}, 5)
				require.NoError(t, err)
				assert.Empty(t, matches)
			})

			t.Run("nearest first and capped at k", func(t *testing.T) {
				idx := b.open(t)
				defer idx.Close()

				require.NoError(t, idx.Insert(ctx, []Record{
					rec("a", 1, 0, 0, 0),
					rec("b", 0.9, 0.1, 0, 0),
					rec("c", 0, 0, 1, 0),
				}))

				matches, err := idx.QueryNearest(ctx, []float32{1, 0, 0, 0}, 2)
				require.NoError(t, err)
				require.Len(t, matches, 2)
				assert.Equal(t, "a", matches[0].ID)
				assert.Equal(t, "b", matches[1].ID)
				assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
				assert.Equal(t, "Doc a", matches[0].Metadata.Title)
				assert.Equal(t, "content of a", matches[0].Metadata.Content)
				assert.Equal(t, 1, matches[0].Metadata.ChunkIndex)
				assert.Equal(t, `Document "Doc a" (full content)`, matches[0].Metadata.ContextPrefix)
			})

			t.Run("k larger than size returns everything", func(t *testing.T) {
				idx := b.open(t)
				defer idx.Close()

				require.NoError(t, idx.Insert(ctx, []Record{rec("a", 1, 0, 0, 0), rec("b", 0, 1, 0, 0)}))
				matches, err := idx.QueryNearest(ctx, []float32{1, 0, 0, 0}, 10)
				require.NoError(t, err)
				assert.Len(t, matches, 2)
			})

			t.Run("insert upserts by id", func(t *testing.T) {
				idx := b.open(t)
				defer idx.Close()

				require.NoError(t, idx.Insert(ctx, []Record{rec("a", 1, 0, 0, 0), rec("b", 0, 1, 0, 0)}))
				replaced := rec("a", 0, 0, 0, 1)
				replaced.Metadata.Content = "rewritten"
				require.NoError(t, idx.Insert(ctx, []Record{replaced}))

				matches, err := idx.QueryNearest(ctx, []float32{0, 0, 0, 1}, 5)
				require.NoError(t, err)
				require.Len(t, matches, 2)
				assert.Equal(t, "a", matches[0].ID)
				assert.Equal(t, "rewritten", matches[0].Metadata.Content)
			})

			t.Run("delete ignores unknown ids", func(t *testing.T) {
				idx := b.open(t)
				defer idx.Close()

				require.NoError(t, idx.Insert(ctx, []Record{rec("a", 1, 0, 0, 0), rec("b", 0, 1, 0, 0)}))
				require.NoError(t, idx.DeleteByIDs(ctx, []string{"a", "missing"}))
				require.NoError(t, idx.DeleteByIDs(ctx, nil))

				matches, err := idx.QueryNearest(ctx, []float32{1, 0, 0, 0}, 5)
				require.NoError(t, err)
				require.Len(t, matches, 1)
				assert.Equal(t, "b", matches[0].ID)
			})

			t.Run("rejects bad input", func(t *testing.T) {
				idx := b.open(t)
				defer idx.Close()

				assert.ErrorIs(t, idx.Insert(ctx, []Record{rec("a", 1, 0)}), ErrDimensionMismatch)
				assert.ErrorIs(t, idx.Insert(ctx, []Record{rec("", 1, 0, 0, 0)}), ErrInvalidRecord)
				assert.ErrorIs(t, idx.Insert(ctx, []Record{{ID: "x"}}), ErrInvalidRecord)

				_, err := idx.QueryNearest(ctx, []float32{1, 0}, 1)
				assert.ErrorIs(t, err, ErrDimensionMismatch)
				_, err = idx.QueryNearest(ctx, []float32{1, 0, 0, 0}, 0)
				assert.Error(t, err)
			})

			t.Run("closed index fails", func(t *testing.T) {
				idx := b.open(t)
				require.NoError(t, idx.Close())

				assert.ErrorIs(t, idx.Insert(ctx, []Record{rec("a", 1, 0, 0, 0)}), ErrClosed)
				_, err := idx.QueryNearest(ctx, []float32{1, 0, 0, 0}, 1)
				assert.ErrorIs(t, err, ErrClosed)
			})
		})
	}
}

func TestChromemIndex_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := NewChromemIndex(ChromemConfig{Path: dir, Dimensions: testDim}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, []Record{rec("a", 1, 0, 0, 0)}))
	require.NoError(t, idx.Close())

	reopened, err := NewChromemIndex(ChromemConfig{Path: dir, Dimensions: testDim}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())

	matches, err := reopened.QueryNearest(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Doc a", matches[0].Metadata.Title)
}

func TestHNSWIndex_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := NewHNSWIndex(HNSWConfig{Dimensions: testDim, Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, []Record{rec("a", 1, 0, 0, 0), rec("b", 0, 1, 0, 0)}))
	require.NoError(t, idx.DeleteByIDs(ctx, []string{"b"}))
	require.NoError(t, idx.Close())

	reopened, err := NewHNSWIndex(HNSWConfig{Dimensions: testDim, Path: dir}, nil)
	require.NoError(t, err)
	stats := reopened.Stats()
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, 2, stats.Nodes)
	assert.Equal(t, 1, stats.Orphans)

	matches, err := reopened.QueryNearest(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "content of a", matches[0].Metadata.Content)

	_, err = NewHNSWIndex(HNSWConfig{Dimensions: 8, Path: dir}, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHNSWIndex_CloseSavesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	graphPath := filepath.Join(dir, hnswGraphFile)

	idx, err := NewHNSWIndex(HNSWConfig{Dimensions: testDim, Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.DeleteByIDs(ctx, []string{"missing"}))
	require.NoError(t, idx.Close())
	assert.NoFileExists(t, graphPath)

	idx, err = NewHNSWIndex(HNSWConfig{Dimensions: testDim, Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, []Record{rec("a", 1, 0, 0, 0)}))
	require.NoError(t, idx.Close())
	require.FileExists(t, graphPath)

	saved, err := os.Stat(graphPath)
	require.NoError(t, err)
	past := saved.ModTime().Add(-time.Hour)
	require.NoError(t, os.Chtimes(graphPath, past, past))

	idx, err = NewHNSWIndex(HNSWConfig{Dimensions: testDim, Path: dir}, nil)
	require.NoError(t, err)
	_, err = idx.QueryNearest(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	after, err := os.Stat(graphPath)
	require.NoError(t, err)
	assert.True(t, after.ModTime().Equal(past))
}

func TestHNSWIndex_OverFetchesPastOrphans(t *testing.T) {
	ctx := context.Background()
	idx, err := NewHNSWIndex(HNSWConfig{Dimensions: testDim}, nil)
	require.NoError(t, err)

	require.NoError(t, idx.Insert(ctx, []Record{
		rec("a", 1, 0, 0, 0),
		rec("b", 0.95, 0.05, 0, 0),
		rec("c", 0.9, 0.1, 0, 0),
		rec("d", 0, 0, 0, 1),
	}))
	require.NoError(t, idx.DeleteByIDs(ctx, []string{"a", "b"}))

	matches, err := idx.QueryNearest(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "c", matches[0].ID)
	assert.Equal(t, "d", matches[1].ID)
}

func TestHNSWConfig_Validate(t *testing.T) {
	_, err := NewHNSWIndex(HNSWConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("doc:onboarding:chunk:0")
	assert.Equal(t, a, PointID("doc:onboarding:chunk:0"))
	assert.NotEqual(t, a, PointID("doc:onboarding:chunk:1"))
	assert.Len(t, a, 36)
}

func TestQdrantPointConversion(t *testing.T) {
	r := rec("doc:a:chunk:3", 1, 0, 0, 0)
	r.Metadata.ChunkIndex = 3

	p := toPoint(r)
	assert.Equal(t, PointID(r.ID), p.GetId().GetUuid())
	assert.Equal(t, r.ID, p.GetPayload()[payloadChunkID].GetStringValue())

	m := fromScoredPoint(&qdrant.ScoredPoint{Id: p.Id, Payload: p.Payload, Score: 0.75})
	assert.Equal(t, r.ID, m.ID)
	assert.Equal(t, float32(0.75), m.Score)
	assert.Equal(t, r.Metadata, m.Metadata)
}

func TestQdrantConfig(t *testing.T) {
	cfg := QdrantConfig{Dimensions: 384}
	cfg.ApplyDefaults()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "knowledge", cfg.Collection)
	assert.NoError(t, cfg.Validate())

	cfg.Dimensions = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(status.Error(codes.Unavailable, "down")))
	assert.True(t, isTransient(status.Error(codes.DeadlineExceeded, "slow")))
	assert.False(t, isTransient(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, isTransient(status.Error(codes.NotFound, "gone")))
	assert.False(t, isTransient(errors.New("plain")))
}

func TestInstrument_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	inner, err := NewHNSWIndex(HNSWConfig{Dimensions: testDim}, nil)
	require.NoError(t, err)
	idx := Instrument(inner, "test-backend")

	inserts := OperationsTotal.WithLabelValues("test-backend", "insert", "success")
	written := RecordsWritten.WithLabelValues("test-backend")
	queryErrors := OperationsTotal.WithLabelValues("test-backend", "query", "error")
	beforeInserts, beforeWritten, beforeErrors := testutil.ToFloat64(inserts), testutil.ToFloat64(written), testutil.ToFloat64(queryErrors)

	require.NoError(t, idx.Insert(ctx, []Record{rec("a", 1, 0, 0, 0), rec("b", 0, 1, 0, 0)}))
	assert.Equal(t, beforeInserts+1, testutil.ToFloat64(inserts))
	assert.Equal(t, beforeWritten+2, testutil.ToFloat64(written))

	_, err = idx.QueryNearest(ctx, []float32{1}, 1)
	require.Error(t, err)
	assert.Equal(t, beforeErrors+1, testutil.ToFloat64(queryErrors))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewDefaultConfig().VectorIndex
	cfg.Path = ""

	idx, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	cfg.Provider = config.IndexHNSW
	idx, err = Open(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	cfg.Provider = "faiss"
	_, err = Open(ctx, cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
