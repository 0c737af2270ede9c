package retrieval

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/knowledged/internal/initiatives"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/telemetry"
)

type docsFunc func(ctx context.Context, query string, limit int) []knowledge.SearchResult

func (f docsFunc) SearchSemantic(ctx context.Context, query string, limit int) []knowledge.SearchResult {
	return f(ctx, query, limit)
}

type initsFunc func(ctx context.Context, query string, limit int) []initiatives.SearchResult

func (f initsFunc) SearchLexical(ctx context.Context, query string, limit int) []initiatives.SearchResult {
	return f(ctx, query, limit)
}

func TestSearch_RunsBothConcurrently(t *testing.T) {
	var inFlight, peak int32
	enter := func() {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}

	docs := docsFunc(func(_ context.Context, query string, limit int) []knowledge.SearchResult {
		enter()
		assert.Equal(t, "deploy", query)
		assert.Equal(t, 3, limit)
		return []knowledge.SearchResult{{Title: "Runbook", Content: "deploy steps", Score: 0.9}}
	})
	inits := initsFunc(func(_ context.Context, query string, limit int) []initiatives.SearchResult {
		enter()
		return []initiatives.SearchResult{{Name: "Deploy Faster", Status: initiatives.StatusActive, Score: 10}}
	})

	res, err := New(docs, inits, nil).Search(context.Background(), "  deploy ", 3)
	require.NoError(t, err)
	assert.Equal(t, "deploy", res.Query)
	require.Len(t, res.Documents, 1)
	require.Len(t, res.Initiatives, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestSearch_RecordsSpan(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	tt.Install()

	docs := docsFunc(func(context.Context, string, int) []knowledge.SearchResult {
		return []knowledge.SearchResult{{Title: "A"}, {Title: "B"}}
	})
	inits := initsFunc(func(context.Context, string, int) []initiatives.SearchResult {
		return []initiatives.SearchResult{{Name: "C", Score: 3}}
	})

	_, err := New(docs, inits, nil).Search(context.Background(), "x", 2)
	require.NoError(t, err)
	tt.AssertSpanAttribute(t, "retrieval.Search", "results.documents", int64(2))
	tt.AssertSpanAttribute(t, "retrieval.Search", "results.initiatives", int64(1))
}

func TestSearch_DefaultLimitAndNilRegistry(t *testing.T) {
	var gotLimit int
	docs := docsFunc(func(_ context.Context, _ string, limit int) []knowledge.SearchResult {
		gotLimit = limit
		return []knowledge.SearchResult{}
	})

	res, err := New(docs, nil, nil).Search(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, gotLimit)
	assert.NotNil(t, res.Initiatives)
	assert.Empty(t, res.Initiatives)
}

func TestSearch_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	docs := docsFunc(func(context.Context, string, int) []knowledge.SearchResult { return nil })

	_, err := New(docs, nil, nil).Search(ctx, "x", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, NoResultsMessage, FormatContext(Results{}))

	res := Results{
		Documents: []knowledge.SearchResult{
			{Title: "Runbook", Content: "deploy steps\n", Score: 0.8765},
		},
		Initiatives: []initiatives.SearchResult{
			{Name: "Deploy Faster", Status: initiatives.StatusActive, Owner: "ana", Snippet: "cut deploy time"},
			{Name: "Old Thing", Status: initiatives.StatusCancelled},
		},
	}
	want := "Relevant documents:\n" +
		"[1] Runbook (score 0.88)\n" +
		"deploy steps\n" +
		"\n" +
		"Related initiatives:\n" +
		"- Deploy Faster [active, owner ana]: cut deploy time\n" +
		"- Old Thing [cancelled]"
	assert.Equal(t, want, FormatContext(res))

	onlyInits := Results{Initiatives: res.Initiatives[1:]}
	assert.Equal(t, "Related initiatives:\n- Old Thing [cancelled]", FormatContext(onlyInits))
}
