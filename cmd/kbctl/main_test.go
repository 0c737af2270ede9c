package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/knowledged/internal/backfill"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	khttp "github.com/fyrsmithlabs/knowledged/internal/http"
	"github.com/fyrsmithlabs/knowledged/internal/initiatives"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/kvstore"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/retrieval"
	"github.com/fyrsmithlabs/knowledged/internal/vectorindex"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	emb := embeddings.NewFake(16)
	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{Dimensions: 16}, nil)
	require.NoError(t, err)

	docs, err := knowledge.NewService(kv, emb, idx, nil, knowledge.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })
	reg, err := initiatives.NewRegistry(kv, initiatives.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	promReg := prometheus.NewRegistry()
	srv, err := khttp.NewServer(khttp.Deps{
		Documents:   docs,
		Search:      retrieval.New(docs, reg, nil),
		Initiatives: reg,
		Backfill:    backfill.New(docs, kv, emb, backfill.Config{}, nil),
		Registerer:  promReg,
		Gatherer:    promReg,
	}, logging.NewNop(), &khttp.Config{Version: "test"})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// run executes kbctl against serverURL and returns stdout and stderr.
func run(t *testing.T, serverURL, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--server", serverURL, "--actor", "U1"}, args...))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	var names []string
	for _, cmd := range newRootCmd().Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"add", "update", "remove", "rename", "get", "list", "search", "backfill", "health"} {
		assert.Contains(t, names, want)
	}
}

func TestDocumentCommands(t *testing.T) {
	ts := newTestServer(t)

	out, _, err := run(t, ts.URL, strings.Repeat("x", 18), "add", "Doc A")
	require.NoError(t, err)
	assert.Equal(t, "Added \"Doc A\" (18 chars, 1 chunk).\n", out)

	file := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(file, []byte("release notes"), 0o600))
	out, _, err = run(t, ts.URL, "", "add", "Notes", file)
	require.NoError(t, err)
	assert.Contains(t, out, `Added "Notes"`)

	out, _, err = run(t, ts.URL, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Doc A")
	assert.Contains(t, out, "Notes")
	assert.Contains(t, out, "added by U1")

	out, _, err = run(t, ts.URL, "", "get", "doc a")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 18)+"\n", out)

	out, _, err = run(t, ts.URL, strings.Repeat("y", 38), "update", "Doc A", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "+20")

	_, _, err = run(t, ts.URL, "", "rename", "Doc A", "Doc B")
	require.NoError(t, err)

	out, _, err = run(t, ts.URL, "", "remove", "doc b")
	require.NoError(t, err)
	assert.Equal(t, "Removed \"Doc B\".\n", out)
}

func TestDocumentCommands_Failures(t *testing.T) {
	ts := newTestServer(t)

	_, stderr, err := run(t, ts.URL, "x", "add", "  ")
	require.Error(t, err)
	assert.Equal(t, "A title is required.", err.Error())
	assert.Contains(t, stderr, "A title is required.")

	_, _, err = run(t, ts.URL, "", "add", "Empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content provided")

	_, _, err = run(t, ts.URL, "", "add", "Missing", filepath.Join(t.TempDir(), "nope.md"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read file")

	_, _, err = run(t, ts.URL, "", "get", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned status 404: document not found")
}

func TestSearchCmd(t *testing.T) {
	ts := newTestServer(t)

	_, _, err := run(t, ts.URL, "deploy the service with the release pipeline", "add", "Deploys")
	require.NoError(t, err)

	out, _, err := run(t, ts.URL, "", "search", "--limit", "3", "release", "pipeline")
	require.NoError(t, err)
	assert.Contains(t, out, "Relevant documents:")
	assert.Contains(t, out, "Deploys")
}

func TestBackfillCmd(t *testing.T) {
	ts := newTestServer(t)

	_, _, err := run(t, ts.URL, "deploy the service with the release pipeline", "add", "Deploys")
	require.NoError(t, err)

	out, _, err := run(t, ts.URL, "", "backfill")
	require.NoError(t, err)
	assert.Equal(t, "Backfill complete: 1 of 1 documents indexed (1 chunks).\n", out)

	out, _, err = run(t, ts.URL, "", "backfill", "--if-needed")
	require.NoError(t, err)
	assert.Contains(t, out, "Backfill complete")

	out, _, err = run(t, ts.URL, "", "backfill", "--if-needed")
	require.NoError(t, err)
	assert.Equal(t, "Backfill skipped: it ran recently.\n", out)
}

func TestHealthCmd(t *testing.T) {
	ts := newTestServer(t)

	out, _, err := run(t, ts.URL, "", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "Version: test")
	assert.Contains(t, out, "Server URL: "+ts.URL)
}

func TestHealthCmd_Unreachable(t *testing.T) {
	ts := newTestServer(t)
	url := ts.URL
	ts.Close()

	_, _, err := run(t, url, "", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send request")
}
