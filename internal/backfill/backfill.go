// Package backfill re-indexes every stored document into the vector index.
//
// Content is the source of truth. A run walks the metadata index in order,
// re-chunks and re-embeds each document and overwrites its vectors, so it
// repairs writes whose indexing failed and vectors lost with the index.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/kvstore"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// LastRunKey holds the timestamp of the last throttled run. It expires
// after the cooldown.
const LastRunKey = "kb:backfill:last_run"

// DefaultCooldown is the minimum gap between throttled runs.
const DefaultCooldown = time.Hour

var tracer = otel.Tracer("knowledged.backfill")

// Documents is the part of knowledge.Service a run needs.
type Documents interface {
	Entries(ctx context.Context) ([]knowledge.Meta, error)
	Reindex(ctx context.Context, id string, embedder embeddings.Embedder) (int, error)
}

// Config controls pacing and throttling. EmbedRate is embedding calls per
// second; zero means unlimited.
type Config struct {
	Cooldown   time.Duration
	EmbedRate  float64
	EmbedBurst int
}

// ConfigFrom converts the application config section.
func ConfigFrom(c config.BackfillConfig) Config {
	return Config{
		Cooldown:   c.Cooldown.Duration(),
		EmbedRate:  c.EmbedRate,
		EmbedBurst: c.EmbedBurst,
	}
}

// Failure is one document that could not be re-indexed.
type Failure struct {
	Title string `json:"title"`
	Error string `json:"error"`
}

// Result summarizes a run. Success is false when any document failed.
type Result struct {
	Success  bool      `json:"success"`
	Indexed  int       `json:"indexed"`
	Failed   int       `json:"failed"`
	Chunks   int       `json:"chunks"`
	Message  string    `json:"message"`
	Failures []Failure `json:"failures"`
}

// Runner executes backfills. Runs are serialized.
type Runner struct {
	docs     Documents
	kv       kvstore.Store
	embedder embeddings.Embedder
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time

	mu sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New returns a Runner. embedder is the provider whose calls are paced.
func New(docs Documents, kv kvstore.Store, embedder embeddings.Embedder, cfg Config, logger *logging.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.EmbedBurst <= 0 {
		cfg.EmbedBurst = 1
	}
	r := &Runner{
		docs:     docs,
		kv:       kv,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BackfillAll re-indexes every document sequentially.
func (r *Runner) BackfillAll(ctx context.Context) Result {
	res := r.run(ctx)
	RunsTotal.WithLabelValues("manual", runLabel(res)).Inc()
	return res
}

// BackfillIfNeeded runs a backfill unless one ran within the cooldown. It
// reports whether a run happened.
func (r *Runner) BackfillIfNeeded(ctx context.Context) (Result, bool) {
	_, err := r.kv.Get(ctx, LastRunKey)
	switch {
	case err == nil:
		RunsTotal.WithLabelValues("scheduled", "skipped").Inc()
		r.logger.Debug(ctx, "backfill skipped: inside cooldown", zap.Duration("cooldown", r.cfg.Cooldown))
		return Result{Success: true, Message: "Backfill skipped: it ran recently.", Failures: []Failure{}}, false
	case !errors.Is(err, kvstore.ErrNotFound):
		RunsTotal.WithLabelValues("scheduled", "error").Inc()
		r.logger.Warn(ctx, "backfill throttle check failed", zap.Error(err))
		return Result{Message: "Backfill skipped: could not check when it last ran.", Failures: []Failure{}}, false
	}

	stamp := []byte(r.now().UTC().Format(time.RFC3339))
	if err := r.kv.Put(ctx, LastRunKey, stamp, kvstore.WithTTL(r.cfg.Cooldown)); err != nil {
		r.logger.Warn(ctx, "recording backfill run failed", zap.Error(err))
	}

	res := r.run(ctx)
	RunsTotal.WithLabelValues("scheduled", runLabel(res)).Inc()
	return res, true
}

func (r *Runner) run(ctx context.Context) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "backfill.Run")
	defer span.End()
	start := time.Now()
	defer func() { RunDuration.Observe(time.Since(start).Seconds()) }()

	entries, err := r.docs.Entries(ctx)
	if err != nil {
		r.logger.Error(ctx, "backfill: loading index failed", zap.Error(err))
		return Result{Message: "Backfill failed: could not read the knowledge base index.", Failures: []Failure{}}
	}

	res := Result{Failures: []Failure{}}
	paced := newPacedEmbedder(r.embedder, r.cfg.EmbedRate, r.cfg.EmbedBurst)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, Failure{Title: e.Title, Error: "canceled"})
			res.Failed++
			continue
		}

		n, err := r.docs.Reindex(ctx, e.ID, paced)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, knowledge.ErrContentNotFound) {
				msg = "content not found"
			}
			r.logger.Warn(ctx, "backfill: document failed", zap.String("id", e.ID), zap.Error(err))
			res.Failures = append(res.Failures, Failure{Title: e.Title, Error: msg})
			res.Failed++
			DocumentsTotal.WithLabelValues("failed").Inc()
			continue
		}
		res.Indexed++
		res.Chunks += n
		DocumentsTotal.WithLabelValues("indexed").Inc()
	}

	res.Success = res.Failed == 0
	res.Message = summary(res, len(entries))
	span.SetAttributes(attribute.Int("backfill.indexed", res.Indexed), attribute.Int("backfill.failed", res.Failed))
	r.logger.Info(ctx, "backfill complete",
		zap.Int("indexed", res.Indexed),
		zap.Int("failed", res.Failed),
		zap.Int("chunks", res.Chunks),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func summary(res Result, total int) string {
	switch {
	case total == 0:
		return "Nothing to backfill: the knowledge base is empty."
	case res.Failed == 0:
		return fmt.Sprintf("Backfill complete: %d of %d documents indexed (%d chunks).", res.Indexed, total, res.Chunks)
	default:
		return fmt.Sprintf("Backfill finished with errors: %d indexed, %d failed.", res.Indexed, res.Failed)
	}
}

func runLabel(res Result) string {
	switch {
	case res.Success:
		return "success"
	case res.Indexed > 0:
		return "partial"
	default:
		return "error"
	}
}

// pacedEmbedder waits on a token bucket before each call.
type pacedEmbedder struct {
	next    embeddings.Embedder
	limiter *rate.Limiter
}

func newPacedEmbedder(next embeddings.Embedder, perSecond float64, burst int) *pacedEmbedder {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &pacedEmbedder{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (p *pacedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.Embed(ctx, text)
}

func (p *pacedEmbedder) Dimension() int { return p.next.Dimension() }
