package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/knowledged/internal/backfill"
	"github.com/fyrsmithlabs/knowledged/internal/chunker"
	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	khttp "github.com/fyrsmithlabs/knowledged/internal/http"
	"github.com/fyrsmithlabs/knowledged/internal/httpretry"
	"github.com/fyrsmithlabs/knowledged/internal/initiatives"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/kvstore"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	kmcp "github.com/fyrsmithlabs/knowledged/internal/mcp"
	"github.com/fyrsmithlabs/knowledged/internal/retrieval"
	"github.com/fyrsmithlabs/knowledged/internal/telemetry"
	"github.com/fyrsmithlabs/knowledged/internal/vectorindex"
)

// appOptions adjusts wiring per command.
type appOptions struct {
	// logToStderr keeps stdout free for the MCP stdio transport.
	logToStderr bool
}

// app holds every dependency of a running daemon.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	kv       kvstore.Store
	index    vectorindex.Index
	embedder embeddings.Provider

	docs     *knowledge.Service
	inits    *initiatives.Registry
	search   *retrieval.Orchestrator
	backfill *backfill.Runner
}

// newApp wires the daemon from cfg. On error everything opened so far is
// closed.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	cfg := a.cfg

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	logCfg.Output.Stderr = opts.logToStderr
	a.logger, err = logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), a.logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	// Rebuild the logger so entries also reach the collector.
	if lp := a.telemetry.LoggerProvider(); lp != nil {
		logCfg.Output.OTEL = true
		bridged, err := logging.NewLogger(logCfg, lp)
		if err != nil {
			return fmt.Errorf("failed to initialize otel logger: %w", err)
		}
		_ = a.logger.Sync()
		a.logger = bridged
	}
	logger := a.logger.Underlying()

	kv, err := kvstore.Open(ctx, cfg.KV, logger)
	if err != nil {
		return fmt.Errorf("failed to open kv store: %w", err)
	}
	a.kv = kv
	a.logger.Info(ctx, "kv store opened", zap.String("provider", cfg.KV.Provider))

	client := httpretry.NewClient(cfg.Embeddings.Timeout.Duration(), httpretry.Config{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval.Duration(),
		MaxInterval:     cfg.Retry.MaxInterval.Duration(),
		MaxElapsed:      cfg.Retry.MaxElapsed.Duration(),
	}, logger)
	provider, err := embeddings.NewProvider(cfg.Embeddings, client, logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.embedder = provider
	if err := embeddings.CheckDimension(a.embedder, cfg.VectorIndex.Dimensions); err != nil {
		return err
	}
	a.logger.Info(ctx, "embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimensions", a.embedder.Dimension()))

	a.index, err = vectorindex.Open(ctx, cfg.VectorIndex, logger)
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	a.logger.Info(ctx, "vector index opened",
		zap.String("provider", cfg.VectorIndex.Provider),
		zap.String("collection", cfg.VectorIndex.Collection))

	k := cfg.Knowledge
	ch := chunker.New(
		chunker.WithChunkSize(k.ChunkSize),
		chunker.WithOverlap(k.ChunkOverlap),
		chunker.WithMinChunkSize(k.MinChunkSize),
	)

	var queries embeddings.Embedder = a.embedder
	if cfg.Embeddings.CacheSize > 0 {
		queries = embeddings.NewCachedEmbedder(a.embedder, cfg.Embeddings.CacheSize,
			cfg.Embeddings.CacheTTL.Duration(), embeddings.NewMetrics(logger))
	}

	a.docs, err = knowledge.NewService(a.kv, a.embedder, a.index, ch, knowledge.ConfigFrom(k), a.logger,
		knowledge.WithQueryEmbedder(queries))
	if err != nil {
		return fmt.Errorf("failed to create knowledge service: %w", err)
	}

	a.inits, err = initiatives.NewRegistry(a.kv, initiatives.Config{
		MaxNameLength:    k.MaxTitleLength,
		FetchConcurrency: k.FetchConcurrency,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create initiative registry: %w", err)
	}

	a.search = retrieval.New(a.docs, a.inits, a.logger)
	a.backfill = backfill.New(a.docs, a.kv, a.embedder, backfill.ConfigFrom(cfg.Backfill), a.logger)
	return nil
}

// httpServer builds the HTTP API over the app's services.
func (a *app) httpServer() (*khttp.Server, error) {
	return khttp.NewServer(khttp.Deps{
		Documents:   a.docs,
		Search:      a.search,
		Initiatives: a.inits,
		Backfill:    a.backfill,
	}, a.logger, &khttp.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		SearchLimit: a.cfg.Knowledge.SearchLimit,
		Version:     version,
	})
}

// mcpServer builds the MCP tool server over the app's services.
func (a *app) mcpServer() (*kmcp.Server, error) {
	return kmcp.NewServer(&kmcp.Config{
		Version:     version,
		SearchLimit: a.cfg.Knowledge.SearchLimit,
		Meter:       a.telemetry.Meter("knowledged.mcp"),
		Logger:      a.logger,
	}, kmcp.Deps{
		Documents:   a.docs,
		Search:      a.search,
		Initiatives: a.inits,
		Backfill:    a.backfill,
	})
}

// serve runs the HTTP API until ctx is done, then shuts down within the
// configured timeout. A throttled backfill runs alongside startup.
func (a *app) serve(ctx context.Context) error {
	srv, err := a.httpServer()
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		res, ran := a.backfill.BackfillIfNeeded(gctx)
		if ran {
			a.logger.Info(gctx, "startup backfill finished", zap.String("result", res.Message))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases every dependency in reverse order of creation.
func (a *app) Close() {
	var errs []error
	if a.inits != nil {
		errs = append(errs, a.inits.Close())
	}
	if a.docs != nil {
		errs = append(errs, a.docs.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(context.Background()))
	}
	if a.logger != nil {
		if err := errors.Join(errs...); err != nil {
			a.logger.Warn(context.Background(), "shutdown finished with errors", zap.Error(err))
		}
		_ = a.logger.Sync() // Best-effort sync
	}
}
