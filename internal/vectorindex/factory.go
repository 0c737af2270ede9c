package vectorindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

// Open creates the backend selected by cfg.Provider, wrapped with metrics and
// tracing.
func Open(ctx context.Context, cfg config.VectorIndexConfig, logger *zap.Logger) (Index, error) {
	switch cfg.Provider {
	case config.IndexChromem, "":
		idx, err := NewChromemIndex(ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			Collection: cfg.Collection,
			Dimensions: cfg.Dimensions,
		}, logger)
		if err != nil {
			return nil, err
		}
		return Instrument(idx, BackendChromem), nil
	case config.IndexQdrant:
		idx, err := NewQdrantIndex(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			UseTLS:     cfg.QdrantTLS,
			APIKey:     cfg.QdrantAPIKey.Value(),
			Collection: cfg.Collection,
			Dimensions: cfg.Dimensions,
		}, logger)
		if err != nil {
			return nil, err
		}
		return Instrument(idx, BackendQdrant), nil
	case config.IndexHNSW:
		idx, err := NewHNSWIndex(HNSWConfig{
			Dimensions: cfg.Dimensions,
			M:          cfg.HNSWM,
			EfSearch:   cfg.HNSWEfSearch,
			Path:       cfg.Path,
		}, logger)
		if err != nil {
			return nil, err
		}
		return Instrument(idx, BackendHNSW), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
