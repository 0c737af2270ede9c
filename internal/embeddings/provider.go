package embeddings

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

// NewProvider creates the provider selected by cfg.Provider. client is used
// by the HTTP providers; pass an httpretry client to get retries.
func NewProvider(cfg config.EmbeddingsConfig, client *http.Client, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case config.EmbedRemote:
		return NewRemoteClient(RemoteConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimensions,
		}, client, logger)
	case config.EmbedTEI, "":
		return NewTEIClient(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimensions,
		}, client, logger)
	case config.EmbedFastEmbed:
		if dim, ok := FastEmbedDimension(cfg.Model); ok && cfg.Dimensions != 0 && dim != cfg.Dimensions {
			return nil, fmt.Errorf("%w: model %s produces %d dimensions, configured %d",
				ErrDimensionMismatch, cfg.Model, dim, cfg.Dimensions)
		}
		return NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// CheckDimension fails with ErrDimensionMismatch when e's dimension differs
// from the vector index dimension. Run at startup so a misconfigured pair
// never writes vectors.
func CheckDimension(e Embedder, indexDim int) error {
	if got := e.Dimension(); got != indexDim {
		return fmt.Errorf("%w: embedder produces %d, vector index expects %d", ErrDimensionMismatch, got, indexDim)
	}
	return nil
}
