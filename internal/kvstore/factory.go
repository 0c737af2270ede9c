package kvstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

// Open creates the Store selected by cfg.Provider.
func Open(ctx context.Context, cfg config.KVConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case config.KVMemory, "":
		return NewMemoryStore(), nil
	case config.KVNATS:
		return NewNATSStore(ctx, NATSConfig{URL: cfg.NATSURL, Bucket: cfg.Bucket}, logger)
	case config.KVSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("kvstore: unknown provider %q", cfg.Provider)
	}
}
