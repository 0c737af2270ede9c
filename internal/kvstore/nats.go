package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// NATSStore keeps keys in a JetStream key-value bucket. Per-key TTL is
// carried in a JSON envelope because bucket TTL applies to every key.
type NATSStore struct {
	kv     jetstream.KeyValue
	nc     *nats.Conn
	ownsNC bool
	now    func() time.Time
	logger *zap.Logger
}

// NATSConfig configures a NATSStore.
type NATSConfig struct {
	URL    string
	Bucket string

	// Conn reuses an existing connection; URL is ignored when set.
	Conn *nats.Conn
}

// NewNATSStore connects (unless cfg.Conn is set) and opens or creates the
// bucket.
func NewNATSStore(ctx context.Context, cfg NATSConfig, logger *zap.Logger) (*NATSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("kvstore: bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, owns := cfg.Conn, false
	if nc == nil {
		var err error
		nc, err = nats.Connect(cfg.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
		}
		owns = true
	}

	js, err := jetstream.New(nc)
	if err != nil {
		if owns {
			nc.Close()
		}
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "knowledged content and metadata",
			History:     1,
		})
	}
	if err != nil {
		if owns {
			nc.Close()
		}
		return nil, fmt.Errorf("failed to open key-value bucket %q: %w", cfg.Bucket, err)
	}

	logger.Info("NATS key-value bucket ready", zap.String("bucket", cfg.Bucket))
	return &NATSStore{kv: kv, nc: nc, ownsNC: owns, now: time.Now, logger: logger}, nil
}

// Get implements Store.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	entry, err := s.kv.Get(ctx, EncodeNATSKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("nats get %q: %w", key, err)
	}

	env, err := decodeEnvelope(entry.Value())
	if err != nil {
		return nil, fmt.Errorf("nats get %q: corrupt envelope: %w", key, err)
	}
	if env.expired(s.now()) {
		if err := s.kv.Delete(ctx, EncodeNATSKey(key)); err != nil {
			s.logger.Debug("failed to purge expired key", zap.String("key", key), zap.Error(err))
		}
		return nil, ErrNotFound
	}
	return env.Value, nil
}

// Put implements Store.
func (s *NATSStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) error {
	if key == "" {
		return ErrEmptyKey
	}
	o := applyPutOptions(opts)
	data, err := encodeEnvelope(value, o.expiry(s.now()))
	if err != nil {
		return fmt.Errorf("nats put %q: %w", key, err)
	}
	if _, err := s.kv.Put(ctx, EncodeNATSKey(key), data); err != nil {
		return fmt.Errorf("nats put %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := s.kv.Delete(ctx, EncodeNATSKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("nats delete %q: %w", key, err)
	}
	return nil
}

// Close closes the connection if the store opened it.
func (s *NATSStore) Close() error {
	if s.ownsNC {
		s.nc.Close()
	}
	return nil
}

// EncodeNATSKey maps an arbitrary key onto the NATS key alphabet
// [-/_=.a-zA-Z0-9]. ':' becomes '.', and every other byte outside
// [-_a-zA-Z0-9] (including '.', '/' and '=') is written as =XX.
func EncodeNATSKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ':':
			b.WriteByte('.')
		case c == '-' || c == '_' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}
