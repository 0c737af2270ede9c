// Package kvstore provides the key-value backends that hold document content,
// metadata indexes and job bookkeeping.
//
// All backends honour a per-key TTL. Expired keys read as missing.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get for missing or expired keys.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrEmptyKey is returned when an operation is given an empty key.
	ErrEmptyKey = errors.New("kvstore: key is required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("kvstore: store closed")
)

// Store is a key-value store with optional per-key expiry.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// PutOption configures a Put.
type PutOption func(*putOptions)

type putOptions struct {
	ttl time.Duration
}

// WithTTL expires the key after d. Zero or negative means no expiry.
func WithTTL(d time.Duration) PutOption {
	return func(o *putOptions) {
		o.ttl = d
	}
}

func applyPutOptions(opts []PutOption) putOptions {
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// expiry returns the absolute expiry for a put at now, or the zero time.
func (o putOptions) expiry(now time.Time) time.Time {
	if o.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(o.ttl)
}

// envelope wraps values for backends without native per-key TTL.
type envelope struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func encodeEnvelope(value []byte, expiresAt time.Time) ([]byte, error) {
	env := envelope{Value: value}
	if !expiresAt.IsZero() {
		t := expiresAt.UTC()
		env.ExpiresAt = &t
	}
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

func (e envelope) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// GetJSON reads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutJSON encodes v and writes it under key.
func PutJSON(ctx context.Context, s Store, key string, v interface{}, opts ...PutOption) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data, opts...)
}
