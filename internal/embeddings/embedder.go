// Package embeddings turns text into fixed-length vectors.
//
// Providers: a remote "run(model, {text})" endpoint, HuggingFace TEI, and
// local ONNX models through FastEmbed (cgo builds only). Providers never
// retry; outbound HTTP goes through the client handed to them, normally an
// httpretry client.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed matches every *EmbeddingError via errors.Is.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder produces a vector for one piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Provider is an Embedder holding resources.
type Provider interface {
	Embedder
	Close() error
}

// EmbeddingError describes a failed or malformed model response.
type EmbeddingError struct {
	Provider   string
	Model      string
	StatusCode int
	Reason     string
	Err        error
}

func (e *EmbeddingError) Error() string {
	msg := fmt.Sprintf("embeddings: %s %s: %s", e.Provider, e.Model, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Is makes every EmbeddingError match ErrEmbeddingFailed.
func (e *EmbeddingError) Is(target error) bool {
	return target == ErrEmbeddingFailed
}

// checkVector validates a single returned vector against dim (0 skips the
// length check).
func checkVector(provider, model string, vec []float32, dim int) error {
	if len(vec) == 0 {
		return &EmbeddingError{Provider: provider, Model: model, Reason: "response contained an empty vector"}
	}
	if dim > 0 && len(vec) != dim {
		return &EmbeddingError{
			Provider: provider,
			Model:    model,
			Reason:   fmt.Sprintf("got %d dimensions, want %d", len(vec), dim),
			Err:      ErrDimensionMismatch,
		}
	}
	return nil
}
