package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const providerTEI = "tei"

// TEIConfig configures a TEIClient.
type TEIConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
}

// Validate checks required fields.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// TEIClient calls a HuggingFace Text Embeddings Inference server.
type TEIClient struct {
	cfg     TEIConfig
	client  *http.Client
	metrics *Metrics
}

type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// NewTEIClient creates a TEIClient. A nil client uses a plain *http.Client
// with a 30s timeout.
func NewTEIClient(cfg TEIConfig, client *http.Client, logger *zap.Logger) (*TEIClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TEIClient{cfg: cfg, client: client, metrics: NewMetrics(logger)}, nil
}

// Embed implements Embedder.
func (c *TEIClient) Embed(ctx context.Context, text string) (vec []float32, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordEmbed(ctx, providerTEI, c.cfg.Model, time.Since(start), err)
	}()

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	var vectors [][]float32
	req := teiRequest{Inputs: []string{text}, Truncate: true}
	if err := postJSON(ctx, c.client, c.cfg.BaseURL+"/embed", c.cfg.APIKey, req, &vectors, providerTEI, c.cfg.Model); err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, &EmbeddingError{Provider: providerTEI, Model: c.cfg.Model, Reason: "empty response"}
	}
	if err := checkVector(providerTEI, c.cfg.Model, vectors[0], c.cfg.Dimension); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension implements Embedder.
func (c *TEIClient) Dimension() int { return c.cfg.Dimension }

// Close implements Provider.
func (c *TEIClient) Close() error { return nil }
