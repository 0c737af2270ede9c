package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const providerRemote = "remote"

// RemoteConfig configures a RemoteClient.
type RemoteConfig struct {
	// BaseURL is the account-scoped API root; requests go to
	// {BaseURL}/run/{Model}.
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
}

// Validate checks required fields.
func (c RemoteConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// RemoteClient calls a hosted model runner: POST run/{model} with
// {"text": [input]} and reads {"data": [[...]]}, optionally nested under
// "result".
type RemoteClient struct {
	cfg     RemoteConfig
	client  *http.Client
	metrics *Metrics
}

type remoteRequest struct {
	Text []string `json:"text"`
}

type remoteData struct {
	Data [][]float32 `json:"data"`
}

type remoteResponse struct {
	remoteData
	Result  *remoteData `json:"result"`
	Success *bool       `json:"success"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// NewRemoteClient creates a RemoteClient. A nil client uses a plain
// *http.Client with a 30s timeout.
func NewRemoteClient(cfg RemoteConfig, client *http.Client, logger *zap.Logger) (*RemoteClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &RemoteClient{cfg: cfg, client: client, metrics: NewMetrics(logger)}, nil
}

// Embed implements Embedder.
func (c *RemoteClient) Embed(ctx context.Context, text string) (vec []float32, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordEmbed(ctx, providerRemote, c.cfg.Model, time.Since(start), err)
	}()

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	url := c.cfg.BaseURL + "/run/" + strings.TrimLeft(c.cfg.Model, "/")
	var resp remoteResponse
	if err := postJSON(ctx, c.client, url, c.cfg.APIKey, remoteRequest{Text: []string{text}}, &resp, providerRemote, c.cfg.Model); err != nil {
		return nil, err
	}

	if resp.Success != nil && !*resp.Success {
		reason := "model reported failure"
		if len(resp.Errors) > 0 {
			reason += ": " + resp.Errors[0].Message
		}
		return nil, &EmbeddingError{Provider: providerRemote, Model: c.cfg.Model, Reason: reason}
	}

	data := resp.Data
	if len(data) == 0 && resp.Result != nil {
		data = resp.Result.Data
	}
	if len(data) == 0 {
		return nil, &EmbeddingError{Provider: providerRemote, Model: c.cfg.Model, Reason: "response has no data"}
	}
	if err := checkVector(providerRemote, c.cfg.Model, data[0], c.cfg.Dimension); err != nil {
		return nil, err
	}
	return data[0], nil
}

// Dimension implements Embedder.
func (c *RemoteClient) Dimension() int { return c.cfg.Dimension }

// Close implements Provider.
func (c *RemoteClient) Close() error { return nil }
