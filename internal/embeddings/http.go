package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of a failed response is copied into errors.
const maxErrorBody = 512

// postJSON sends body to url and decodes a 200 response into out. Transport
// failures come back wrapped in ErrEmbeddingFailed; non-200 statuses and
// undecodable bodies come back as *EmbeddingError.
func postJSON(ctx context.Context, client *http.Client, url, bearer string, body, out interface{}, provider, model string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEmbeddingFailed, provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &EmbeddingError{
			Provider:   provider,
			Model:      model,
			StatusCode: resp.StatusCode,
			Reason:     "unexpected status: " + string(bytes.TrimSpace(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &EmbeddingError{Provider: provider, Model: model, Reason: "undecodable response", Err: err}
	}
	return nil
}
