// Package httpretry provides an http.RoundTripper that retries transient
// failures with exponential backoff.
//
// Network errors, 5xx and 429 responses are retried. Any other 4xx is
// returned to the caller immediately. Requests with bodies are replayed via
// Request.GetBody, which http.NewRequest sets for in-memory bodies.
package httpretry

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultMaxElapsed      = 30 * time.Second

	// maxRetryAfter caps how long a server may ask us to wait.
	maxRetryAfter = 60 * time.Second
)

// ErrBodyNotReplayable is returned when a request with a body must be retried
// but has no GetBody.
var ErrBodyNotReplayable = errors.New("httpretry: request body cannot be replayed")

// StatusError reports a retryable status that persisted until the retry
// budget ran out.
type StatusError struct {
	StatusCode int
	Attempts   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpretry: status %d after %d attempts", e.StatusCode, e.Attempts)
}

// Config configures a Transport.
type Config struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxElapsed == 0 {
		c.MaxElapsed = DefaultMaxElapsed
	}
}

// Transport retries requests sent through Base.
type Transport struct {
	base   http.RoundTripper
	cfg    Config
	logger *zap.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, cfg Config, logger *zap.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Transport{base: base, cfg: cfg, logger: logger}
}

// NewClient returns an *http.Client using a retrying Transport.
func NewClient(timeout time.Duration, cfg Config, logger *zap.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(nil, cfg, logger),
	}
}

// RoundTrip implements http.RoundTripper. On the final attempt a retryable
// response is handed back unchanged so callers can read its body.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	attempt := 0
	var lastStatus int

	op := func() (*http.Response, error) {
		attempt++
		r, err := t.requestForAttempt(req, attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := t.base.RoundTrip(r)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, backoff.Permanent(ctxErr)
			}
			t.logger.Debug("http request failed, will retry",
				zap.String("url", req.URL.Redacted()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}

		if !Retryable(resp.StatusCode) || attempt >= int(t.cfg.MaxAttempts) {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		wait := retryAfter(resp.Header)
		drain(resp)
		t.logger.Debug("retryable http status",
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt))
		if wait > 0 {
			return nil, backoff.RetryAfter(int(wait / time.Second))
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Attempts: attempt}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.cfg.InitialInterval
	eb.MaxInterval = t.cfg.MaxInterval

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(t.cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(t.cfg.MaxElapsed),
	)
	if err != nil {
		var ra *backoff.RetryAfterError
		if errors.As(err, &ra) && lastStatus != 0 {
			return nil, &StatusError{StatusCode: lastStatus, Attempts: attempt}
		}
		return nil, err
	}
	return resp, nil
}

func (t *Transport) requestForAttempt(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, ErrBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("httpretry: replay body: %w", err)
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

// Retryable reports whether status is worth retrying: 429 or any 5xx.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = time.Until(at)
	}
	if d < time.Second {
		return 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// compile-time check
var _ http.RoundTripper = (*Transport)(nil)
