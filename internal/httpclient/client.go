// Package httpclient provides the HTTP client used for video downloads:
// automatic retries with exponential backoff, transparent decompression
// (gzip, deflate, brotli), and structured request logging.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/framesight/framesight/internal/version"
)

// ErrMaxRetries indicates every attempt failed.
var ErrMaxRetries = errors.New("max retries exceeded")

// Default configuration values.
const (
	DefaultTimeout           = 10 * time.Minute
	DefaultRetryAttempts     = 3
	DefaultRetryDelay        = 1 * time.Second
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultBackoffMultiplier = 2.0

	acceptEncoding = "gzip, deflate, br"
)

// Config holds the client configuration.
type Config struct {
	// Timeout is the overall per-request timeout.
	Timeout time.Duration

	// RetryAttempts is the number of attempts for retryable failures.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration

	// BackoffMultiplier is the backoff growth factor.
	BackoffMultiplier float64

	// Logger is the structured logger for request logging.
	Logger *slog.Logger

	// BaseClient is the underlying http.Client; nil creates a default.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		RetryAttempts:     DefaultRetryAttempts,
		RetryDelay:        DefaultRetryDelay,
		RetryMaxDelay:     DefaultRetryMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		Logger:            slog.Default(),
	}
}

// Client retries transient failures and transparently decompresses
// responses.
type Client struct {
	cfg  Config
	base *http.Client
}

// New creates a Client from cfg, filling in zero values with defaults.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, base: base}
}

// Get issues a GET with retries. The response body is already decompressed;
// the caller must close it. Responses with status >= 400 are returned
// without error so the caller can decide, except 5xx which are retried.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	var lastErr error
	delay := c.cfg.RetryDelay

	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		resp, err := c.do(ctx, url, header)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server returned %s", resp.Status)
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.cfg.Logger.Debug("request failed, retrying",
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		if attempt == c.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * c.cfg.BackoffMultiplier)
		if delay > c.cfg.RetryMaxDelay {
			delay = c.cfg.RetryMaxDelay
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	if err := decompress(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// decompress swaps the response body for a decompressing reader based on
// Content-Encoding.
func decompress(resp *http.Response) error {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		resp.Body = &wrappedBody{reader: r, closer: resp.Body}
	case "deflate":
		resp.Body = &wrappedBody{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case "br":
		resp.Body = &wrappedBody{reader: io.NopCloser(brotli.NewReader(resp.Body)), closer: resp.Body}
	}
	return nil
}

// wrappedBody closes both the decompressor and the underlying body.
type wrappedBody struct {
	reader io.ReadCloser
	closer io.Closer
}

func (w *wrappedBody) Read(p []byte) (int, error) { return w.reader.Read(p) }

func (w *wrappedBody) Close() error {
	rerr := w.reader.Close()
	cerr := w.closer.Close()
	if rerr != nil {
		return rerr
	}
	return cerr
}
