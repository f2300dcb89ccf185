// Package fetcher downloads submitted video URLs into job storage. From
// the pipeline's viewpoint a fetched video is identical to an uploaded
// one.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/framesight/framesight/internal/config"
	"github.com/framesight/framesight/internal/httpclient"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/observability"
)

// ErrTooLarge indicates the download exceeded the configured size cap.
var ErrTooLarge = errors.New("download exceeds size limit")

// Fetcher retrieves a remote video into a local file.
type Fetcher interface {
	// Fetch downloads rawURL to dstPath, optionally sending cookies, and
	// returns the filename derived from the URL and the bytes written.
	Fetch(ctx context.Context, rawURL, cookies, dstPath string) (filename string, size int64, err error)
}

// HTTPFetcher downloads over HTTP(S) with retries.
type HTTPFetcher struct {
	client   *httpclient.Client
	maxBytes int64
	logger   *slog.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// New creates an HTTPFetcher from the fetcher configuration.
func New(cfg config.FetcherConfig, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "fetcher")

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Timeout
	clientCfg.Logger = logger
	return &HTTPFetcher{
		client:   httpclient.New(clientCfg),
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, cookies, dstPath string) (string, int64, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", 0, fmt.Errorf("%w: unsupported url %q", models.ErrInvalidInput, rawURL)
	}

	var header http.Header
	if cookies != "" {
		header = http.Header{}
		header.Set("Cookie", cookies)
	}

	resp, err := f.client.Get(ctx, rawURL, header)
	if err != nil {
		return "", 0, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: server returned %s for %s", models.ErrInvalidInput, resp.Status, rawURL)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return "", 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	size, err := f.save(resp.Body, dstPath)
	if err != nil {
		return "", 0, err
	}

	filename := filenameFromURL(parsed)
	f.logger.Info("video fetched",
		slog.String("url", rawURL),
		slog.String("filename", filename),
		slog.Int64("bytes", size),
	)
	return filename, size, nil
}

func (f *HTTPFetcher) save(body io.Reader, dstPath string) (int64, error) {
	if err := os.MkdirAll(path.Dir(dstPath), 0o750); err != nil {
		return 0, fmt.Errorf("creating video directory: %w", err)
	}
	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("creating video file: %w", err)
	}
	defer out.Close()

	reader := body
	if f.maxBytes > 0 {
		reader = io.LimitReader(body, f.maxBytes+1)
	}
	size, err := io.Copy(out, reader)
	if err != nil {
		os.Remove(dstPath)
		return 0, fmt.Errorf("writing video file: %w", err)
	}
	if f.maxBytes > 0 && size > f.maxBytes {
		os.Remove(dstPath)
		return 0, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	if size == 0 {
		os.Remove(dstPath)
		return 0, fmt.Errorf("%w: empty download", models.ErrInvalidInput)
	}
	return size, nil
}

// filenameFromURL derives a stored filename from the URL path, falling
// back to a generic name when the path carries none.
func filenameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return "video.mp4"
	}
	return name
}
