package configsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clean-dependency-project/depbox/internal/endpoint"
)

const (
	// DefaultTimeout bounds a single document fetch.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "depbox/1.0"

	// DefaultMaxDocumentSize caps the bytes read from an endpoint.
	DefaultMaxDocumentSize = 16 << 20
)

// ErrDocumentTooLarge rejects a response body over the size limit.
var ErrDocumentTooLarge = errors.New("document too large")

// TransportError reports a failed request to an endpoint.
type TransportError struct {
	Endpoint   string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s from endpoint %s: unexpected status %d", e.URL, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s from endpoint %s: %v", e.URL, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPClient defines the interface for HTTP operations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	UserAgent  string
	Timeout    time.Duration
	HTTPClient HTTPClient
	// MaxSize defaults to DefaultMaxDocumentSize.
	MaxSize int64
}

// HTTPFetcher fetches documents over HTTP(S) from {endpoint.URL}/{name}.
type HTTPFetcher struct {
	userAgent string
	timeout   time.Duration
	client    HTTPClient
	maxSize   int64
}

// NewHTTPFetcher creates a fetcher, filling defaults for zero fields.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxDocumentSize
	}
	return &HTTPFetcher{userAgent: cfg.UserAgent, timeout: cfg.Timeout, client: cfg.HTTPClient, maxSize: cfg.MaxSize}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, ep endpoint.Endpoint, name string) ([]byte, error) {
	url := ep.URL + "/" + name

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Endpoint: ep.Key, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: ep.Key, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Endpoint: ep.Key, URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, &TransportError{Endpoint: ep.Key, URL: url, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(body)) > f.maxSize {
		return nil, &TransportError{Endpoint: ep.Key, URL: url, Err: fmt.Errorf("%w: over %d bytes", ErrDocumentTooLarge, f.maxSize)}
	}
	return body, nil
}
