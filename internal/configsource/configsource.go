// Package configsource fetches the product catalog from the content
// origins with ordered failover, caching the result for a fixed TTL.
package configsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clean-dependency-project/depbox/internal/catalog"
	"github.com/clean-dependency-project/depbox/internal/endpoint"
	"github.com/clean-dependency-project/depbox/internal/ttlcache"
)

// DefaultTTL is how long a fetched catalog is served before refetching.
const DefaultTTL = 900 * time.Second

// ErrNoEndpoints is returned when GetConfig is called without endpoints.
var ErrNoEndpoints = errors.New("no endpoints to fetch the catalog from")

// ErrSignatureInvalid reports a catalog whose detached signature did not
// verify.
var ErrSignatureInvalid = errors.New("catalog signature verification failed")

// Fetcher retrieves raw documents from an endpoint.
type Fetcher interface {
	// Fetch returns the bytes of name below the endpoint's base URL.
	Fetch(ctx context.Context, ep endpoint.Endpoint, name string) ([]byte, error)
}

// Verifier checks a detached signature over a catalog document.
type Verifier interface {
	VerifyDetached(message, signature []byte) error
}

// Resolver implements catalog retrieval for endpoint sets.
type Resolver struct {
	fetcher  Fetcher
	verifier Verifier
	cache    *ttlcache.Cache[*catalog.Catalog]
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*resolverOptions)

type resolverOptions struct {
	ttl      time.Duration
	now      func() time.Time
	verifier Verifier
	logger   *slog.Logger
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *resolverOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *resolverOptions) {
		o.now = now
	}
}

// WithVerifier requires every catalog to carry a valid detached
// signature (catalog.FileName + ".sig").
func WithVerifier(v Verifier) Option {
	return func(o *resolverOptions) {
		o.verifier = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *resolverOptions) {
		o.logger = l
	}
}

// NewResolver creates a resolver fetching through f.
func NewResolver(f Fetcher, opts ...Option) *Resolver {
	o := resolverOptions{ttl: DefaultTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Resolver{
		fetcher:  f,
		verifier: o.verifier,
		cache:    ttlcache.New[*catalog.Catalog](o.ttl, ttlcache.WithClock[*catalog.Catalog](o.now)),
		logger:   o.logger,
	}
}

// GetConfig returns the catalog of the first endpoint, in priority order,
// that serves a valid document. Results are cached per endpoint set for
// the TTL and concurrent misses share one fetch. When every endpoint fails
// the error of the last endpoint is returned.
func (r *Resolver) GetConfig(ctx context.Context, endpoints *endpoint.Set) (*catalog.Catalog, error) {
	if endpoints == nil || endpoints.Len() == 0 {
		return nil, ErrNoEndpoints
	}

	return r.cache.Get(ctx, endpoints.CacheKey(), func(ctx context.Context) (*catalog.Catalog, error) {
		return r.fetchWithFailover(ctx, endpoints)
	})
}

func (r *Resolver) fetchWithFailover(ctx context.Context, endpoints *endpoint.Set) (*catalog.Catalog, error) {
	var lastErr error
	for _, ep := range endpoints.All() {
		c, err := r.fetchFrom(ctx, ep)
		if err == nil {
			r.logger.Debug("fetched catalog", "endpoint", ep.Key, "products", c.Products.Len())
			return c, nil
		}
		r.logger.Warn("failed to fetch catalog from endpoint", "endpoint", ep.Key, "url", ep.URL, "error", err)
		lastErr = err
	}
	return nil, lastErr
}

func (r *Resolver) fetchFrom(ctx context.Context, ep endpoint.Endpoint) (*catalog.Catalog, error) {
	data, err := r.fetcher.Fetch(ctx, ep, catalog.FileName)
	if err != nil {
		return nil, err
	}

	if r.verifier != nil {
		sig, err := r.fetcher.Fetch(ctx, ep, catalog.FileName+".sig")
		if err != nil {
			return nil, err
		}
		if err := r.verifier.VerifyDetached(data, sig); err != nil {
			return nil, fmt.Errorf("%w from %s: %v", ErrSignatureInvalid, ep.Key, err)
		}
	}

	return catalog.Parse(data, ep.URL+"/"+catalog.FileName)
}
