package proximity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/clean-dependency-project/depbox/internal/endpoint"
)

// Strategy decides when proximity is computed.
type Strategy string

const (
	// StrategyPerRequest locates every client and picks its closest endpoint.
	StrategyPerRequest Strategy = "per_request"

	// StrategyStartup sorts the endpoints once by the server's own public
	// address and serves that fixed order to every client.
	StrategyStartup Strategy = "startup"

	// DefaultPublicIPURL returns the caller's address as plain text.
	DefaultPublicIPURL = "https://api.ipify.org"
)

// ParseStrategy parses a strategy name. The empty string selects
// StrategyPerRequest.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyPerRequest:
		return StrategyPerRequest, nil
	case StrategyStartup:
		return StrategyStartup, nil
	default:
		return "", fmt.Errorf("unknown proximity strategy %q", s)
	}
}

// Router serves the preferred endpoint according to its strategy.
type Router struct {
	strategy  Strategy
	selector  *Selector
	endpoints *endpoint.Set
}

// NewRouter builds a router. For StrategyStartup the set is sorted once
// using selfIP; selfIP is ignored otherwise.
func NewRouter(ctx context.Context, strategy Strategy, selector *Selector, set *endpoint.Set, selfIP net.IP) *Router {
	r := &Router{strategy: strategy, selector: selector, endpoints: set}
	if strategy == StrategyStartup {
		r.endpoints = selector.Sort(ctx, set, selfIP)
	}
	return r
}

// Strategy returns the configured strategy.
func (r *Router) Strategy() Strategy {
	return r.strategy
}

// Endpoints returns the endpoints in display order.
func (r *Router) Endpoints() *endpoint.Set {
	return r.endpoints
}

// Best returns the preferred endpoint for a client.
func (r *Router) Best(ctx context.Context, clientIP net.IP) endpoint.Endpoint {
	if r.strategy == StrategyStartup {
		return r.endpoints.First()
	}
	return r.selector.Best(ctx, r.endpoints, clientIP)
}

// HTTPClient defines the interface for HTTP operations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// PublicIP asks url for the server's own public address. Any failure
// yields the loopback address, which no geolocation database can place.
func PublicIP(ctx context.Context, client HTTPClient, url string, logger *slog.Logger) net.IP {
	if logger == nil {
		logger = slog.Default()
	}
	fallback := net.IPv4(127, 0, 0, 1)

	ip, err := fetchPublicIP(ctx, client, url)
	if err != nil {
		logger.Warn("failed to determine public ip, using loopback", "url", url, "error", err)
		return fallback
	}
	return ip
}

func fetchPublicIP(ctx context.Context, client HTTPClient, url string) (net.IP, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch public ip: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	ip := net.ParseIP(strings.TrimSpace(string(body)))
	if ip == nil {
		return nil, fmt.Errorf("response %q is not an ip address", strings.TrimSpace(string(body)))
	}
	return ip, nil
}
