package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/depbox/internal/artifacttype"
	"github.com/clean-dependency-project/depbox/internal/bucket"
	"github.com/clean-dependency-project/depbox/internal/catalog"
	"github.com/clean-dependency-project/depbox/internal/clamav"
	"github.com/clean-dependency-project/depbox/internal/config"
	"github.com/clean-dependency-project/depbox/internal/configsource"
	"github.com/clean-dependency-project/depbox/internal/endpoint"
	"github.com/clean-dependency-project/depbox/internal/github"
	"github.com/clean-dependency-project/depbox/internal/gpg"
	"github.com/clean-dependency-project/depbox/internal/logger"
	"github.com/clean-dependency-project/depbox/internal/nightly"
	"github.com/clean-dependency-project/depbox/internal/proximity"
	"github.com/clean-dependency-project/depbox/internal/storage"
)

// services holds everything a command needs, built from the configuration.
type services struct {
	cfg        *config.Config
	logger     *slog.Logger
	endpoints  *endpoint.Set
	resolver   *configsource.Resolver
	router     *proximity.Router
	github     *github.Client
	nightlies  *nightly.Cache
	history    *storage.DB
	registry   *artifacttype.Registry
	dispatcher *artifacttype.Dispatcher
	closers    []func() error
}

// setup loads the configuration named by the global flags and builds the
// services. The caller must call close.
func setup(c *cli.Context) (*services, error) {
	log, err := logger.New(c.App.ErrWriter, c.String("log-level"), c.String("log-format"))
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		log.Error("failed to load config", "error", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	s, err := newServices(c.Context, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		return nil, err
	}
	return s, nil
}

func newServices(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *services, err error) {
	s := &services{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.endpoints, err = cfg.EndpointSet()
	if err != nil {
		return nil, fmt.Errorf("invalid endpoints: %w", err)
	}

	resolverOpts := []configsource.Option{
		configsource.WithTTL(cfg.Catalog.GetTTL()),
		configsource.WithLogger(log),
	}
	if cfg.Catalog.RequiresSignature() {
		keyRing, err := loadKeyRing(cfg.Catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog keyring: %w", err)
		}
		log.Debug("catalog signatures required", "keys", keyRing.Len())
		resolverOpts = append(resolverOpts, configsource.WithVerifier(keyRing))
	}
	fetcher := configsource.NewHTTPFetcher(configsource.HTTPConfig{
		UserAgent: cfg.Catalog.UserAgent,
		Timeout:   cfg.Catalog.GetTimeout(),
	})
	s.resolver = configsource.NewResolver(fetcher, resolverOpts...)

	if err := s.initRouter(ctx); err != nil {
		return nil, err
	}

	s.github, err = github.NewClientWithBaseURL(cfg.GitHub.Token, cfg.GitHub.BaseURL,
		github.WithCacheTTL(cfg.GitHub.GetCacheTTL()),
		github.WithLogger(log))
	if err != nil {
		return nil, err
	}

	nightlyOpts := []nightly.Option{nightly.WithLogger(log)}
	if cfg.Nightly.HistoryDB != "" {
		s.history, err = storage.InitDB(storage.Config{DatabasePath: cfg.Nightly.HistoryDB, LogLevel: "silent"})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize history database: %w", err)
		}
		s.closers = append(s.closers, s.history.Close)
		nightlyOpts = append(nightlyOpts, nightly.WithHistory(s.history))
	}
	if cfg.Nightly.Scan.Enabled {
		rt, err := clamav.NewDockerRuntime()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize malware scanner: %w", err)
		}
		s.closers = append(s.closers, rt.Close)
		scanner := clamav.New(rt, cfg.Nightly.Scan.Image, log)
		log.Debug("nightly archives are scanned before publishing", "image", scanner.Image())
		nightlyOpts = append(nightlyOpts, nightly.WithScanner(scanner))
	}
	s.nightlies, err = nightly.New(cfg.Nightly.CacheDir, s.github, nightlyOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize nightly cache: %w", err)
	}

	s.registry = artifacttype.Default(artifacttype.Dependencies{
		Nightlies:    s.nightlies,
		ReleaseNotes: s.github,
	})
	dispatcherOpts := []artifacttype.DispatcherOption{
		artifacttype.WithCI(s.github),
		artifacttype.WithLogger(log),
	}
	if cfg.Bucket.Enabled {
		lister, err := s.newLister(ctx)
		if err != nil {
			return nil, err
		}
		dispatcherOpts = append(dispatcherOpts, artifacttype.WithMetadata(lister))
	}
	s.dispatcher = artifacttype.NewDispatcher(s.registry, dispatcherOpts...)
	return s, nil
}

func loadKeyRing(cc config.CatalogConfig) (gpg.KeyRing, error) {
	if cc.KeyringPath != "" {
		return gpg.LoadKeyRingFromPath(cc.KeyringPath)
	}
	return gpg.LoadKeyRingFromStrings(cc.Keys)
}

func (s *services) initRouter(ctx context.Context) error {
	strategy, err := s.cfg.GeoIP.GetStrategy()
	if err != nil {
		return err
	}

	var locator proximity.Locator
	if path := s.cfg.GeoIP.DatabasePath; path != "" {
		mm, err := proximity.OpenMaxMind(path)
		if err != nil {
			return fmt.Errorf("failed to open geoip database: %w", err)
		}
		s.closers = append(s.closers, mm.Close)
		locator = mm
	} else {
		s.logger.Debug("no geoip database configured, endpoints keep configured order")
	}
	selector := proximity.NewSelector(locator, s.logger)

	var selfIP net.IP
	if strategy == proximity.StrategyStartup && locator != nil {
		selfIP = proximity.PublicIP(ctx, http.DefaultClient, s.cfg.GeoIP.GetPublicIPURL(), s.logger)
	}
	s.router = proximity.NewRouter(ctx, strategy, selector, s.endpoints, selfIP)
	return nil
}

func (s *services) newLister(ctx context.Context) (*bucket.Lister, error) {
	bc := bucket.Config{
		Bucket:       s.cfg.Bucket.Bucket,
		Region:       s.cfg.Bucket.Region,
		Endpoint:     s.cfg.Bucket.Endpoint,
		Prefix:       s.cfg.Bucket.Prefix,
		UsePathStyle: s.cfg.Bucket.UsePathStyle,
		TTL:          s.cfg.Bucket.GetTTL(),
	}
	client, err := bucket.NewS3Client(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return bucket.NewLister(client, bc, bucket.WithLogger(s.logger))
}

// catalog fetches the catalog through the configured endpoints.
func (s *services) catalog(ctx context.Context) (*catalog.Catalog, error) {
	c, err := s.resolver.GetConfig(ctx, s.endpoints)
	if err != nil {
		s.logger.Error("failed to fetch catalog from every endpoint", "error", err)
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	return c, nil
}

func (s *services) product(ctx context.Context, key string) (*catalog.Product, error) {
	if key == "" {
		return nil, errors.New("--product is required")
	}
	c, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	return c.Product(key)
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("failed to release resource", "error", err)
		}
	}
	s.closers = nil
}

// parseClientIP parses the optional --client-ip flag.
func parseClientIP(s string) (net.IP, error) {
	if s == "" {
		return nil, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid client ip %q", s)
	}
	return ip, nil
}
