// Package bucket lists the S3-compatible bucket behind the content origins
// so download pages can show file sizes and modification dates.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clean-dependency-project/depbox/internal/ttlcache"
)

// DefaultTTL is how long a bucket listing is reused.
const DefaultTTL = 900 * time.Second

const defaultRegion = "us-east-1"

// ErrNoBucket is returned when no bucket name is configured.
var ErrNoBucket = errors.New("bucket name is required")

// Object is one listed file.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Config selects the bucket and how to reach it.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string // custom S3-compatible endpoint, optional
	Prefix       string
	UsePathStyle bool
	TTL          time.Duration
}

// NewS3Client builds an S3 client from the default AWS credential chain,
// pointed at cfg.Endpoint when set.
func NewS3Client(ctx context.Context, cfg Config) (*awss3.Client, error) {
	awscfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	switch {
	case cfg.Region != "":
		awscfg.Region = cfg.Region
	case awscfg.Region == "":
		awscfg.Region = defaultRegion
	}

	return awss3.NewFromConfig(awscfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Lister serves cached listings of one bucket prefix.
type Lister struct {
	api    awss3.ListObjectsV2APIClient
	bucket string
	prefix string
	cache  *ttlcache.Cache[map[string]Object]
	logger *slog.Logger
	warned sync.Once
}

// Option configures a Lister.
type Option func(*listerOptions)

type listerOptions struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *listerOptions) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *listerOptions) {
		o.logger = l
	}
}

// NewLister creates a lister over api.
func NewLister(api awss3.ListObjectsV2APIClient, cfg Config, opts ...Option) (*Lister, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	o := listerOptions{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Lister{
		api:    api,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		cache:  ttlcache.New[map[string]Object](ttl, ttlcache.WithClock[map[string]Object](o.now)),
		logger: o.logger,
	}, nil
}

// List returns every object below the prefix, keyed by the path relative
// to the prefix.
func (l *Lister) List(ctx context.Context) (map[string]Object, error) {
	return l.cache.Get(ctx, l.bucket+"/"+l.prefix, l.fetch)
}

func (l *Lister) fetch(ctx context.Context) (map[string]Object, error) {
	input := &awss3.ListObjectsV2Input{Bucket: aws.String(l.bucket)}
	if l.prefix != "" {
		input.Prefix = aws.String(l.prefix)
	}

	objects := make(map[string]Object)
	paginator := awss3.NewListObjectsV2Paginator(l.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", l.bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, l.prefix)
			objects[rel] = Object{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			}
		}
	}

	l.logger.Debug("listed bucket", "bucket", l.bucket, "prefix", l.prefix, "objects", len(objects))
	return objects, nil
}

// Lookup returns the object at path (relative to the prefix). A listing
// failure is reported as a miss; the first failure is logged.
func (l *Lister) Lookup(ctx context.Context, path string) (Object, bool) {
	objects, err := l.List(ctx)
	if err != nil {
		l.warned.Do(func() {
			l.logger.Warn("bucket listing unavailable, file sizes and dates disabled", "bucket", l.bucket, "error", err)
		})
		return Object{}, false
	}
	obj, ok := objects[strings.TrimPrefix(path, "/")]
	return obj, ok
}
