package artifacttype

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/clean-dependency-project/depbox/internal/bucket"
	"github.com/clean-dependency-project/depbox/internal/catalog"
	"github.com/clean-dependency-project/depbox/internal/ci"
	"github.com/clean-dependency-project/depbox/internal/endpoint"
	"github.com/clean-dependency-project/depbox/internal/nightly"
)

// NightlyEndpoint is the pseudo endpoint name of nightly download links.
const NightlyEndpoint = "nightly-download"

// maxParallel bounds concurrent resolutions per request.
const maxParallel = 8

// Artifact is a resolved download ready for rendering.
type Artifact struct {
	Key           string `json:"key"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle,omitempty"`
	Icon          string `json:"icon,omitempty"`
	ModifiedDate  string `json:"modified_date,omitempty"`
	FileSize      string `json:"file_size,omitempty"`
	Links         []Link `json:"links"`
	ExtraMarkdown string `json:"extra_markdown,omitempty"`
	Unsupported   bool   `json:"unsupported,omitempty"`
}

// Metadata looks up the size and modification time of stored files.
// *bucket.Lister implements it.
type Metadata interface {
	Lookup(ctx context.Context, path string) (bucket.Object, bool)
}

// NightlyStatus describes the run nightly downloads are built from.
type NightlyStatus struct {
	Run      *ci.Run `json:"run,omitempty"`
	Markdown string  `json:"markdown"`
}

// Dispatcher resolves the artifacts of releases through a registry.
type Dispatcher struct {
	registry *Registry
	metadata Metadata
	ci       ci.Client
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetadata annotates file artifacts with size and date.
func WithMetadata(m Metadata) DispatcherOption {
	return func(d *Dispatcher) {
		d.metadata = m
	}
}

// WithCI enables NightlyInfo.
func WithCI(c ci.Client) DispatcherOption {
	return func(d *Dispatcher) {
		d.ci = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher returns a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Describe collects the description blocks of every registered type for
// a release, in registration order.
func (d *Dispatcher) Describe(ctx context.Context, product *catalog.Product, version catalog.NamedVersion) []Description {
	var out []Description
	d.registry.each(func(key string, t ArtifactType) {
		out = append(out, t.Describe(ctx, product.Setting(key), version)...)
	})
	return out
}

// Collect resolves every download of a release. Downloads that fail to
// resolve are logged and left out; the others keep their catalog order.
func (d *Dispatcher) Collect(ctx context.Context, productKey string, product *catalog.Product, version catalog.NamedVersion, endpoints *endpoint.Set) []Artifact {
	if version.Info == nil {
		return nil
	}
	downloads := version.Info.Downloads

	results := make([]*Artifact, len(downloads))
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, dl := range downloads {
		g.Go(func() error {
			a, err := d.resolve(ctx, productKey, product, version.Name, dl, endpoints)
			if err != nil {
				d.logger.Warn("was unable to serve artifact",
					"artifact", dl.Key, "version", version.Name, "product", productKey, "error", err)
				return nil
			}
			results[i] = a
			return nil
		})
	}
	_ = g.Wait()

	return compact(results)
}

func (d *Dispatcher) resolve(ctx context.Context, productKey string, product *catalog.Product, version string, dl catalog.Download, endpoints *endpoint.Set) (*Artifact, error) {
	t, err := d.registry.Lookup(dl.Key)
	if err != nil {
		return nil, err
	}
	info, err := t.Resolve(ctx, productKey, version, dl.Spec, product.Setting(dl.Key))
	if err != nil {
		return nil, err
	}

	a := newArtifact(dl.Key, info)
	a.Links = info.URLs(productKey, version, endpoints)
	a.Unsupported = dl.Spec.IsUnsupported()

	if path, ok := info.FilePath(productKey, version); ok && d.metadata != nil {
		if obj, found := d.metadata.Lookup(ctx, path); found {
			a.FileSize = FormatSize(obj.Size)
			a.ModifiedDate = FormatDate(obj.LastModified)
		}
	}
	return a, nil
}

// CollectNightly resolves the nightly downloads of a product. Each links
// to /nightly-download/{product}/{key}.
func (d *Dispatcher) CollectNightly(ctx context.Context, productKey string, product *catalog.Product) ([]Artifact, error) {
	if product.Nightly == nil {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNoNightly, productKey)
	}
	downloads := product.Nightly.Downloads

	results := make([]*Artifact, len(downloads))
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, dl := range downloads {
		g.Go(func() error {
			t, err := d.registry.Lookup(dl.Key)
			if err == nil {
				var info *Info
				info, err = t.ResolveNightlyInfo(ctx, productKey, dl.Spec, product.Setting(dl.Key))
				if err == nil {
					a := newArtifact(dl.Key, info)
					a.Links = []Link{{
						Endpoint: NightlyEndpoint,
						Name:     NightlyEndpoint,
						URL:      "/" + NightlyEndpoint + "/" + productKey + "/" + dl.Key,
					}}
					results[i] = a
					return nil
				}
			}
			d.logger.Warn("was unable to serve nightly artifact info",
				"artifact", dl.Key, "product", productKey, "error", err)
			return nil
		})
	}
	_ = g.Wait()

	return compact(results), nil
}

// NightlyDownload resolves the nightly download key of a product. Errors
// for which IsNotFound holds mean there is nothing to serve.
func (d *Dispatcher) NightlyDownload(ctx context.Context, productKey string, product *catalog.Product, key string) (*Download, error) {
	if product.Nightly == nil {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNoNightly, productKey)
	}
	spec, ok := product.Nightly.Downloads.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownArtifact, productKey, key)
	}

	t, err := d.registry.Lookup(key)
	if err != nil {
		return nil, err
	}
	dl, err := t.ResolveNightlyDownload(ctx, productKey, spec, product.Setting(key), product.Nightly)
	if err != nil {
		if !IsNotFound(err) {
			d.logger.Error("nightly artifact download failed", "product", productKey, "artifact", key, "error", err)
		}
		return nil, err
	}
	return dl, nil
}

// NightlyInfo describes the latest successful run of the product's
// nightly workflow. A workflow without successful runs yields an empty
// status.
func (d *Dispatcher) NightlyInfo(ctx context.Context, productKey string, product *catalog.Product) (*NightlyStatus, error) {
	if product.Nightly == nil {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNoNightly, productKey)
	}
	if d.ci == nil {
		return nil, ErrNotSupported
	}

	ref := product.Nightly.GitHub.Ref()
	run, err := d.ci.LatestSuccessfulRun(ctx, ref)
	if err != nil {
		if errors.Is(err, ci.ErrNoSuccessfulRun) {
			return &NightlyStatus{}, nil
		}
		return nil, err
	}
	return &NightlyStatus{Run: run, Markdown: nightly.RunMarkdown(ref, run)}, nil
}

func newArtifact(key string, info *Info) *Artifact {
	return &Artifact{
		Key:           key,
		Title:         info.Title.Text,
		Subtitle:      info.Title.Subtitle(),
		Icon:          info.Icon,
		ExtraMarkdown: info.ExtraMarkdown,
	}
}

func compact(results []*Artifact) []Artifact {
	out := make([]Artifact, 0, len(results))
	for _, a := range results {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}
