package artifacttype

import (
	"context"
	"fmt"

	"github.com/clean-dependency-project/depbox/internal/catalog"
	"github.com/clean-dependency-project/depbox/internal/nightly"
)

// Platform is an installer file for one operating system. Nightly builds
// are mirrored from CI, the download value naming the CI artifact.
type Platform struct {
	noDescription

	title     string
	icon      string
	nightlies NightlyStore
}

// NewPlatform returns a platform type. nightlies may be nil, which
// disables nightly downloads.
func NewPlatform(title, icon string, nightlies NightlyStore) *Platform {
	return &Platform{title: title, icon: icon, nightlies: nightlies}
}

// Resolve implements ArtifactType.
func (p *Platform) Resolve(_ context.Context, _, _ string, spec catalog.DownloadSpec, _ *catalog.Setting) (*Info, error) {
	return NewFileInfo(DescriptiveTitle(spec.URL(), p.title), p.icon, spec.URL()), nil
}

// ResolveNightlyInfo implements ArtifactType.
func (p *Platform) ResolveNightlyInfo(_ context.Context, _ string, spec catalog.DownloadSpec, _ *catalog.Setting) (*Info, error) {
	return NewEmptyInfo(DescriptiveTitle(spec.URL(), p.title), p.icon), nil
}

// ResolveNightlyDownload implements ArtifactType.
func (p *Platform) ResolveNightlyDownload(ctx context.Context, product string, spec catalog.DownloadSpec, _ *catalog.Setting, cfg *catalog.NightlyConfig) (*Download, error) {
	return mirrorNightly(ctx, p.nightlies, product, spec, cfg)
}

// mirrorNightly returns the CI artifact named by spec from the latest
// successful run, through the local mirror.
func mirrorNightly(ctx context.Context, store NightlyStore, product string, spec catalog.DownloadSpec, cfg *catalog.NightlyConfig) (*Download, error) {
	if store == nil || cfg == nil {
		return nil, ErrNotSupported
	}

	blob, err := store.GetOrRefresh(ctx, product, spec.URL(), cfg.GitHub.Ref())
	if err != nil {
		if nightly.IsUnavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
		}
		return nil, err
	}
	return &Download{Blob: blob}, nil
}
