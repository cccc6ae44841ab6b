// Package artifacttype resolves the downloads of a release into
// renderable artifacts. Each artifact key of the catalog (win64, pypi,
// flathub, ...) is served by an ArtifactType registered under that key;
// keys without a registered type go to the fallback type.
package artifacttype

import (
	"context"
	"errors"

	"github.com/clean-dependency-project/depbox/internal/catalog"
	"github.com/clean-dependency-project/depbox/internal/ci"
	"github.com/clean-dependency-project/depbox/internal/nightly"
)

// Sentinel errors returned by artifact types and the dispatcher.
var (
	// ErrMissingSetting means the product lacks the setting an artifact
	// type needs, or the setting has the wrong shape.
	ErrMissingSetting = errors.New("product has no valid setting for this artifact type")

	// ErrNotSupported means the artifact type does not implement the
	// requested operation.
	ErrNotSupported = errors.New("operation not supported by this artifact type")

	// ErrNoFallback means no type is registered for a key and there is no
	// fallback type either. This is a configuration error.
	ErrNoFallback = errors.New("no artifact type registered for key and no fallback provided")

	// ErrUnknownArtifact means the requested key is not a download of the
	// product.
	ErrUnknownArtifact = errors.New("artifact not offered by product")
)

// IsNotFound reports whether err should be shown to a user as a missing
// resource rather than a server failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoFallback) ||
		errors.Is(err, ErrNotSupported) ||
		errors.Is(err, ErrUnknownArtifact) ||
		errors.Is(err, catalog.ErrProductNotFound) ||
		errors.Is(err, catalog.ErrVersionNotFound) ||
		errors.Is(err, catalog.ErrNoNightly)
}

// Description is one titled block of release notes.
type Description struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Download is what a nightly download resolves to: a cached archive or a
// generated flatpakref document.
type Download struct {
	Blob       *nightly.Blob
	Flatpakref *Flatpakref
}

// Close releases the archive handle, if any.
func (d *Download) Close() error {
	if d == nil {
		return nil
	}
	return d.Blob.Close()
}

// ArtifactType is the resolution logic for one class of artifact. Every
// method may decline with ErrNotSupported or ErrMissingSetting.
type ArtifactType interface {
	// Describe returns extra description blocks for a release.
	Describe(ctx context.Context, setting *catalog.Setting, version catalog.NamedVersion) []Description

	// Resolve builds the descriptor of a release download.
	Resolve(ctx context.Context, product, version string, spec catalog.DownloadSpec, setting *catalog.Setting) (*Info, error)

	// ResolveNightlyInfo builds the descriptor of a nightly download.
	ResolveNightlyInfo(ctx context.Context, product string, spec catalog.DownloadSpec, setting *catalog.Setting) (*Info, error)

	// ResolveNightlyDownload produces the nightly download itself.
	ResolveNightlyDownload(ctx context.Context, product string, spec catalog.DownloadSpec, setting *catalog.Setting, cfg *catalog.NightlyConfig) (*Download, error)
}

// NightlyStore mirrors CI artifacts locally. *nightly.Cache implements it.
type NightlyStore interface {
	GetOrRefresh(ctx context.Context, product, artifact string, ref ci.Ref) (*nightly.Blob, error)
}

// ReleaseNotes looks up the notes of a tagged release. *github.Client
// implements it.
type ReleaseNotes interface {
	ReleaseBody(ctx context.Context, repository, tag string) (string, error)
}

// noDescription is embedded by types without release descriptions.
type noDescription struct{}

func (noDescription) Describe(context.Context, *catalog.Setting, catalog.NamedVersion) []Description {
	return nil
}

// noNightly is embedded by types without nightly support.
type noNightly struct{}

func (noNightly) ResolveNightlyInfo(context.Context, string, catalog.DownloadSpec, *catalog.Setting) (*Info, error) {
	return nil, ErrNotSupported
}

func (noNightly) ResolveNightlyDownload(context.Context, string, catalog.DownloadSpec, *catalog.Setting, *catalog.NightlyConfig) (*Download, error) {
	return nil, ErrNotSupported
}
