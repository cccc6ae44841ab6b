package artifacttype

import (
	"context"

	"github.com/clean-dependency-project/depbox/internal/catalog"
)

// Fallback serves keys without a type of their own. The download value
// is both the title and the file path, so every key renders something.
type Fallback struct {
	noDescription
	noNightly
}

// Resolve implements ArtifactType.
func (Fallback) Resolve(_ context.Context, _, _ string, spec catalog.DownloadSpec, _ *catalog.Setting) (*Info, error) {
	return NewFileInfo(SimpleTitle(spec.URL()), "", spec.URL()), nil
}
