package artifacttype

import (
	"context"

	"github.com/clean-dependency-project/depbox/internal/catalog"
)

// PyPIKey is the artifact key of PyPI package links.
const PyPIKey = "pypi"

// PyPI links to a release on PyPI. The product setting is the project
// name.
type PyPI struct {
	noDescription
	noNightly
}

// Resolve implements ArtifactType.
func (PyPI) Resolve(_ context.Context, _, version string, _ catalog.DownloadSpec, setting *catalog.Setting) (*Info, error) {
	project, ok := setting.AsString()
	if !ok {
		return nil, ErrMissingSetting
	}
	return NewURLInfo(SimpleTitle("Package on PyPi"), "pypi.png",
		"https://pypi.org/project/"+project+"/"+version+"/"), nil
}
