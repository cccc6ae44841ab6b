package artifacttype

import (
	"context"
	"log/slog"
	"strings"

	"github.com/clean-dependency-project/depbox/internal/catalog"
)

// GitHubKey is the artifact key of source links to GitHub.
const GitHubKey = "github"

// changelogSeparator splits a release body into sections.
const changelogSeparator = "---\r\n"

// GitHub links to the source tree of a release and takes the release
// changelog from the GitHub release of the same tag. The product setting
// is the repository as "org/repo".
type GitHub struct {
	noNightly

	notes  ReleaseNotes
	logger *slog.Logger
}

// NewGitHub returns the GitHub type. notes may be nil, which disables
// changelogs.
func NewGitHub(notes ReleaseNotes) *GitHub {
	return &GitHub{notes: notes, logger: slog.Default()}
}

// Describe adds a "Changelog" block from the GitHub release. The release
// tag is the version's changelog reference, or the version name. With a
// changelog section set, only that section of the body is used.
func (g *GitHub) Describe(ctx context.Context, setting *catalog.Setting, version catalog.NamedVersion) []Description {
	repository, ok := setting.AsString()
	if !ok {
		g.logger.Debug("no setting for github artifact type, not fetching changelog")
		return nil
	}
	if g.notes == nil {
		return nil
	}

	tag := version.Name
	if version.Info != nil && version.Info.Changelog != "" {
		tag = version.Info.Changelog
	}

	body, err := g.notes.ReleaseBody(ctx, repository, tag)
	if err != nil {
		g.logger.Debug("failed to read github release", "repository", repository, "tag", tag, "error", err)
		return nil
	}
	if body == "" {
		return nil
	}

	if version.Info != nil && version.Info.ChangelogSection != nil {
		sections := strings.Split(body, changelogSeparator)
		n := *version.Info.ChangelogSection
		if n < 0 || n >= len(sections) {
			return nil
		}
		body = sections[n]
	}
	return []Description{{Title: "Changelog", Body: body}}
}

// Resolve implements ArtifactType.
func (g *GitHub) Resolve(_ context.Context, _, version string, _ catalog.DownloadSpec, setting *catalog.Setting) (*Info, error) {
	repository, ok := setting.AsString()
	if !ok {
		return nil, ErrMissingSetting
	}
	return NewURLInfo(SimpleTitle("Source on GitHub"), "github.png",
		"https://github.com/"+repository+"/tree/"+version), nil
}
