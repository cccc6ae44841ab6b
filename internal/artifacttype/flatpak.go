package artifacttype

import (
	"context"
	"fmt"
	"strings"

	"github.com/clean-dependency-project/depbox/internal/catalog"
)

// Artifact keys of the flatpak family.
const (
	FlathubKey       = "flathub"
	FlathubBetaKey   = "flathub_beta"
	FlatpakCustomKey = "flatpak_custom"
)

const (
	flathubURL         = "https://dl.flathub.org/repo/"
	flathubRuntimeRepo = "https://dl.flathub.org/repo/flathub.flatpakrepo"

	// FlatpakrefContentType is the media type of .flatpakref documents.
	FlatpakrefContentType = "application/vnd.flatpak.ref"
)

// FlatpakRepo is a flatpak remote.
type FlatpakRepo struct {
	URL           string
	SuggestedName string
	GPGVerify     bool
	Branch        string
}

// FlathubStable is the stable branch of Flathub.
func FlathubStable() *FlatpakRepo {
	return &FlatpakRepo{URL: flathubURL, SuggestedName: "Flathub", GPGVerify: true, Branch: "stable"}
}

// FlathubBeta is the beta branch of Flathub.
func FlathubBeta() *FlatpakRepo {
	return &FlatpakRepo{URL: flathubURL, SuggestedName: "Flathub Beta", GPGVerify: true, Branch: "beta"}
}

// RemoteAddCommand returns the command line adding the repo for the
// current user.
func (r *FlatpakRepo) RemoteAddCommand() string {
	var b strings.Builder
	b.WriteString("flatpak --user remote-add")
	if !r.GPGVerify {
		b.WriteString(" --no-gpg-verify")
	}
	fmt.Fprintf(&b, " %s %s", r.SuggestedName, r.URL)
	return b.String()
}

// customSetting is the setting of flatpak_custom products.
type customSetting struct {
	Repo              string `yaml:"repo"`
	RepoSuggestedName string `yaml:"repo_suggested_name"`
	RepoGPGVerify     *bool  `yaml:"repo_gpg_verify"`
	RepoBranch        string `yaml:"repo_branch"`
	Package           string `yaml:"package"`
}

// Flatpakref is a .flatpakref document installing an application from a
// flatpak remote.
type Flatpakref struct {
	Name        string
	Branch      string
	Title       string
	URL         string
	RuntimeRepo string
	GPGVerify   bool
}

// FileName is the suggested download name.
func (f *Flatpakref) FileName() string {
	return f.Name + ".flatpakref"
}

// String renders the document.
func (f *Flatpakref) String() string {
	return fmt.Sprintf("[Flatpak Ref]\nVersion=1\nName=%s\nBranch=%s\nTitle=%s\nUrl=%s\nRuntimeRepo=%s\ngpg-verify=%t\ngpg-verify-summary=%t\n",
		f.Name, f.Branch, f.Title, f.URL, f.RuntimeRepo, f.GPGVerify, f.GPGVerify)
}

// Flatpak installs a product from a flatpak remote. With a fixed repo
// (Flathub) the setting is the application id. Without one the setting is
// a mapping naming the repo and the package.
type Flatpak struct {
	noDescription

	key  string
	repo *FlatpakRepo
}

// NewFlatpak returns a flatpak type for key. A nil repo reads the repo
// from the product setting.
func NewFlatpak(key string, repo *FlatpakRepo) *Flatpak {
	return &Flatpak{key: key, repo: repo}
}

// Resolve links to the flatpakref of the product.
func (f *Flatpak) Resolve(_ context.Context, product, version string, _ catalog.DownloadSpec, setting *catalog.Setting) (*Info, error) {
	repo, _, err := f.target(setting)
	if err != nil {
		return nil, err
	}
	info := NewURLInfo(SimpleTitle("Linux Flatpak"), "flatpak.png", "/"+f.key+"/"+product+"/"+version)
	info.ExtraMarkdown = f.setupMarkdown(repo)
	return info, nil
}

// ResolveNightlyInfo implements ArtifactType.
func (f *Flatpak) ResolveNightlyInfo(_ context.Context, _ string, _ catalog.DownloadSpec, setting *catalog.Setting) (*Info, error) {
	repo, _, err := f.target(setting)
	if err != nil {
		return nil, err
	}
	info := NewEmptyInfo(SimpleTitle("Linux Flatpak"), "flatpak.png")
	info.ExtraMarkdown = f.setupMarkdown(repo)
	return info, nil
}

// ResolveNightlyDownload renders a flatpakref titled with the product key.
func (f *Flatpak) ResolveNightlyDownload(_ context.Context, product string, _ catalog.DownloadSpec, setting *catalog.Setting, _ *catalog.NightlyConfig) (*Download, error) {
	ref, err := f.ref(product, setting)
	if err != nil {
		return nil, err
	}
	return &Download{Flatpakref: ref}, nil
}

// Flatpakref returns the reference to the latest build on the repo
// branch. Flatpakrefs cannot pin a commit, so every release of a product
// gets the same document.
func (f *Flatpak) Flatpakref(product *catalog.Product) (*Flatpakref, error) {
	if product == nil {
		return nil, ErrMissingSetting
	}
	return f.ref(product.Name, product.Setting(f.key))
}

func (f *Flatpak) ref(title string, setting *catalog.Setting) (*Flatpakref, error) {
	repo, pkg, err := f.target(setting)
	if err != nil {
		return nil, err
	}
	return &Flatpakref{
		Name:        pkg,
		Branch:      repo.Branch,
		Title:       title,
		URL:         repo.URL,
		RuntimeRepo: flathubRuntimeRepo,
		GPGVerify:   repo.GPGVerify,
	}, nil
}

// target returns the repo and the package id for a product setting.
func (f *Flatpak) target(setting *catalog.Setting) (*FlatpakRepo, string, error) {
	if f.repo != nil {
		pkg, ok := setting.AsString()
		if !ok || pkg == "" {
			return nil, "", ErrMissingSetting
		}
		return f.repo, pkg, nil
	}

	if !setting.IsMapping() {
		return nil, "", ErrMissingSetting
	}
	var s customSetting
	if err := setting.Decode(&s); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMissingSetting, err)
	}
	if s.Repo == "" || s.RepoSuggestedName == "" || s.RepoGPGVerify == nil || s.RepoBranch == "" || s.Package == "" {
		return nil, "", ErrMissingSetting
	}
	return &FlatpakRepo{
		URL:           s.Repo,
		SuggestedName: s.RepoSuggestedName,
		GPGVerify:     *s.RepoGPGVerify,
		Branch:        s.RepoBranch,
	}, s.Package, nil
}

func (f *Flatpak) setupMarkdown(repo *FlatpakRepo) string {
	if f.repo == nil {
		return "You may need to set up our custom Flatpak repo first using\n\n```" + repo.RemoteAddCommand() + "```"
	}
	return "See [Quick Setup](https://flatpak.org/setup/) to get started."
}
