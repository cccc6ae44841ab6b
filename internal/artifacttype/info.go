package artifacttype

import (
	"github.com/clean-dependency-project/depbox/internal/endpoint"
)

// PathKind tells where an artifact is downloaded from.
type PathKind int

const (
	// PathNone has no download location (nightly info).
	PathNone PathKind = iota
	// PathFile is a file below product/version/ on every endpoint.
	PathFile
	// PathRemoteURL is one URL shared by all endpoints.
	PathRemoteURL
)

// Title is the display title of an artifact. A descriptive title also
// shows the file name as a subtitle.
type Title struct {
	Text     string `json:"title"`
	FileName string `json:"file_name,omitempty"`
}

// SimpleTitle returns a title without subtitle.
func SimpleTitle(text string) Title {
	return Title{Text: text}
}

// DescriptiveTitle returns a title with the file name as subtitle.
func DescriptiveTitle(fileName, text string) Title {
	return Title{Text: text, FileName: fileName}
}

// Subtitle returns the file name of descriptive titles.
func (t Title) Subtitle() string {
	return t.FileName
}

// Info describes one resolved artifact.
type Info struct {
	Title         Title
	Icon          string
	ExtraMarkdown string
	Kind          PathKind
	Path          string
}

// NewFileInfo returns info for a file stored on the endpoints. file is
// relative to the release directory.
func NewFileInfo(title Title, icon, file string) *Info {
	return &Info{Title: title, Icon: icon, Kind: PathFile, Path: file}
}

// NewURLInfo returns info for an artifact at a remote URL.
func NewURLInfo(title Title, icon, url string) *Info {
	return &Info{Title: title, Icon: icon, Kind: PathRemoteURL, Path: url}
}

// NewEmptyInfo returns info without a download location.
func NewEmptyInfo(title Title, icon string) *Info {
	return &Info{Title: title, Icon: icon, Kind: PathNone}
}

// FilePath returns product/version/file for file artifacts.
func (i *Info) FilePath(product, version string) (string, bool) {
	if i.Kind != PathFile {
		return "", false
	}
	return product + "/" + version + "/" + i.Path, true
}

// Link is the download URL of an artifact on one endpoint.
type Link struct {
	Endpoint string `json:"endpoint"`
	Name     string `json:"name"`
	URL      string `json:"url"`
}

// URLs returns one link per endpoint, in the order of the set.
func (i *Info) URLs(product, version string, endpoints *endpoint.Set) []Link {
	if i.Kind == PathNone || endpoints == nil {
		return nil
	}

	links := make([]Link, 0, endpoints.Len())
	for _, ep := range endpoints.All() {
		url := i.Path
		if i.Kind == PathFile {
			path, _ := i.FilePath(product, version)
			url = ep.URL + "/" + path
		}
		links = append(links, Link{Endpoint: ep.Key, Name: ep.Name(), URL: url})
	}
	return links
}
