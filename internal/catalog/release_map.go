package catalog

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// NamedVersion pairs a version name with its release info.
type NamedVersion struct {
	Name string
	Info *VersionInfo
}

// VersionListEntry is one row of a release listing.
type VersionListEntry struct {
	Name            string
	IsLatest        bool
	IsPreRelease    bool
	PreReleaseLabel string
}

// ReleaseMap holds the releases of a product sorted ascending by version
// (best effort, see CompareVersions).
type ReleaseMap struct {
	entries []NamedVersion
}

// NewReleaseMap builds a sorted release map from versions.
func NewReleaseMap(versions map[string]VersionInfo) ReleaseMap {
	entries := make([]NamedVersion, 0, len(versions))
	for name, info := range versions {
		info := info
		entries = append(entries, NamedVersion{Name: name, Info: &info})
	}
	// Sort by name first so map iteration order cannot leak into ties.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	sortVersions(entries)
	return ReleaseMap{entries: entries}
}

// UnmarshalYAML decodes the versions mapping and sorts it.
func (m *ReleaseMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("versions: %w", ErrExpectedMapping)
	}

	seen := make(map[string]bool, len(node.Content)/2)
	entries := make([]NamedVersion, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if seen[name] {
			return fmt.Errorf("versions: %w: %s", ErrDuplicateKey, name)
		}
		seen[name] = true

		var info VersionInfo
		if err := node.Content[i+1].Decode(&info); err != nil {
			return fmt.Errorf("version %s: %w", name, err)
		}
		entries = append(entries, NamedVersion{Name: name, Info: &info})
	}

	sortVersions(entries)
	m.entries = entries
	return nil
}

func sortVersions(entries []NamedVersion) {
	sort.SliceStable(entries, func(i, j int) bool {
		return CompareVersions(entries[i].Name, entries[j].Name) < 0
	})
}

// Len returns the number of releases.
func (m ReleaseMap) Len() int {
	return len(m.entries)
}

// Names returns the version names in ascending order.
func (m ReleaseMap) Names() []string {
	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.Name
	}
	return names
}

// Get returns the release with the given name.
func (m ReleaseMap) Get(name string) (NamedVersion, bool) {
	for _, e := range m.entries {
		if e.Name == name {
			return e, true
		}
	}
	return NamedVersion{}, false
}

// Latest returns the highest release that is not a pre-release. ok is
// false when the map is empty or only holds pre-releases.
func (m ReleaseMap) Latest(patterns []PreReleasePattern) (NamedVersion, bool) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if _, pre := PreReleaseLabel(m.entries[i].Name, patterns); !pre {
			return m.entries[i], true
		}
	}
	return NamedVersion{}, false
}

// List returns every release from highest to lowest, flagging the latest
// stable release and the pre-releases.
func (m ReleaseMap) List(patterns []PreReleasePattern) []VersionListEntry {
	out := make([]VersionListEntry, 0, len(m.entries))
	hadLatest := false
	for i := len(m.entries) - 1; i >= 0; i-- {
		name := m.entries[i].Name
		entry := VersionListEntry{Name: name}
		if label, pre := PreReleaseLabel(name, patterns); pre {
			entry.IsPreRelease = true
			entry.PreReleaseLabel = label
		} else if !hadLatest {
			entry.IsLatest = true
			hadLatest = true
		}
		out = append(out, entry)
	}
	return out
}
