package catalog

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// AttributeUnsupported marks a download that exists but is not
// supported anymore.
const AttributeUnsupported = "unsupported"

// SpecKind tells the three shapes of a DownloadSpec apart.
type SpecKind int

const (
	SpecNull SpecKind = iota
	SpecURL
	SpecComplex
)

// DownloadSpec is the value of one entry under `downloads`. In YAML it is
// either a string, a mapping with a url and free-form attributes, or null.
type DownloadSpec struct {
	kind       SpecKind
	url        string
	attributes map[string]any
}

// URLSpec returns a plain url spec.
func URLSpec(url string) DownloadSpec {
	return DownloadSpec{kind: SpecURL, url: url}
}

// ComplexSpec returns a spec with attributes.
func ComplexSpec(url string, attributes map[string]any) DownloadSpec {
	return DownloadSpec{kind: SpecComplex, url: url, attributes: attributes}
}

// Kind returns the shape of the download entry.
func (d DownloadSpec) Kind() SpecKind {
	return d.kind
}

// URL returns the url or path of the download; empty for null specs.
func (d DownloadSpec) URL() string {
	return d.url
}

// Attribute returns an extra attribute of a complex spec.
func (d DownloadSpec) Attribute(name string) (any, bool) {
	if d.kind != SpecComplex {
		return nil, false
	}
	v, ok := d.attributes[name]
	return v, ok
}

// IsUnsupported reports whether the entry carries `unsupported: true`.
func (d DownloadSpec) IsUnsupported() bool {
	v, ok := d.Attribute(AttributeUnsupported)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	return isBool && b
}

// UnmarshalYAML decodes the untagged union.
func (d *DownloadSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			*d = DownloadSpec{kind: SpecNull}
			return nil
		}
		*d = URLSpec(node.Value)
		return nil

	case yaml.MappingNode:
		var raw map[string]any
		if err := node.Decode(&raw); err != nil {
			return err
		}
		url, ok := raw["url"].(string)
		if !ok {
			return fmt.Errorf("line %d: %w", node.Line, ErrMissingURL)
		}
		delete(raw, "url")
		*d = ComplexSpec(url, raw)
		return nil

	default:
		return fmt.Errorf("line %d: download must be a string, a mapping or null", node.Line)
	}
}

// Download is one keyed entry of a downloads mapping.
type Download struct {
	Key  string
	Spec DownloadSpec
}

// Downloads is an ordered mapping of artifact key to download spec.
type Downloads []Download

// UnmarshalYAML keeps document order.
func (ds *Downloads) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("downloads: %w", ErrExpectedMapping)
	}

	seen := make(map[string]bool, len(node.Content)/2)
	out := make(Downloads, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if seen[key] {
			return fmt.Errorf("downloads: %w: %s", ErrDuplicateKey, key)
		}
		seen[key] = true

		var spec DownloadSpec
		if err := spec.UnmarshalYAML(node.Content[i+1]); err != nil {
			return fmt.Errorf("download %s: %w", key, err)
		}
		out = append(out, Download{Key: key, Spec: spec})
	}

	*ds = out
	return nil
}

// Get returns the download entry for key.
func (ds Downloads) Get(key string) (DownloadSpec, bool) {
	for _, d := range ds {
		if d.Key == key {
			return d.Spec, true
		}
	}
	return DownloadSpec{}, false
}

// Keys returns the artifact keys in document order.
func (ds Downloads) Keys() []string {
	keys := make([]string, len(ds))
	for i, d := range ds {
		keys[i] = d.Key
	}
	return keys
}
