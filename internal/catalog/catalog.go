// Package catalog defines the product catalog document (products.yml)
// served by the content origins: products, their releases and the
// downloads of each release.
package catalog

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/clean-dependency-project/depbox/internal/ci"
)

// FileName is the name of the catalog document on every endpoint.
const FileName = "products.yml"

// Sentinel errors for catalog decoding.
var (
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrExpectedMapping = errors.New("expected a mapping")
	ErrMissingURL      = errors.New("download entry needs a url")
	ErrProductNotFound = errors.New("product not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrNoNightly       = errors.New("product has no nightly configuration")
)

// ParseError reports a catalog document that could not be decoded.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse catalog from %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Catalog is an immutable snapshot of products.yml. A refresh replaces
// the whole value.
type Catalog struct {
	Products           Products            `yaml:"products"`
	Banner             *Banner             `yaml:"banner"`
	PreReleasePatterns []PreReleasePattern `yaml:"pre_release_patterns"`
}

// Banner is an optional promotional banner shown above the product list.
type Banner struct {
	URLFile   string `yaml:"url_file"`
	ImageFile string `yaml:"image_file"`
}

// Parse decodes a catalog document. source names the origin in errors.
func Parse(data []byte, source string) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	return &c, nil
}

// Product returns the product with the given key.
func (c *Catalog) Product(key string) (*Product, error) {
	p, ok := c.Products.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, key)
	}
	return p, nil
}

// Products is an ordered mapping of product key to product.
type Products struct {
	keys  []string
	items map[string]*Product
}

// UnmarshalYAML keeps the document order of the products mapping.
func (p *Products) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("products: %w", ErrExpectedMapping)
	}

	p.keys = make([]string, 0, len(node.Content)/2)
	p.items = make(map[string]*Product, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, exists := p.items[key]; exists {
			return fmt.Errorf("products: %w: %s", ErrDuplicateKey, key)
		}

		var product Product
		if err := node.Content[i+1].Decode(&product); err != nil {
			return fmt.Errorf("product %s: %w", key, err)
		}
		p.keys = append(p.keys, key)
		p.items[key] = &product
	}
	return nil
}

// Keys returns the product keys in document order.
func (p Products) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Get returns a product by key.
func (p Products) Get(key string) (*Product, bool) {
	product, ok := p.items[key]
	return product, ok
}

// Len returns the number of products.
func (p Products) Len() int {
	return len(p.keys)
}

// Product is one downloadable product with its release history.
type Product struct {
	Name     string             `yaml:"name"`
	IconPath string             `yaml:"icon_path"`
	Settings map[string]Setting `yaml:"settings"`
	Versions ReleaseMap         `yaml:"versions"`
	Nightly  *NightlyConfig     `yaml:"nightly"`
}

// Setting returns the per-artifact-type setting for key, or nil.
func (p *Product) Setting(key string) *Setting {
	s, ok := p.Settings[key]
	if !ok {
		return nil
	}
	return &s
}

// Setting is an opaque per-product configuration value for one artifact
// type. Each artifact type decides which shape it expects.
type Setting struct {
	node yaml.Node
}

// NewSetting builds a setting from a Go value.
func NewSetting(v any) (*Setting, error) {
	var s Setting
	if err := s.node.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode setting: %w", err)
	}
	return &s, nil
}

// UnmarshalYAML stores the raw node.
func (s *Setting) UnmarshalYAML(node *yaml.Node) error {
	s.node = *node
	return nil
}

// AsString returns the setting when it is a plain string.
func (s *Setting) AsString() (string, bool) {
	if s == nil || s.node.Kind != yaml.ScalarNode || s.node.ShortTag() != "!!str" {
		return "", false
	}
	return s.node.Value, true
}

// IsMapping reports whether the setting is a mapping.
func (s *Setting) IsMapping() bool {
	return s != nil && s.node.Kind == yaml.MappingNode
}

// Decode decodes the setting into v.
func (s *Setting) Decode(v any) error {
	if s == nil {
		return errors.New("setting is not set")
	}
	return s.node.Decode(v)
}

// VersionInfo describes one release.
type VersionInfo struct {
	Date             string    `yaml:"date"`
	Description      string    `yaml:"description"`
	Changelog        string    `yaml:"changelog"`
	ChangelogSection *int      `yaml:"changelog_section"`
	Downloads        Downloads `yaml:"downloads"`
}

// NightlyConfig points a product at the CI workflow producing its
// rolling builds.
type NightlyConfig struct {
	GitHub    GitHubRef `yaml:"github"`
	Downloads Downloads `yaml:"downloads"`
}

// GitHubRef identifies a workflow on a branch of a GitHub repository.
type GitHubRef struct {
	Org      string `yaml:"org"`
	Repo     string `yaml:"repo"`
	Workflow string `yaml:"workflow"`
	Branch   string `yaml:"branch"`
}

// Ref converts the reference for the CI client.
func (g GitHubRef) Ref() ci.Ref {
	return ci.Ref{Org: g.Org, Repo: g.Repo, Workflow: g.Workflow, Branch: g.Branch}
}
