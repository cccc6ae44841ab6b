package catalog

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PreReleasePattern marks versions whose name matches Pattern as
// pre-releases shown with DisplayName.
type PreReleasePattern struct {
	Pattern     *regexp.Regexp
	DisplayName string
}

// NewPreReleasePattern compiles pattern.
func NewPreReleasePattern(pattern, displayName string) (PreReleasePattern, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return PreReleasePattern{}, fmt.Errorf("invalid pre-release pattern %q: %w", pattern, err)
	}
	return PreReleasePattern{Pattern: re, DisplayName: displayName}, nil
}

// UnmarshalYAML decodes {pattern, display_name} and compiles the pattern.
func (p *PreReleasePattern) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Pattern     string `yaml:"pattern"`
		DisplayName string `yaml:"display_name"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	compiled, err := NewPreReleasePattern(raw.Pattern, raw.DisplayName)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*p = compiled
	return nil
}

// PreReleaseLabel returns the display name of the first pattern matching
// version, as written in the catalog.
func PreReleaseLabel(version string, patterns []PreReleasePattern) (string, bool) {
	for _, p := range patterns {
		if p.Pattern == nil || !p.Pattern.MatchString(version) {
			continue
		}
		return p.DisplayName, true
	}
	return "", false
}
