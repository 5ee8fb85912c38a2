// Package denylist holds the hard limits that no policy file can lift:
// namespaces user code may not declare types in, and APIs user code may
// never reference.
package denylist

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Patterns holds the raw pattern strings organized by category.
type Patterns struct {
	Namespaces []string `yaml:"namespaces"`
	APIs       []string `yaml:"apis"`
}

// Denylist holds compiled patterns for fast matching.
type Denylist struct {
	nsPatterns  []pattern
	apiPatterns []pattern
	raw         Patterns
}

type pattern struct {
	glob string
	re   *regexp.Regexp
}

// New creates a Denylist from raw patterns, compiling regexes. Invalid
// patterns are skipped.
func New(p Patterns) *Denylist {
	d := &Denylist{}
	for _, ns := range p.Namespaces {
		d.AddPattern("namespaces", ns)
	}
	for _, api := range p.APIs {
		d.AddPattern("apis", api)
	}
	return d
}

// NewDefault creates a Denylist with the hardcoded default patterns.
func NewDefault() *Denylist {
	return New(DefaultPatterns)
}

// Load reads a denylist from a YAML file. Falls back to defaults if file doesn't exist.
// Patterns in the file are added to the defaults, never replace them.
func Load(path string) (*Denylist, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return NewDefault(), nil
		}
		path = filepath.Join(home, ".sandguard", "denylist.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil
		}
		return nil, fmt.Errorf("failed to read denylist: %w", err)
	}

	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse denylist: %w", err)
	}

	d := NewDefault()
	for _, ns := range p.Namespaces {
		d.AddPattern("namespaces", ns)
	}
	for _, api := range p.APIs {
		d.AddPattern("apis", api)
	}
	return d, nil
}

// IsReservedNamespace reports whether user code may not declare types in ns.
// Returns (reserved, reason).
func (d *Denylist) IsReservedNamespace(ns string) (bool, string) {
	for _, p := range d.nsPatterns {
		if p.re.MatchString(ns) {
			return true, "reserved namespace: " + p.glob
		}
	}
	return false, ""
}

// IsBlocked checks an API reference of the form Namespace.Type::Member, or
// Namespace.Type for type-only references. Returns (blocked, reason).
func (d *Denylist) IsBlocked(api string) (bool, string) {
	for _, p := range d.apiPatterns {
		if p.re.MatchString(api) {
			return true, "API pattern blocked: " + p.glob
		}
	}
	return false, ""
}

// AddPattern adds a pattern to the denylist at runtime.
func (d *Denylist) AddPattern(category, glob string) {
	compiled, err := regexp.Compile("^" + patternToRegex(glob) + "$")
	if err != nil {
		return
	}
	p := pattern{glob: glob, re: compiled}
	switch category {
	case "namespaces":
		d.raw.Namespaces = append(d.raw.Namespaces, glob)
		d.nsPatterns = append(d.nsPatterns, p)
	case "apis":
		d.raw.APIs = append(d.raw.APIs, glob)
		d.apiPatterns = append(d.apiPatterns, p)
	}
}

// ToMap returns the raw patterns as a map for serialization.
func (d *Denylist) ToMap() map[string]any {
	return map[string]any{
		"namespaces": d.raw.Namespaces,
		"apis":       d.raw.APIs,
	}
}

// patternToRegex converts a simple glob-like pattern to a regex.
// * matches within a type name, ** also crosses the :: member separator.
func patternToRegex(pattern string) string {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\*`, "[^:]*")
	return escaped
}
