package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.sandguard/policy.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sandguard", "policy.yaml")
}

// Load loads the API policy from a YAML file.
// Empty path falls back to ~/.sandguard/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*ApiPolicy, error) {
	p, _, err := LoadWithHash(path)
	return p, err
}

// LoadWithHash loads the API policy and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadWithHash(path string) (*ApiPolicy, string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return Default(), hashBytes(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read policy: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return p, hashBytes(data), nil
}

// Parse overlays a YAML policy onto the defaults. A namespace listed in data
// replaces the default rule of the same name; other defaults stay.
func Parse(data []byte) (*ApiPolicy, error) {
	var file ApiPolicy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	p := Default()
	for name, rule := range file.Namespaces {
		if rule == nil {
			rule = &NamespaceRule{}
		}
		p.Namespaces[name] = rule
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// Hash returns the sha256:<hex> digest of raw policy bytes.
func Hash(data []byte) string { return hashBytes(data) }

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Marshal renders p as YAML.
func Marshal(p *ApiPolicy) ([]byte, error) {
	out, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to render policy: %w", err)
	}
	return out, nil
}

// DefaultYAML returns a commented YAML rendition of Default for init-policy.
func DefaultYAML() ([]byte, error) {
	body, err := Marshal(Default())
	if err != nil {
		return nil, err
	}
	header := `# sandguard API policy
# Generated by: sandguard init-policy
#
# Deny by default. Evaluation order (cannot be changed):
#   1. Hard denylist (reserved namespaces, blocked APIs) -> reject
#   2. Namespace: missing or denied -> reject
#   3. Type: missing -> allowed only under an allowed namespace
#   4. Member: listed -> allowed unless access is denied;
#      missing -> allowed only under an allowed type
#
# access: allowed | neutral | denied (unknown values count as denied)
# rewriters: growth | capacity | disposable | enumerable_iterated | enumerable_collected
#
# A namespace listed here replaces the built-in rule of the same name.
`
	return append([]byte(header), body...), nil
}
