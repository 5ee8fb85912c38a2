// Package config loads the sandguard configuration file and turns it into
// rewrite settings and runtime limits.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sandguard/internal/denylist"
	"github.com/ppiankov/sandguard/internal/policy"
	"github.com/ppiankov/sandguard/internal/ratelimit"
	"github.com/ppiankov/sandguard/internal/rewrite"
	"github.com/ppiankov/sandguard/internal/runguard"
)

// EnvPath overrides the default config location.
const EnvPath = "SANDGUARD_CONFIG"

// Config is the on-disk configuration. Empty fields keep their defaults.
type Config struct {
	PolicyPath   string          `yaml:"policy_path"`
	DenylistPath string          `yaml:"denylist_path"`
	AuditLog     string          `yaml:"audit_log"`
	Rewrite      RewriteConfig   `yaml:"rewrite"`
	Limits       runguard.Limits `yaml:"limits"`
	// RateLimits caps MCP tool calls by tool name.
	RateLimits ratelimit.RateLimitConfig `yaml:"rate_limits,omitempty"`
}

// RewriteConfig holds the validator limits and exemption patterns.
type RewriteConfig struct {
	LocalsSizeLimit          int64  `yaml:"locals_size_limit"`
	StackPushSizeLimit       int    `yaml:"stack_push_size_limit"`
	ExplicitLayoutPattern    string `yaml:"explicit_layout_pattern"`
	PointerOperationsPattern string `yaml:"pointer_operations_pattern"`
}

// Dir returns ~/.sandguard, or "" when the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sandguard")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Rewrite: RewriteConfig{
			LocalsSizeLimit:          rewrite.DefaultMethodLocalsSizeLimit,
			StackPushSizeLimit:       rewrite.DefaultMethodStackPushSizeLimit,
			ExplicitLayoutPattern:    rewrite.DefaultExplicitLayoutPattern,
			PointerOperationsPattern: rewrite.DefaultPointerOperationsPattern,
		},
		Limits: runguard.DefaultLimits(),
	}
	if dir := Dir(); dir != "" {
		cfg.AuditLog = filepath.Join(dir, "audit.jsonl")
	}
	return cfg
}

// Load reads the config file at path. If path is empty, tries the
// SANDGUARD_CONFIG env var, then ~/.sandguard/config.yaml. A missing file
// yields defaults; values in the file overlay them.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		if dir := Dir(); dir != "" {
			path = filepath.Join(dir, "config.yaml")
		}
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	return cfg, nil
}

// Settings builds rewrite settings from the referenced policy and denylist
// files. It also returns the policy hash for audit entries.
func (c *Config) Settings(logger *zap.Logger) (*rewrite.Settings, string, error) {
	p, hash, err := policy.LoadWithHash(c.PolicyPath)
	if err != nil {
		return nil, "", err
	}
	dl, err := denylist.Load(c.DenylistPath)
	if err != nil {
		return nil, "", err
	}
	layout, err := compile("explicit_layout_pattern", c.Rewrite.ExplicitLayoutPattern)
	if err != nil {
		return nil, "", err
	}
	pointers, err := compile("pointer_operations_pattern", c.Rewrite.PointerOperationsPattern)
	if err != nil {
		return nil, "", err
	}
	return &rewrite.Settings{
		Policy:                   p,
		Denylist:                 dl,
		MethodLocalsSizeLimit:    c.Rewrite.LocalsSizeLimit,
		MethodStackPushSizeLimit: c.Rewrite.StackPushSizeLimit,
		ExplicitLayoutPattern:    layout,
		PointerOperationsPattern: pointers,
		Logger:                   logger,
	}, hash, nil
}

func compile(name, expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("rewrite.%s: invalid regex: %w", name, err)
	}
	return re, nil
}

// DefaultYAML renders the default configuration with every path rooted in
// dir, for sandguard init.
func DefaultYAML(dir string) ([]byte, error) {
	cfg := Default()
	cfg.PolicyPath = filepath.Join(dir, "policy.yaml")
	cfg.DenylistPath = filepath.Join(dir, "denylist.yaml")
	cfg.AuditLog = filepath.Join(dir, "audit.jsonl")
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	header := "# sandguard configuration\n" +
		"# Generated by: sandguard init\n" +
		"#\n" +
		"# Command-line flags override these values. Limits apply to every\n" +
		"# invocation unless a caller passes its own.\n\n"
	return append([]byte(header), body...), nil
}
