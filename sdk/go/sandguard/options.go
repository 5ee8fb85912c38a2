package sandguard

import (
	"io"

	"go.uber.org/zap"

	"github.com/ppiankov/sandguard/internal/config"
	"github.com/ppiankov/sandguard/internal/interp"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	config     *config.Config
	configPath string
	policyPath string
	denyPath   string
	auditPath  string
	limits     *Limits
	host       *interp.Host
	stdout     io.Writer
	logger     *zap.Logger
}

// WithConfig loads settings from a config file instead of the default
// location.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithSettings uses an already loaded config.
func WithSettings(cfg *config.Config) Option {
	return func(c *clientConfig) { c.config = cfg }
}

// WithPolicy sets the path to a policy YAML file.
func WithPolicy(path string) Option {
	return func(c *clientConfig) { c.policyPath = path }
}

// WithDenylist sets the path to a denylist YAML file.
func WithDenylist(path string) Option {
	return func(c *clientConfig) { c.denyPath = path }
}

// WithAudit appends rewrite and run outcomes to the hash-chained log at
// path. Pass "" to disable auditing even if the config names a log.
func WithAudit(path string) Option {
	return func(c *clientConfig) { c.auditPath = path }
}

// WithLimits sets the default limits for every invocation.
func WithLimits(l Limits) Option {
	return func(c *clientConfig) { c.limits = &l }
}

// WithHost adds host bindings on top of the standard library.
func WithHost(h *interp.Host) Option {
	return func(c *clientConfig) { c.host = h }
}

// WithStdout receives Console output of invoked programs.
func WithStdout(w io.Writer) Option {
	return func(c *clientConfig) { c.stdout = w }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// InvokeOption configures a single Invoke call.
type InvokeOption func(*invokeConfig)

type invokeConfig struct {
	limits Limits
	stdout io.Writer
}

// InvokeWithLimits overrides the client limits for one invocation.
func InvokeWithLimits(l Limits) InvokeOption {
	return func(i *invokeConfig) { i.limits = l }
}

// InvokeWithStdout captures Console output of one invocation.
func InvokeWithStdout(w io.Writer) InvokeOption {
	return func(i *invokeConfig) { i.stdout = w }
}
