package sandguard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/sandguard/internal/audit"
	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/config"
	"github.com/ppiankov/sandguard/internal/interp"
	"github.com/ppiankov/sandguard/internal/rewrite"
	"github.com/ppiankov/sandguard/internal/runguard"
)

// Client validates, instruments and runs modules. Safe for concurrent use.
// The audit log serializes its own writes; mu guards the policy.
type Client struct {
	cfg        clientConfig
	merged     config.Config
	settings   *rewrite.Settings
	policyHash string
	limits     Limits
	registry   *runguard.Registry
	host       *interp.Host
	audit      *audit.Log
	logger     *zap.Logger
	mu         sync.Mutex
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{auditPath: "-"}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.stdout == nil {
		cfg.stdout = io.Discard
	}

	fileCfg := cfg.config
	if fileCfg == nil {
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			return nil, fmt.Errorf("sandguard: failed to load config: %w", err)
		}
		fileCfg = loaded
	}
	merged := *fileCfg
	if cfg.policyPath != "" {
		merged.PolicyPath = cfg.policyPath
	}
	if cfg.denyPath != "" {
		merged.DenylistPath = cfg.denyPath
	}
	if cfg.limits != nil {
		merged.Limits = *cfg.limits
	}

	settings, hash, err := merged.Settings(cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("sandguard: failed to load policy: %w", err)
	}

	host := interp.StandardHost()
	if cfg.host != nil {
		host.Merge(cfg.host)
	}

	c := &Client{
		cfg:        cfg,
		merged:     merged,
		settings:   settings,
		policyHash: hash,
		limits:     merged.Limits.WithDefaults(),
		registry:   runguard.NewRegistry(runguard.WithLogger(cfg.logger)),
		host:       host,
		logger:     cfg.logger,
	}

	auditPath := cfg.auditPath
	if auditPath == "-" {
		auditPath = merged.AuditLog
	}
	if auditPath != "" {
		l, err := audit.Open(auditPath)
		if err != nil {
			return nil, fmt.Errorf("sandguard: %w", err)
		}
		c.audit = l
	}
	return c, nil
}

// Close releases the audit log.
func (c *Client) Close() error {
	if c.audit == nil {
		return nil
	}
	return c.audit.Close()
}

// PolicyHash is the hash of the policy file in effect.
func (c *Client) PolicyHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policyHash
}

// PolicyPaths returns the policy and denylist files in effect. Empty
// entries mean the default location.
func (c *Client) PolicyPaths() (policyPath, denylistPath string) {
	return c.merged.PolicyPath, c.merged.DenylistPath
}

// Reload re-reads the policy and denylist files. Programs already loaded
// keep running; later loads use the new policy. On error the previous
// policy stays in effect.
func (c *Client) Reload() error {
	settings, hash, err := c.merged.Settings(c.logger)
	if err != nil {
		return fmt.Errorf("sandguard: reload policy: %w", err)
	}
	c.mu.Lock()
	old := c.policyHash
	c.settings, c.policyHash = settings, hash
	c.mu.Unlock()
	if old != hash {
		c.logger.Info("policy reloaded", zap.String("old_hash", old), zap.String("policy_hash", hash))
	}
	return nil
}

func (c *Client) current() (*rewrite.Settings, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings, c.policyHash
}

// Registry exposes the guard registry Programs open scopes in.
func (c *Client) Registry() *runguard.Registry { return c.registry }

// Check validates a module without instrumenting it.
func (c *Client) Check(src io.Reader) error {
	data, m, err := decode(src)
	if err != nil {
		return err
	}
	settings, hash := c.current()
	err = rewrite.CheckModule(m, settings)
	if err != nil {
		c.record(rejected(moduleRef(m, data), err), hash)
	}
	return err
}

// Rewrite validates and instruments the module in src and writes it to
// dst. Source and destination must differ.
func (c *Client) Rewrite(src io.Reader, dst io.Writer) (Token, error) {
	if rewrite.SameStream(src, dst) {
		return Token{}, rewrite.ErrSameStream
	}
	p, err := c.Load(src)
	if err != nil {
		return Token{}, err
	}
	if err := bytecode.Encode(dst, p.module); err != nil {
		return Token{}, fmt.Errorf("sandguard: %w", err)
	}
	return p.token, nil
}

// Load validates and instruments the module in src and returns a Program
// ready to invoke.
func (c *Client) Load(src io.Reader) (*Program, error) {
	data, m, err := decode(src)
	if err != nil {
		return nil, err
	}
	ref := moduleRef(m, data)
	settings, hash := c.current()
	res, err := rewrite.RewriteModule(m, settings)
	if err != nil {
		c.record(rejected(ref, err), hash)
		return nil, err
	}
	c.record(audit.AuditEntry{Token: res.Token.String(), Event: audit.EventRewritten, Module: ref}, hash)
	return &Program{client: c, module: res.Module, token: res.Token, stats: res.Stats, ref: ref, policyHash: hash}, nil
}

// LoadFile is Load for a file on disk.
func (c *Client) LoadFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sandguard: %w", err)
	}
	defer f.Close()
	return c.Load(f)
}

func (c *Client) record(e audit.AuditEntry, policyHash string) {
	if c.audit == nil {
		return
	}
	e.PolicyHash = policyHash
	if err := c.audit.Record(e); err != nil {
		c.logger.Warn("audit record failed", zap.Error(err))
	}
}

func decode(src io.Reader) ([]byte, *bytecode.Module, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, nil, fmt.Errorf("sandguard: read module: %w", err)
	}
	m, err := bytecode.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	return data, m, nil
}

func moduleRef(m *bytecode.Module, data []byte) audit.ModuleRef {
	return audit.ModuleRef{Name: m.Name, Hash: audit.HashLine(data)}
}

func rejected(ref audit.ModuleRef, err error) audit.AuditEntry {
	e := audit.AuditEntry{Event: audit.EventRejected, Module: ref, Reason: err.Error()}
	var pv *rewrite.PolicyViolation
	if errors.As(err, &pv) {
		e.Kind = string(pv.Kind)
		e.Subject = pv.Subject()
		e.Method = pv.Location
		e.Reason = pv.Reason
	}
	return e
}
