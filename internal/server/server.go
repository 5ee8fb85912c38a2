// Package server hosts a long-lived sandguard client for tool surfaces:
// it accepts modules as bytes, reports outcomes as plain structs, and
// hot-reloads the policy while running.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/rewrite"
	"github.com/ppiankov/sandguard/sdk/go/sandguard"
)

// Config holds server configuration.
type Config struct {
	ConfigPath   string
	PolicyPath   string
	DenylistPath string
	AuditLogPath string
	NoAudit      bool
	Limits       sandguard.Limits
}

// Server wraps one sandguard client. Safe for concurrent use.
type Server struct {
	client *sandguard.Client
	cfg    Config
	logger *zap.Logger
}

// Rejection describes why a module failed validation.
type Rejection struct {
	Kind     string `json:"kind"`
	Subject  string `json:"subject,omitempty"`
	Location string `json:"location,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message"`
}

// CheckResult is the outcome of validating a module.
type CheckResult struct {
	OK         bool       `json:"ok"`
	Rejection  *Rejection `json:"rejection,omitempty"`
	PolicyHash string     `json:"policy_hash"`
}

// RewriteResult is an instrumented module.
type RewriteResult struct {
	Token  string          `json:"token"`
	Module []byte          `json:"module"`
	Stats  sandguard.Stats `json:"stats"`
}

// RunRequest names the entry point and budget of one run.
type RunRequest struct {
	Module []byte
	Type   string
	Method string
	Args   []any
	Limits sandguard.Limits
}

// RunResult is the outcome of one guarded run.
type RunResult struct {
	Token       string `json:"token"`
	Value       string `json:"value,omitempty"`
	Output      string `json:"output,omitempty"`
	Violated    bool   `json:"violated"`
	Kind        string `json:"kind,omitempty"`
	Error       string `json:"error,omitempty"`
	StackBytes  int64  `json:"stack_bytes"`
	Allocations int64  `json:"allocations"`
	Jumps       int64  `json:"jumps"`
	ElapsedMS   int64  `json:"elapsed_ms"`
}

// New creates a server with loaded config, policy and denylist.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []sandguard.Option{
		sandguard.WithConfig(cfg.ConfigPath),
		sandguard.WithPolicy(cfg.PolicyPath),
		sandguard.WithDenylist(cfg.DenylistPath),
		sandguard.WithLogger(logger),
	}
	switch {
	case cfg.NoAudit:
		opts = append(opts, sandguard.WithAudit(""))
	case cfg.AuditLogPath != "":
		opts = append(opts, sandguard.WithAudit(cfg.AuditLogPath))
	}
	if cfg.Limits != (sandguard.Limits{}) {
		opts = append(opts, sandguard.WithLimits(cfg.Limits))
	}
	client, err := sandguard.New(opts...)
	if err != nil {
		return nil, err
	}
	return &Server{client: client, cfg: cfg, logger: logger}, nil
}

// Close releases the audit log.
func (s *Server) Close() error { return s.client.Close() }

// PolicyHash returns the hash of the policy in effect.
func (s *Server) PolicyHash() string { return s.client.PolicyHash() }

// WatchPaths returns the files a Reloader should watch.
func (s *Server) WatchPaths() []string {
	p, d := s.client.PolicyPaths()
	return []string{p, d}
}

// ReloadPolicy re-reads policy and denylist. On error the old policy stays.
func (s *Server) ReloadPolicy() error { return s.client.Reload() }

// Check validates module bytes. Policy rejections are results, not errors.
func (s *Server) Check(module []byte) (*CheckResult, error) {
	err := s.client.Check(bytes.NewReader(module))
	res := &CheckResult{PolicyHash: s.client.PolicyHash()}
	if err == nil {
		res.OK = true
		return res, nil
	}
	rej, ok := rejection(err)
	if !ok {
		return nil, err
	}
	res.Rejection = rej
	return res, nil
}

// Rewrite instruments module bytes.
func (s *Server) Rewrite(module []byte) (*RewriteResult, *Rejection, error) {
	var out bytes.Buffer
	p, err := s.client.Load(bytes.NewReader(module))
	if err != nil {
		if rej, ok := rejection(err); ok {
			return nil, rej, nil
		}
		return nil, nil, err
	}
	if err := bytecode.Encode(&out, p.Module()); err != nil {
		return nil, nil, err
	}
	return &RewriteResult{Token: p.Token().String(), Module: out.Bytes(), Stats: p.Stats()}, nil, nil
}

// Run loads module bytes and invokes the entry point in a guarded scope.
// Once the scope is open, every failure is reported in the result.
func (s *Server) Run(ctx context.Context, req RunRequest) (*RunResult, *Rejection, error) {
	p, err := s.client.Load(bytes.NewReader(req.Module))
	if err != nil {
		if rej, ok := rejection(err); ok {
			return nil, rej, nil
		}
		return nil, nil, err
	}

	var stdout bytes.Buffer
	opts := []sandguard.InvokeOption{sandguard.InvokeWithStdout(&stdout)}
	if req.Limits != (sandguard.Limits{}) {
		opts = append(opts, sandguard.InvokeWithLimits(req.Limits))
	}
	run, err := p.InvokeWith(ctx, opts, req.Type, req.Method, req.Args...)
	if run == nil {
		return nil, nil, err
	}

	res := &RunResult{
		Token:       p.Token().String(),
		Output:      stdout.String(),
		Violated:    run.Violated,
		StackBytes:  run.StackBytes,
		Allocations: run.Allocated,
		Jumps:       run.Jumps,
		ElapsedMS:   run.Elapsed.Milliseconds(),
	}
	if run.Value != nil {
		res.Value = fmt.Sprint(run.Value)
	}
	if run.Violation != nil {
		res.Kind = string(run.Violation.Kind)
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res, nil, nil
}

func rejection(err error) (*Rejection, bool) {
	var pv *rewrite.PolicyViolation
	if !errors.As(err, &pv) {
		return nil, false
	}
	return &Rejection{
		Kind:     string(pv.Kind),
		Subject:  pv.Subject(),
		Location: pv.Location,
		Reason:   pv.Reason,
		Message:  pv.Error(),
	}, true
}
