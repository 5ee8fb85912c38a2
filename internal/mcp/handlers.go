package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/sandguard/internal/server"
	"github.com/ppiankov/sandguard/sdk/go/sandguard"
)

// --- Input/Output types ---

// ModuleInput names a module inline or by path.
type ModuleInput struct {
	Module string `json:"module,omitempty" jsonschema:"base64-encoded module"`
	Path   string `json:"path,omitempty" jsonschema:"module file path (when file access is enabled)"`
}

// CheckOutput contains the validation outcome.
type CheckOutput struct {
	OK         bool              `json:"ok"`
	Rejection  *server.Rejection `json:"rejection,omitempty"`
	PolicyHash string            `json:"policy_hash"`
}

// RewriteOutput contains the instrumented module or the rejection.
type RewriteOutput struct {
	Token     string            `json:"token,omitempty"`
	Module    string            `json:"module,omitempty"`
	Stats     *sandguard.Stats  `json:"stats,omitempty"`
	Rejection *server.Rejection `json:"rejection,omitempty"`
}

// RunInput defines parameters for the sandguard_run tool.
type RunInput struct {
	Module      string `json:"module,omitempty" jsonschema:"base64-encoded module"`
	Path        string `json:"path,omitempty" jsonschema:"module file path (when file access is enabled)"`
	Type        string `json:"type" jsonschema:"declaring type full name, e.g. Demo.Program"`
	Method      string `json:"method" jsonschema:"static method name"`
	Args        []any  `json:"args,omitempty" jsonschema:"method arguments (numbers, strings, booleans)"`
	StackBytes  int64  `json:"stack_bytes,omitempty" jsonschema:"stack limit in bytes"`
	Allocations int64  `json:"allocations,omitempty" jsonschema:"allocation limit in units"`
	Timeout     string `json:"timeout,omitempty" jsonschema:"time limit (e.g. 500ms)"`
}

// RunOutput contains the run outcome or the rejection.
type RunOutput struct {
	Result    *server.RunResult `json:"result,omitempty"`
	Rejection *server.Rejection `json:"rejection,omitempty"`
}

// PolicyInput is empty; no parameters needed.
type PolicyInput struct{}

// PolicyOutput reports the policy in effect.
type PolicyOutput struct {
	PolicyHash string   `json:"policy_hash"`
	Files      []string `json:"files"`
}

// --- Handlers ---

func (s *Server) moduleBytes(in ModuleInput) ([]byte, error) {
	switch {
	case in.Module != "" && in.Path != "":
		return nil, errors.New("set either module or path, not both")
	case in.Module != "":
		data, err := base64.StdEncoding.DecodeString(in.Module)
		if err != nil {
			return nil, fmt.Errorf("module is not valid base64: %w", err)
		}
		return data, nil
	case in.Path != "":
		if !s.cfg.AllowFiles {
			return nil, errors.New("file access is disabled; pass the module inline")
		}
		return os.ReadFile(in.Path)
	}
	return nil, errors.New("module or path is required")
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input ModuleInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	if err := s.allow("sandguard_check"); err != nil {
		return nil, CheckOutput{}, err
	}
	data, err := s.moduleBytes(input)
	if err != nil {
		return nil, CheckOutput{}, err
	}
	res, err := s.engine.Check(data)
	if err != nil {
		return nil, CheckOutput{}, err
	}
	out := CheckOutput{OK: res.OK, Rejection: res.Rejection, PolicyHash: res.PolicyHash}
	if !res.OK {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleRewrite(ctx context.Context, req *mcpsdk.CallToolRequest, input ModuleInput) (*mcpsdk.CallToolResult, RewriteOutput, error) {
	if err := s.allow("sandguard_rewrite"); err != nil {
		return nil, RewriteOutput{}, err
	}
	data, err := s.moduleBytes(input)
	if err != nil {
		return nil, RewriteOutput{}, err
	}
	res, rej, err := s.engine.Rewrite(data)
	if err != nil {
		return nil, RewriteOutput{}, err
	}
	if rej != nil {
		return &mcpsdk.CallToolResult{IsError: true}, RewriteOutput{Rejection: rej}, nil
	}
	return nil, RewriteOutput{
		Token:  res.Token,
		Module: base64.StdEncoding.EncodeToString(res.Module),
		Stats:  &res.Stats,
	}, nil
}

func (s *Server) handleRun(ctx context.Context, req *mcpsdk.CallToolRequest, input RunInput) (*mcpsdk.CallToolResult, RunOutput, error) {
	if err := s.allow("sandguard_run"); err != nil {
		return nil, RunOutput{}, err
	}
	data, err := s.moduleBytes(ModuleInput{Module: input.Module, Path: input.Path})
	if err != nil {
		return nil, RunOutput{}, err
	}
	if input.Type == "" || input.Method == "" {
		return nil, RunOutput{}, errors.New("type and method are required")
	}
	limits := sandguard.Limits{StackBytes: input.StackBytes, Allocations: input.Allocations}
	if input.Timeout != "" {
		d, err := time.ParseDuration(input.Timeout)
		if err != nil {
			return nil, RunOutput{}, fmt.Errorf("invalid timeout %q: %w", input.Timeout, err)
		}
		limits.Time = d
	}

	res, rej, err := s.engine.Run(ctx, server.RunRequest{
		Module: data,
		Type:   input.Type,
		Method: input.Method,
		Args:   jsonArgs(input.Args),
		Limits: limits,
	})
	if err != nil {
		return nil, RunOutput{}, err
	}
	if rej != nil {
		return &mcpsdk.CallToolResult{IsError: true}, RunOutput{Rejection: rej}, nil
	}
	out := RunOutput{Result: res}
	if res.Error != "" {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handlePolicy(ctx context.Context, req *mcpsdk.CallToolRequest, input PolicyInput) (*mcpsdk.CallToolResult, PolicyOutput, error) {
	var files []string
	for _, p := range s.engine.WatchPaths() {
		if p != "" {
			files = append(files, p)
		}
	}
	return nil, PolicyOutput{PolicyHash: s.engine.PolicyHash(), Files: files}, nil
}

// jsonArgs turns integral JSON numbers into int64 so they match integer
// parameters.
func jsonArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if f, ok := a.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			out[i] = int64(f)
			continue
		}
		out[i] = a
	}
	return out
}
