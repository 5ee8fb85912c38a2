package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/sandguard/internal/ratelimit"
	"github.com/ppiankov/sandguard/internal/server"
)

// Version is reported to MCP clients.
var Version = "0.1.0"

// Config holds MCP server configuration.
type Config struct {
	server.Config
	// Watch hot-reloads the policy and denylist files while serving.
	Watch bool
	// AllowFiles lets tools read modules by path instead of only inline.
	AllowFiles bool
	// RateLimits caps calls per tool name.
	RateLimits ratelimit.RateLimitConfig
}

// Server exposes sandguard as MCP tools.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *server.Server
	limiter   *ratelimit.Limiter
	cfg       Config
	logger    *zap.Logger
}

// New creates an MCP server with loaded policy, denylist, and tools.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine, err := server.New(cfg.Config, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:  engine,
		limiter: ratelimit.NewLimiter(cfg.RateLimits),
		cfg:     cfg,
		logger:  logger,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "sandguard",
			Version: Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Watch {
		r, err := server.NewReloader(s.engine, s.engine.WatchPaths())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() { _ = r.Run(ctx) }()
		s.logger.Info("watching policy files", zap.Strings("paths", r.Paths()))
	}
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close closes the audit log if configured.
func (s *Server) Close() error { return s.engine.Close() }

// allow counts a call to tool and fails once its rate limit is reached.
func (s *Server) allow(tool string) error {
	r := s.limiter.Allow(tool)
	if !r.Exceeded {
		return nil
	}
	s.logger.Warn("tool call rate limited", zap.String("tool", tool), zap.Int("limit", r.Limit))
	return fmt.Errorf("%s: %s", tool, r.Reason)
}

// registerTools adds all sandguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sandguard_check",
		Description: "Validate a module against the API policy without instrumenting it. Rejections name the offending API and location.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sandguard_rewrite",
		Description: "Validate and instrument a module with runtime guard calls. Returns the base64 module and its guard token.",
	}, s.handleRewrite)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sandguard_run",
		Description: "Validate, instrument and run a static method of a module under stack, allocation and time limits.",
	}, s.handleRun)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sandguard_policy",
		Description: "Report the policy hash and files currently in effect.",
	}, s.handlePolicy)
}
