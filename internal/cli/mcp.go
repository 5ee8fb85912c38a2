package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sandguard/internal/config"
	"github.com/ppiankov/sandguard/internal/mcp"
	"github.com/ppiankov/sandguard/internal/server"
)

var (
	mcpWatch      bool
	mcpAllowFiles bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().BoolVar(&mcpWatch, "watch", false, "Reload the policy and denylist when the files change")
	mcpCmd.Flags().BoolVar(&mcpAllowFiles, "allow-files", false, "Let tools read modules from local paths")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs sandguard as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: sandguard_check, sandguard_rewrite, sandguard_run, sandguard_policy.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	fileCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cfg := mcp.Config{
		Config: server.Config{
			ConfigPath:   configPath,
			PolicyPath:   policyPath,
			DenylistPath: denylistPath,
			AuditLogPath: auditLogPath,
			NoAudit:      noAudit,
		},
		Watch:      mcpWatch,
		AllowFiles: mcpAllowFiles,
		RateLimits: fileCfg.RateLimits,
	}
	srv, err := mcp.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(os.Stderr, "sandguard MCP server running on stdio")
	if mcpWatch {
		fmt.Fprintln(os.Stderr, "Watching policy files for changes")
	}
	return srv.Run(ctx)
}
