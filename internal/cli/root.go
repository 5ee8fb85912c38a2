package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/sandguard/sdk/go/sandguard"
)

var (
	configPath   string
	policyPath   string
	denylistPath string
	auditLogPath string
	noAudit      bool
	verbose      bool
)

// errSilent signals a failure already reported to the user.
var errSilent = errors.New("")

var rootCmd = &cobra.Command{
	Use:   "sandguard",
	Short: "Bytecode sandbox with API policy and runtime quotas",
	Long: "Validates bytecode modules against a deny-by-default API policy, injects\n" +
		"guard calls that bound stack, allocations and time, and runs the result.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to config YAML (default ~/.sandguard/config.yaml)")
	pf.StringVar(&policyPath, "policy", "", "Path to policy YAML (overrides config)")
	pf.StringVar(&denylistPath, "denylist", "", "Path to denylist YAML (overrides config)")
	pf.StringVar(&auditLogPath, "audit-log", "", "Path to audit log (overrides config)")
	pf.BoolVar(&noAudit, "no-audit", false, "Do not write audit entries")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose development logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// newClient builds an SDK client from the global flags.
func newClient(extra ...sandguard.Option) (*sandguard.Client, *zap.Logger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	opts := []sandguard.Option{
		sandguard.WithConfig(configPath),
		sandguard.WithPolicy(policyPath),
		sandguard.WithDenylist(denylistPath),
		sandguard.WithLogger(logger),
	}
	switch {
	case noAudit:
		opts = append(opts, sandguard.WithAudit(""))
	case auditLogPath != "":
		opts = append(opts, sandguard.WithAudit(auditLogPath))
	}
	client, err := sandguard.New(append(opts, extra...)...)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return client, logger, nil
}
