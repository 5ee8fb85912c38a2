package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sandguard/internal/config"
	"github.com/ppiankov/sandguard/internal/policy"
)

var initPolicyStdout bool

func init() {
	rootCmd.AddCommand(initPolicyCmd)
	initPolicyCmd.Flags().BoolVar(&initPolicyStdout, "stdout", false, "Print the policy instead of writing it")
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Generate default policy.yaml with comments",
	Long:  "Creates ~/.sandguard/policy.yaml with the default API allowlist.\nEdit this file to customize which namespaces, types and members modules may use.",
	RunE:  runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	content, err := policy.DefaultYAML()
	if err != nil {
		return fmt.Errorf("generate default policy: %w", err)
	}
	if initPolicyStdout {
		_, err := cmd.OutOrStdout().Write(content)
		return err
	}

	dir := config.Dir()
	if dir == "" {
		return fmt.Errorf("cannot determine home directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	path := filepath.Join(dir, "policy.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("policy.yaml already exists at %s", path)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write policy.yaml: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}
