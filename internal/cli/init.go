package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sandguard/internal/config"
	"github.com/ppiankov/sandguard/internal/denylist"
	"github.com/ppiankov/sandguard/internal/policy"
)

var (
	initMode  string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.sandguard) or system (/etc/sandguard)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap sandguard configuration",
	Long: `Creates the config directory with a default config, policy and denylist.

User mode (default):  writes to ~/.sandguard/
System mode:          writes to /etc/sandguard/ (requires root)`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	cfgContent, err := config.DefaultYAML(configDir)
	if err != nil {
		return err
	}
	policyContent, err := policy.DefaultYAML()
	if err != nil {
		return fmt.Errorf("generate default policy: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{"config.yaml", string(cfgContent)},
		{"policy.yaml", string(policyContent)},
		{"denylist.yaml", defaultDenylistYAML()},
	}

	var created []string
	for _, f := range files {
		path := filepath.Join(configDir, f.name)
		wrote, err := writeIfMissing(path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, path)
		}
	}

	out := os.Stdout
	fmt.Fprintln(out, "sandguard init complete.")
	fmt.Fprintln(out)
	if len(created) > 0 {
		fmt.Fprintln(out, "Created:")
		for _, path := range created {
			fmt.Fprintf(out, "  %s\n", path)
		}
	} else {
		fmt.Fprintln(out, "All files already exist (use --force to overwrite).")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Check a module:")
	fmt.Fprintln(out, "  sandguard check <module>")
	fmt.Fprintln(out, "Run it under quotas:")
	fmt.Fprintln(out, "  sandguard run <module> --type <Namespace.Type>")
	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/sandguard", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".sandguard"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultDenylistYAML renders an empty denylist that lists the built-in
// patterns as comments.
func defaultDenylistYAML() string {
	var b strings.Builder
	b.WriteString("# sandguard denylist: hard limits no policy can lift.\n")
	b.WriteString("# Patterns here are added to the built-in ones below, never replace them.\n")
	b.WriteString("# \"*\" stops at \"::\", \"**\" matches anything.\n#\n")
	b.WriteString("# Built-in reserved namespaces:\n")
	for _, ns := range denylist.DefaultPatterns.Namespaces {
		fmt.Fprintf(&b, "#   - %s\n", ns)
	}
	b.WriteString("# Built-in blocked APIs:\n")
	for _, api := range denylist.DefaultPatterns.APIs {
		fmt.Fprintf(&b, "#   - %s\n", api)
	}
	b.WriteString("\nnamespaces: []\napis: []\n")
	return b.String()
}
