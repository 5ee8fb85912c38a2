package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sandguard/internal/policy"
	"github.com/ppiankov/sandguard/internal/policydiff"
)

var diffFormat string

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
}

var diffCmd = &cobra.Command{
	Use:   "diff <old.yaml> <new.yaml>",
	Short: "Compare two policy files and show changes",
	Long: "Loads two policy YAML files over the defaults and shows which namespaces,\n" +
		"types and members were added, removed or changed, and whether each\n" +
		"change makes the policy stricter or looser.",
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	oldPolicy, err := policy.Load(args[0])
	if err != nil {
		return fmt.Errorf("load old policy: %w", err)
	}

	newPolicy, err := policy.Load(args[1])
	if err != nil {
		return fmt.Errorf("load new policy: %w", err)
	}

	result := policydiff.Diff(oldPolicy, newPolicy)
	result.OldPath = args[0]
	result.NewPath = args[1]

	switch diffFormat {
	case "json":
		out, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), policydiff.FormatText(result))
	}

	return nil
}
