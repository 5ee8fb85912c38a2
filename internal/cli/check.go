package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sandguard/sdk/go/sandguard"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check <module>...",
	Short: "Validate modules against the policy without rewriting",
	Long: "Decodes each module and runs the policy validator over every type,\n" +
		"method and referenced member. Nothing is written.\n\n" +
		"Exit code 0 if every module passes, 1 if any is rejected.\n" +
		"Use in CI to gate modules before deployment.",
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	client, logger, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = client.Close() }()

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		err := checkFile(client, path)
		var pv *sandguard.PolicyViolation
		switch {
		case err == nil:
			fmt.Fprintf(out, "PASS  %s\n", path)
		case errors.As(err, &pv):
			failed++
			fmt.Fprintf(out, "FAIL  %s\n      %s\n", path, pv.Error())
		default:
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	fmt.Fprintf(out, "\n%d checked, %d rejected (policy %s)\n", len(args), failed, client.PolicyHash())
	if failed > 0 {
		return errSilent
	}
	return nil
}

func checkFile(client *sandguard.Client, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return client.Check(f)
}
