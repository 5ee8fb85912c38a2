package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sandguard/internal/rewrite"
)

var rewriteForce bool

func init() {
	rootCmd.AddCommand(rewriteCmd)
	rewriteCmd.Flags().BoolVar(&rewriteForce, "force", false, "Overwrite the output file if it exists")
}

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <in> <out>",
	Short: "Validate and instrument a module",
	Long: "Validates the input module against the policy and writes an\n" +
		"instrumented copy with guard calls injected. The output must be\n" +
		"run inside a scope opened for the printed token.",
	Args: cobra.ExactArgs(2),
	RunE: runRewrite,
}

func runRewrite(cmd *cobra.Command, args []string) error {
	in, outPath := args[0], args[1]

	client, logger, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = client.Close() }()

	src, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("open module: %w", err)
	}
	defer src.Close()

	if sameFile(in, outPath) {
		return rewrite.ErrSameStream
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !rewriteForce {
		flags |= os.O_EXCL
	}
	dst, err := os.OpenFile(outPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	token, err := client.Rewrite(src, dst)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(outPath)
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Rewrote %s -> %s\n  token:  %s\n  policy: %s\n", in, outPath, token, client.PolicyHash())
	return nil
}

func sameFile(a, b string) bool {
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}
