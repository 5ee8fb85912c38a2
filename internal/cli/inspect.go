package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sandguard/internal/bytecode"
)

var inspectInstrumented bool

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectInstrumented, "instrumented", false, "Show the module after guard injection")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <module>",
	Short: "Disassemble a module",
	Long: "Prints the types, fields and method bodies of a module in a readable\n" +
		"listing. With --instrumented, the module is validated and rewritten\n" +
		"first so the injected guard calls are visible.",
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	if !inspectInstrumented {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open module: %w", err)
		}
		defer f.Close()
		m, err := bytecode.Decode(f)
		if err != nil {
			return err
		}
		return bytecode.Disassemble(cmd.OutOrStdout(), m)
	}

	client, logger, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = client.Close() }()

	prog, err := client.LoadFile(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "; token %s\n", prog.Token())
	return bytecode.Disassemble(cmd.OutOrStdout(), prog.Module())
}
