package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sandguard/sdk/go/sandguard"
)

var (
	runType        string
	runMethod      string
	runArgs        []string
	runTimeout     time.Duration
	runStackBytes  int64
	runAllocations int64
	runFormat      string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runType, "type", "t", "", "Full name of the type declaring the entry point (required)")
	runCmd.Flags().StringVarP(&runMethod, "method", "m", "Main", "Static method to invoke")
	runCmd.Flags().StringArrayVarP(&runArgs, "arg", "a", nil, "Argument to pass (repeatable; numbers and true/false are converted)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Time limit (default from config)")
	runCmd.Flags().Int64Var(&runStackBytes, "stack-bytes", 0, "Stack limit in bytes (default from config)")
	runCmd.Flags().Int64Var(&runAllocations, "allocations", 0, "Allocation limit (default from config)")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "text", "Output format (text|json)")
	_ = runCmd.MarkFlagRequired("type")
}

var runCmd = &cobra.Command{
	Use:   "run <module>",
	Short: "Instrument a module and invoke an entry point under quotas",
	Long: "Validates and instruments the module in memory, opens a guard scope\n" +
		"with the configured limits and invokes the entry point. Console output\n" +
		"goes to stdout; usage is reported on stderr.\n\n" +
		"Exit code 1 if the module is rejected, a limit is hit or the\n" +
		"invocation throws.",
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// runReport is the json rendition of one invocation.
type runReport struct {
	Token       string `json:"token"`
	Value       any    `json:"value,omitempty"`
	Output      string `json:"output"`
	Violated    bool   `json:"violated"`
	Kind        string `json:"kind,omitempty"`
	Error       string `json:"error,omitempty"`
	StackBytes  int64  `json:"stack_bytes"`
	Allocations int64  `json:"allocations"`
	Jumps       int64  `json:"jumps"`
	ElapsedMS   int64  `json:"elapsed_ms"`
}

func runRun(cmd *cobra.Command, args []string) error {
	if runFormat != "text" && runFormat != "json" {
		return fmt.Errorf("unknown format %q: use text or json", runFormat)
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var captured bytes.Buffer
	var stdout io.Writer = cmd.OutOrStdout()
	if runFormat == "json" {
		stdout = &captured
	}
	opts := []sandguard.InvokeOption{sandguard.InvokeWithStdout(stdout)}
	if limits := flagLimits(); limits != (sandguard.Limits{}) {
		opts = append(opts, sandguard.InvokeWithLimits(limits))
	}

	values := make([]any, len(runArgs))
	for i, a := range runArgs {
		values[i] = parseArg(a)
	}

	run, invokeErr := prog.InvokeWith(ctx, opts, runType, runMethod, values...)
	if run == nil {
		return invokeErr
	}

	report := runReport{
		Token:       prog.Token().String(),
		Value:       run.Value,
		Output:      captured.String(),
		Violated:    run.Violated,
		StackBytes:  run.StackBytes,
		Allocations: run.Allocated,
		Jumps:       run.Jumps,
		ElapsedMS:   run.Elapsed.Milliseconds(),
	}
	if run.Violation != nil {
		report.Kind = string(run.Violation.Kind)
	}
	if invokeErr != nil {
		report.Error = invokeErr.Error()
	}

	if runFormat == "json" {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	} else {
		printRunSummary(cmd.ErrOrStderr(), report)
	}

	if invokeErr != nil {
		return errSilent
	}
	return nil
}

// flagLimits returns the limits set on the command line. When any flag is
// set, the others fall back to built-in defaults rather than the config.
func flagLimits() sandguard.Limits {
	return sandguard.Limits{
		StackBytes:  runStackBytes,
		Allocations: runAllocations,
		Time:        runTimeout,
	}
}

func printRunSummary(w io.Writer, r runReport) {
	fmt.Fprintln(w)
	if r.Value != nil {
		fmt.Fprintf(w, "Result:  %v\n", r.Value)
	}
	switch {
	case r.Violated:
		fmt.Fprintf(w, "VIOLATED (%s): %s\n", r.Kind, r.Error)
	case r.Error != "":
		fmt.Fprintf(w, "FAILED: %s\n", r.Error)
	}
	fmt.Fprintf(w, "Usage:   stack %d B | allocations %d | jumps %d | %d ms\n",
		r.StackBytes, r.Allocations, r.Jumps, r.ElapsedMS)
}

// parseArg converts a command-line argument to the value the machine
// expects: integers, floats and booleans are converted, the rest stay
// strings.
func parseArg(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
