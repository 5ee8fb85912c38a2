package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/rewrite"
)

// execute runs the root command with fresh flag values and a private HOME.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SANDGUARD_CONFIG", "")

	configPath, policyPath, denylistPath, auditLogPath = "", "", "", ""
	noAudit, verbose = false, false
	rewriteForce = false
	runType, runMethod, runFormat = "", "Main", "text"
	runArgs = nil
	runTimeout, runStackBytes, runAllocations = 0, 0, 0
	inspectInstrumented = false
	tailLines, tailToken, tailModule, tailFormat = 10, "", "", "text"
	tailEvents = nil
	tailFrom, tailTo = "", ""
	diffFormat = "text"

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeModule(t *testing.T, dir, name string, a *bytecode.Assembler, params ...bytecode.Param) string {
	t.Helper()
	m := &bytecode.Module{
		Name: name,
		Types: []*bytecode.TypeDef{{
			Namespace: "Demo",
			Name:      "Program",
			Base:      bytecode.Object,
			Methods: []*bytecode.MethodDef{{
				Name: "Main", Static: true, Params: params, Return: bytecode.Int64, Body: a.MustBody(),
			}},
		}},
	}
	m.Link()
	data, err := bytecode.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, name+".sgm")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// greeter prints "hi" and returns twice its argument.
func greeter(t *testing.T, dir string) string {
	writeLine := &bytecode.MethodRef{
		Declaring: bytecode.Named("System", "Console"), Name: "WriteLine",
		Params: []bytecode.Param{{Name: "value", Type: bytecode.String}},
	}
	a := bytecode.NewAssembler()
	a.Str("hi").Call(writeLine).
		Var(bytecode.Ldarg, 0).Int(2).Op(bytecode.Mul).Op(bytecode.Ret)
	return writeModule(t, dir, "greeter", a, bytecode.Param{Name: "n", Type: bytecode.Int64})
}

func collector(t *testing.T, dir string) string {
	a := bytecode.NewAssembler()
	a.Call(&bytecode.MethodRef{Declaring: bytecode.Named("System", "GC"), Name: "Collect"}).
		Int(0).Op(bytecode.Ret)
	return writeModule(t, dir, "collector", a)
}

func spinner(t *testing.T, dir string) string {
	a := bytecode.NewAssembler()
	a.Label("spin").Branch(bytecode.Br, "spin")
	return writeModule(t, dir, "spinner", a)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version output is not JSON: %v", err)
	}
	if info["name"] != "sandguard" {
		t.Errorf("name = %q", info["name"])
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	good := greeter(t, dir)
	bad := collector(t, dir)

	out, _, err := execute(t, "check", "--no-audit", good, bad)
	if !errors.Is(err, errSilent) {
		t.Fatalf("expected silent failure, got %v", err)
	}
	if !strings.Contains(out, "PASS  "+good) {
		t.Errorf("missing PASS line:\n%s", out)
	}
	if !strings.Contains(out, "FAIL  "+bad) || !strings.Contains(out, "System.GC::Collect") {
		t.Errorf("missing FAIL line:\n%s", out)
	}
	if !strings.Contains(out, "2 checked, 1 rejected") {
		t.Errorf("missing summary:\n%s", out)
	}
}

func TestCheckCommandMissingFile(t *testing.T) {
	_, _, err := execute(t, "check", "--no-audit", filepath.Join(t.TempDir(), "none.sgm"))
	if err == nil || errors.Is(err, errSilent) {
		t.Fatalf("expected a reported error, got %v", err)
	}
}

func TestRewriteAndInspect(t *testing.T) {
	dir := t.TempDir()
	in := greeter(t, dir)
	outPath := filepath.Join(dir, "greeter.guarded.sgm")

	out, _, err := execute(t, "rewrite", "--no-audit", in, outPath)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !strings.Contains(out, "token:") {
		t.Errorf("missing token:\n%s", out)
	}

	out, _, err = execute(t, "inspect", outPath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out, rewrite.HolderName) {
		t.Errorf("rewritten module has no guard holder:\n%s", out)
	}

	// Refuses to clobber without --force.
	if _, _, err := execute(t, "rewrite", "--no-audit", in, outPath); err == nil {
		t.Error("expected error for existing output")
	}
	if _, _, err := execute(t, "rewrite", "--no-audit", "--force", in, in); !errors.Is(err, rewrite.ErrSameStream) {
		t.Errorf("expected ErrSameStream, got %v", err)
	}
}

func TestInspectInstrumented(t *testing.T) {
	dir := t.TempDir()
	in := greeter(t, dir)

	plain, _, err := execute(t, "inspect", in)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if strings.Contains(plain, rewrite.HolderName) {
		t.Error("plain listing should not contain the holder")
	}

	guarded, _, err := execute(t, "inspect", "--no-audit", "--instrumented", in)
	if err != nil {
		t.Fatalf("inspect --instrumented: %v", err)
	}
	if !strings.HasPrefix(guarded, "; token ") || !strings.Contains(guarded, rewrite.HolderName) {
		t.Errorf("unexpected listing:\n%s", guarded)
	}
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	mod := greeter(t, dir)
	logPath := filepath.Join(dir, "audit.jsonl")

	out, stderr, err := execute(t, "run", "--audit-log", logPath, mod, "--type", "Demo.Program", "--arg", "21")
	if err != nil {
		t.Fatalf("run: %v (stderr %s)", err, stderr)
	}
	if out != "hi\n" {
		t.Errorf("stdout = %q", out)
	}
	if !strings.Contains(stderr, "Result:  42") {
		t.Errorf("missing result:\n%s", stderr)
	}

	out, _, err = execute(t, "audit", "verify", logPath)
	if err != nil {
		t.Fatalf("audit verify: %v", err)
	}
	if !strings.Contains(out, "OK: 2 entries verified") {
		t.Errorf("verify output: %s", out)
	}

	out, _, err = execute(t, "audit", "tail", logPath, "--event", "completed")
	if err != nil {
		t.Fatalf("audit tail: %v", err)
	}
	if !strings.Contains(out, "1 completed") {
		t.Errorf("tail output:\n%s", out)
	}
}

func TestRunCommandTimeLimitJSON(t *testing.T) {
	dir := t.TempDir()
	mod := spinner(t, dir)

	out, _, err := execute(t, "run", "--no-audit", mod, "--type", "Demo.Program", "--timeout", "30ms", "--format", "json")
	if !errors.Is(err, errSilent) {
		t.Fatalf("expected silent failure, got %v", err)
	}
	var report runReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !report.Violated || report.Kind != "time" {
		t.Errorf("report = %+v", report)
	}
}

func TestRunCommandRejectsModule(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "run", "--no-audit", collector(t, dir), "--type", "Demo.Program")
	if err == nil || !strings.Contains(err.Error(), "System.GC") {
		t.Fatalf("expected policy rejection, got %v", err)
	}
}

func TestAuditVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")
	if _, _, err := execute(t, "check", "--audit-log", logPath, collector(t, dir)); !errors.Is(err, errSilent) {
		t.Fatalf("check: %v", err)
	}
	if _, _, err := execute(t, "check", "--audit-log", logPath, collector(t, dir)); !errors.Is(err, errSilent) {
		t.Fatalf("check: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"rejected"`, `"rewritten"`, 1)
	if err := os.WriteFile(logPath, []byte(tampered), 0o600); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := execute(t, "audit", "verify", logPath)
	if !errors.Is(err, errSilent) {
		t.Fatalf("expected verify failure, got %v", err)
	}
	if !strings.Contains(stderr, "FAILED at line 2") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestInitPolicyStdout(t *testing.T) {
	out, _, err := execute(t, "init-policy", "--stdout")
	if err != nil {
		t.Fatalf("init-policy: %v", err)
	}
	if !strings.HasPrefix(out, "# sandguard API policy") {
		t.Errorf("unexpected output:\n%s", out)
	}
	initPolicyStdout = false
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"2.5", 2.5},
		{"true", true},
		{"false", false},
		{"hello", "hello"},
	}
	for _, tt := range tests {
		if got := parseArg(tt.in); got != tt.want {
			t.Errorf("parseArg(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.yaml")
	newPath := filepath.Join(dir, "new.yaml")
	if err := os.WriteFile(oldPath, []byte("namespaces: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	body := "namespaces:\n  Demo.Lib:\n    access: allowed\n"
	if err := os.WriteFile(newPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "diff", oldPath, newPath)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !strings.Contains(out, "+ Demo.Lib (allowed)  [looser]") {
		t.Errorf("unexpected diff:\n%s", out)
	}
}
