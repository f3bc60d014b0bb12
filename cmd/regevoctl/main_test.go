package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(context.Background(), args, &out); err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestRunInspectRunsCounters(t *testing.T) {
	chdir(t, t.TempDir())
	db := filepath.Join("data", "regevo.db")

	out := runCLI(t, "run", "-run-id", "cli-run", "-pop", "6", "-gens", "2", "-seed", "5", "-islands", "2", "-db-path", db, "-log-level", "disabled")
	if !strings.Contains(out, "run_id=cli-run generations=2") {
		t.Fatalf("unexpected run output:\n%s", out)
	}
	if !strings.Contains(out, "snapshot=cli-run-gen-2") {
		t.Fatalf("missing final snapshot:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(benchmarksDir, "cli-run", "config.json")); err != nil {
		t.Fatalf("expected artifacts: %v", err)
	}

	out = runCLI(t, "inspect", "-latest", "-gen", "2", "-genome", "0", "-db-path", db)
	if !strings.Contains(out, "population=cli-run-gen-2 generation=2 genomes=1") {
		t.Fatalf("unexpected inspect output:\n%s", out)
	}
	if !strings.Contains(out, "block 0 inputs=[double double] output=double") {
		t.Fatalf("missing listing:\n%s", out)
	}

	out = runCLI(t, "runs")
	if !strings.Contains(out, "run_id=cli-run") {
		t.Fatalf("unexpected runs output:\n%s", out)
	}
	out = runCLI(t, "runs", "-stored", "-db-path", db)
	if !strings.Contains(out, "run_id=cli-run seed=5 pop=6 gens=2") {
		t.Fatalf("unexpected stored runs output:\n%s", out)
	}

	out = runCLI(t, "counters", "-run-id", "cli-run", "-prefix", "generation", "-db-path", db)
	if strings.TrimSpace(out) != "generation=2" {
		t.Fatalf("unexpected counters output:\n%s", out)
	}

	out = runCLI(t, "export", "-latest")
	if !strings.Contains(out, "exported run_id=cli-run") {
		t.Fatalf("unexpected export output:\n%s", out)
	}
}

func TestRunJSONOutput(t *testing.T) {
	chdir(t, t.TempDir())
	out := runCLI(t, "run", "-store", "memory", "-pop", "4", "-gens", "1", "-json", "-log-level", "disabled")
	if !strings.Contains(out, `"RunID": "run-`) || !strings.Contains(out, `"Diagnostics"`) {
		t.Fatalf("unexpected json output:\n%s", out)
	}
}

func TestKindsAndOpcodesCommands(t *testing.T) {
	out := runCLI(t, "kinds")
	if got := strings.Count(out, "\n"); got != 23 {
		t.Fatalf("expected 23 kinds, got %d:\n%s", got, out)
	}
	out = runCLI(t, "kinds", "-pool", "macro")
	if got := strings.Count(out, "pool=macro"); got != 5 {
		t.Fatalf("expected 5 macro kinds, got %d:\n%s", got, out)
	}
	out = runCLI(t, "opcodes")
	if !strings.Contains(out, "CALL") || !strings.Contains(out, "MOV") {
		t.Fatalf("unexpected opcodes output:\n%s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	var out bytes.Buffer
	for _, args := range [][]string{
		nil,
		{"bogus"},
		{"kinds", "-pool", "nope"},
		{"counters"},
		{"inspect", "-run-id", "x", "-latest"},
		{"run", "-log-level", "loud", "-store", "memory"},
	} {
		if err := run(context.Background(), args, &out); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
