package stats

import (
	"os"
	"path/filepath"
	"testing"

	"regevo/internal/model"
)

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	artifacts := RunArtifacts{
		Config: RunConfig{
			RunID:          runID,
			PopulationSize: 4,
			Generations:    2,
			Seed:           1,
			Workers:        2,
		},
		Diagnostics: []GenerationDiagnostics{
			{Generation: 1, DupsRatio: 0.25, Mutations: 10, Counters: []model.CounterRow{{Name: "mutate.success.negate", Value: 2}}},
			{Generation: 2, DupsRatio: 0.5, Mutations: 12, Crossovers: 1},
		},
		Fingerprints: []string{"00aa", "00bb"},
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range artifactFiles {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range artifactFiles {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg.PopulationSize != 4 || cfg.Workers != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	diags, ok, err := ReadDiagnostics(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read diagnostics: ok=%t err=%v", ok, err)
	}
	if len(diags) != 2 || diags[0].Counters[0].Value != 2 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}

	series, ok, err := ReadDiagnosticsSeries(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read series: ok=%t err=%v", ok, err)
	}
	if len(series) != 2 || series[0] != 0.25 || series[1] != 0.5 {
		t.Fatalf("unexpected series: %v", series)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestReadMissingArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	if _, ok, err := ReadRunConfig(baseDir, "missing"); ok || err != nil {
		t.Fatalf("missing config: ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadDiagnosticsSeries(baseDir, "missing"); ok || err != nil {
		t.Fatalf("missing series: ok=%t err=%v", ok, err)
	}
}

func TestRunIndexOrdering(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{RunID: "b", CreatedAtUTC: "2026-01-02T00:00:00Z"},
		{RunID: "c", CreatedAtUTC: "2026-01-02T00:00:00Z"},
	}
	for _, e := range entries {
		if err := AppendRunIndex(baseDir, e); err != nil {
			t.Fatalf("append %s: %v", e.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z", Seed: 9}); err != nil {
		t.Fatalf("replace a: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	got := []string{index[0].RunID, index[1].RunID, index[2].RunID}
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: got=%v want=%v", got, want)
		}
	}
	if index[2].Seed != 9 {
		t.Fatalf("expected replaced entry, got=%+v", index[2])
	}
}
