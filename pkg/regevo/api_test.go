package regevo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"regevo/internal/model"
)

func newTestClient(t *testing.T, storeKind string) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:     storeKind,
		DBPath:        filepath.Join(base, "regevo.db"),
		BenchmarksDir: filepath.Join(base, "benchmarks"),
		ExportsDir:    filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func TestClientRunInspectAndExport(t *testing.T) {
	client, base := newTestClient(t, "memory")
	ctx := context.Background()

	result, err := client.Run(ctx, RunRequest{
		RunID:         "run-a",
		Population:    8,
		Generations:   3,
		Seed:          42,
		Workers:       2,
		Islands:       2,
		Subroutines:   1,
		SnapshotEvery: 2,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RunID != "run-a" {
		t.Fatalf("unexpected run id: %s", result.RunID)
	}
	if len(result.Diagnostics) != 3 {
		t.Fatalf("unexpected diagnostics length: %d", len(result.Diagnostics))
	}
	if len(result.Fingerprints) == 0 || len(result.Fingerprints) > 8 {
		t.Fatalf("unexpected fingerprints: %v", result.Fingerprints)
	}
	if len(result.Counters) == 0 {
		t.Fatal("expected counters")
	}
	want := []string{"run-a-gen-0", "run-a-gen-2", "run-a-gen-3"}
	if strings.Join(result.Snapshots, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected snapshots: %v", result.Snapshots)
	}
	if _, err := os.Stat(filepath.Join(result.ArtifactsDir, "diagnostics.csv")); err != nil {
		t.Fatalf("expected diagnostics series: %v", err)
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-a" || runs[0].Population != 8 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	stored, err := client.StoredRuns(ctx)
	if err != nil {
		t.Fatalf("stored runs: %v", err)
	}
	if len(stored) != 1 || stored[0].Seed != 42 {
		t.Fatalf("unexpected stored runs: %+v", stored)
	}

	inspect, err := client.Inspect(ctx, InspectRequest{Latest: true, Generation: 3, Genome: -1})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if inspect.PopulationID != "run-a-gen-3" || len(inspect.Genomes) != 8 {
		t.Fatalf("unexpected inspect result: %s %d", inspect.PopulationID, len(inspect.Genomes))
	}
	for i, g := range inspect.Genomes {
		if g.Island != i%2 {
			t.Fatalf("genome %s on island %d, want %d", g.ID, g.Island, i%2)
		}
		if !strings.Contains(g.Listing, "block 0") || g.Fingerprint == "" {
			t.Fatalf("unexpected genome view: %+v", g)
		}
	}
	single, err := client.Inspect(ctx, InspectRequest{RunID: "run-a", Generation: 0, Genome: 1})
	if err != nil {
		t.Fatalf("inspect genome: %v", err)
	}
	if len(single.Genomes) != 1 || single.Genomes[0].ID != "run-a-g0-i1" {
		t.Fatalf("unexpected single genome: %+v", single.Genomes)
	}
	if _, err := client.Inspect(ctx, InspectRequest{RunID: "run-a", Generation: 1, Genome: -1}); err == nil {
		t.Fatal("expected missing snapshot error")
	}

	counters, err := client.Counters(ctx, "run-a")
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if len(counters) != len(result.Counters) {
		t.Fatalf("unexpected counters: %d", len(counters))
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.RunID != "run-a" || !strings.HasPrefix(exported.Directory, filepath.Join(base, "exports")) {
		t.Fatalf("unexpected export: %+v", exported)
	}
	diags, err := client.Diagnostics(ctx, "run-a", false)
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diags) != 3 {
		t.Fatalf("unexpected diagnostics: %d", len(diags))
	}
}

func TestRunIsDeterministic(t *testing.T) {
	req := RunRequest{RunID: "det", Population: 6, Generations: 2, Seed: 7, Workers: 3, Islands: 3}
	a, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run a: %v", err)
	}
	req.Workers = 1
	b, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run b: %v", err)
	}
	if strings.Join(a.Fingerprints, ",") != strings.Join(b.Fingerprints, ",") {
		t.Fatalf("fingerprints differ across worker counts:\n%v\n%v", a.Fingerprints, b.Fingerprints)
	}
	if a.ArtifactsDir != "" {
		t.Fatalf("expected no artifacts, got %s", a.ArtifactsDir)
	}
}

func TestClientRunBoltStore(t *testing.T) {
	client, _ := newTestClient(t, "bolt")
	result, err := client.Run(context.Background(), RunRequest{Population: 4, Generations: 1, Seed: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(result.RunID, "run-") {
		t.Fatalf("expected generated run id, got %s", result.RunID)
	}
	inspect, err := client.Inspect(context.Background(), InspectRequest{RunID: result.RunID, Generation: 1, Genome: -1})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(inspect.Genomes) != 4 {
		t.Fatalf("unexpected genome count: %d", len(inspect.Genomes))
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	if _, err := Run(context.Background(), RunRequest{SnapshotEvery: -1}); err == nil {
		t.Fatal("expected snapshot interval error")
	}
	if _, err := Run(context.Background(), RunRequest{Inputs: 99}); err == nil {
		t.Fatal("expected too many inputs error")
	}
	client, _ := newTestClient(t, "memory")
	if _, err := client.Export(context.Background(), ExportRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected conflicting export selector error")
	}
	if _, err := client.Inspect(context.Background(), InspectRequest{}); err == nil {
		t.Fatal("expected missing run id error")
	}
	if _, err := New(Options{StoreKind: "nope"}); err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestRunAppliesMutationTable(t *testing.T) {
	client, _ := newTestClient(t, "memory")
	ctx := context.Background()
	center := 0.2
	area := DefaultAreaFactors()
	area.ConstArg = 3
	result, err := client.Run(ctx, RunRequest{
		RunID:        "tuned",
		Population:   6,
		Generations:  2,
		Seed:         5,
		PoolWeights:  map[string]float64{"macro": 0, "value": 2.5},
		KindWeights:  map[string]float64{"edit": 4, "insert-call": 0},
		Area:         &area,
		ValueStepExp: 8,
		ChangeCenter: &center,
		ChangeSpread: 1e-6,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Diagnostics) != 2 {
		t.Fatalf("expected 2 generations, got %d", len(result.Diagnostics))
	}

	pop, ok, err := client.store.GetPopulation(ctx, "tuned-gen-0")
	if err != nil || !ok {
		t.Fatalf("initial snapshot: ok=%v err=%v", ok, err)
	}
	want := map[model.InfoParam]float64{
		model.InfoPoolMacro:    0,
		model.InfoPoolValue:    2.5,
		model.InfoPoolGlobal:   1,
		model.InfoValueStepExp: 8,
		model.InfoChangeCenter: 0.2,
	}
	for _, g := range pop.Genomes {
		for p, w := range want {
			if v, ok := g.InfoValue(p); !ok || v != w {
				t.Fatalf("genome %s %s: got=%v want=%v", g.ID, p, v, w)
			}
		}
	}
}

func TestRunRejectsBadMutationTable(t *testing.T) {
	bad := 1.5
	for name, req := range map[string]RunRequest{
		"pool":   {PoolWeights: map[string]float64{"bogus": 1}},
		"kind":   {KindWeights: map[string]float64{"bogus": 1}},
		"weight": {KindWeights: map[string]float64{"edit": -1}},
		"area":   {Area: &AreaFactors{Instr: -1}},
		"center": {ChangeCenter: &bad},
		"spread": {ChangeSpread: -0.1},
	} {
		req.Population, req.Generations = 2, 1
		if _, err := Run(context.Background(), req); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestKindsAndOpcodes(t *testing.T) {
	kinds := Kinds()
	if len(kinds) != 23 {
		t.Fatalf("expected 23 kinds, got %d", len(kinds))
	}
	pools := map[string]int{}
	for _, k := range kinds {
		pools[k.Pool]++
	}
	if len(pools) != 5 {
		t.Fatalf("unexpected pools: %v", pools)
	}

	ops := Opcodes()
	names := map[string]bool{}
	for _, op := range ops {
		names[op.Name] = true
	}
	for _, want := range []string{"MOV", "ADD_INT", "CALL"} {
		if !names[want] {
			t.Fatalf("missing opcode %s in %v", want, names)
		}
	}
}
