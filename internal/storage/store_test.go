package storage

import (
	"context"
	"testing"

	"regevo/internal/model"
)

func versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: model.CurrentSchemaVersion, CodecVersion: model.CurrentCodecVersion}
}

func samplePopulation(id string) model.Population {
	return model.Population{
		VersionedRecord: versioned(),
		ID:              id,
		RunID:           "run-1",
		Generation:      2,
		Genomes: []*model.Genome{{
			VersionedRecord: versioned(),
			ID:              "g1",
			Info:            []model.Cell{model.DoubleCell(0), model.DoubleCell(0.05)},
			Program: model.Program{Blocks: []model.Block{{
				Meta: model.BlockMeta{Inputs: []model.Kind{model.KindInt}, Output: model.KindInt},
				Code: []model.Cell{model.UintCell(7), model.UintCell(1), model.IntCell(-3), model.StringCell("ab")},
			}}},
		}},
	}
}

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, id := range []string{"run-b", "run-a"} {
		run := model.RunSummary{VersionedRecord: versioned(), RunID: id, Generations: 3, Population: 8, Seed: 11}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-a" || runs[1].RunID != "run-b" || runs[0].Seed != 11 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	input := samplePopulation("run-1-gen-2")
	if err := store.SavePopulation(ctx, input); err != nil {
		t.Fatalf("save population: %v", err)
	}
	input.Genomes[0].ID = "changed"

	loaded, ok, err := store.GetPopulation(ctx, "run-1-gen-2")
	if err != nil {
		t.Fatalf("get population: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted population")
	}
	want := samplePopulation("run-1-gen-2")
	if loaded.RunID != want.RunID || loaded.Generation != want.Generation || len(loaded.Genomes) != 1 {
		t.Fatalf("unexpected population: %+v", loaded)
	}
	got := loaded.Genomes[0]
	if got.ID != "g1" {
		t.Fatalf("snapshot shares genomes with caller: %s", got.ID)
	}
	wantCode := want.Genomes[0].Program.Blocks[0].Code
	gotCode := got.Program.Blocks[0].Code
	if len(gotCode) != len(wantCode) {
		t.Fatalf("code length mismatch: got=%d want=%d", len(gotCode), len(wantCode))
	}
	for i := range wantCode {
		if gotCode[i] != wantCode[i] {
			t.Fatalf("cell %d mismatch: got=%+v want=%+v", i, gotCode[i], wantCode[i])
		}
	}
	if got.Program.Blocks[0].Meta.Output != model.KindInt || len(got.Info) != 2 {
		t.Fatalf("unexpected genome: %+v", got)
	}

	if _, ok, err := store.GetPopulation(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing population, ok=%t err=%v", ok, err)
	}

	rows := []model.CounterRow{{Name: "mutate.success.delete", Value: 3}, {Name: "dups_ratio", Value: 0.25}}
	if err := store.SaveCounters(ctx, "run-1", rows); err != nil {
		t.Fatalf("save counters: %v", err)
	}
	loadedRows, ok, err := store.GetCounters(ctx, "run-1")
	if err != nil {
		t.Fatalf("get counters: %v", err)
	}
	if !ok || len(loadedRows) != 2 || loadedRows[1].Value != 0.25 {
		t.Fatalf("unexpected counters: ok=%t rows=%+v", ok, loadedRows)
	}
	if _, ok, err := store.GetCounters(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing counters, ok=%t err=%v", ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SavePopulation(context.Background(), samplePopulation("p")); err == nil {
		t.Fatal("expected error before init")
	}
	if _, err := store.ListRuns(context.Background()); err == nil {
		t.Fatal("expected error before init")
	}
}
