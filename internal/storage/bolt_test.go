package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestBoltStore(t *testing.T) {
	store := NewBoltStore(filepath.Join(t.TempDir(), "nested", "regevo.db"))
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestBoltStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "regevo.db")

	first := NewBoltStore(path)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := first.SavePopulation(ctx, samplePopulation("p1")); err != nil {
		t.Fatalf("save population: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := NewBoltStore(path)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})
	loaded, ok, err := second.GetPopulation(ctx, "p1")
	if err != nil || !ok {
		t.Fatalf("expected population after reopen, ok=%t err=%v", ok, err)
	}
	if len(loaded.Genomes) != 1 || loaded.Genomes[0].ID != "g1" {
		t.Fatalf("unexpected population: %+v", loaded)
	}
}

func TestBoltStoreRequiresPathAndInit(t *testing.T) {
	if err := NewBoltStore("").Init(context.Background()); err == nil {
		t.Fatal("expected missing path error")
	}
	store := NewBoltStore(filepath.Join(t.TempDir(), "x.db"))
	if _, _, err := store.GetCounters(context.Background(), "run"); err == nil {
		t.Fatal("expected not initialized error")
	}
}
