package storage

import (
	"path/filepath"
	"testing"
)

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close memory store: %v", err)
	}
}

func TestNewStoreBolt(t *testing.T) {
	store, err := NewStore("bolt", filepath.Join(t.TempDir(), "regevo.db"))
	if err != nil {
		t.Fatalf("new bolt store: %v", err)
	}
	if _, ok := store.(*BoltStore); !ok {
		t.Fatalf("expected bolt store, got %T", store)
	}
	if _, err := NewStore("bolt", ""); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}
