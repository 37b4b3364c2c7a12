package state

import (
	"context"
	"testing"
	"time"
)

func TestMemoryManagerRoundTrip(t *testing.T) {
	m := NewMemory(Options{DisableCache: true})

	if err := m.Set(context.Background(), "plans/p1", doc{Name: "release", Count: 2}, SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got doc
	found, err := m.Get(context.Background(), "plans/p1", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("Get() found = false")
	}
	if got.Name != "release" || got.Count != 2 {
		t.Errorf("got %+v, want the stored document", got)
	}

	if err := m.Delete(context.Background(), "plans/p1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if found, _ := m.Get(context.Background(), "plans/p1", &got); found {
		t.Error("key still readable after delete")
	}
}

func TestMemoryKVExpires(t *testing.T) {
	kv := &memoryKV{data: make(map[string]string), expires: make(map[string]time.Time)}

	kv.Set(context.Background(), "short", "v", 10*time.Millisecond)
	kv.Set(context.Background(), "keep", "v", 0)

	if _, ok, _ := kv.Get(context.Background(), "short"); !ok {
		t.Fatal("key expired before its ttl")
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok, _ := kv.Get(context.Background(), "short"); ok {
		t.Error("key survived its ttl")
	}
	if _, ok, _ := kv.Get(context.Background(), "keep"); !ok {
		t.Error("untimed key expired")
	}
	keys, _ := kv.Keys(context.Background(), "*")
	if len(keys) != 1 || keys[0] != "keep" {
		t.Errorf("Keys() = %v, want only the untimed key", keys)
	}
}
