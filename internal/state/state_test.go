package state

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeKV struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	gets   int
	broken bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if f.broken {
		return errors.New("backend down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	if f.broken {
		return "", false, errors.New("backend down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	delete(f.ttls, key)
	return nil
}

func (f *fakeKV) Keys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSetGetRoundTrip(t *testing.T) {
	kv := newFakeKV()
	m := newManager(kv, Options{})

	if err := m.Set(context.Background(), "plans/p1", doc{Name: "release", Count: 3}, SetOptions{}); err != nil {
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
	if got.Name != "release" || got.Count != 3 {
		t.Errorf("got %+v, want the stored document", got)
	}

	if _, ok := kv.data["state:plans/p1"]; !ok {
		t.Error("backend key missing the state prefix")
	}
}

func TestGetMissing(t *testing.T) {
	m := newManager(newFakeKV(), Options{})

	var got doc
	found, err := m.Get(context.Background(), "nope", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() found = true for a missing key")
	}
}

func TestCacheServesRepeatReads(t *testing.T) {
	kv := newFakeKV()
	m := newManager(kv, Options{})
	m.Set(context.Background(), "k", doc{Name: "v"}, SetOptions{})

	var got doc
	for i := 0; i < 3; i++ {
		if _, err := m.Get(context.Background(), "k", &got); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	// The write primed the cache, so the backend sees no reads at all.
	if kv.gets != 0 {
		t.Errorf("backend saw %d reads, want 0", kv.gets)
	}
}

func TestDisabledCacheReadsBackend(t *testing.T) {
	kv := newFakeKV()
	m := newManager(kv, Options{DisableCache: true})
	m.Set(context.Background(), "k", doc{Name: "v"}, SetOptions{})

	var got doc
	for i := 0; i < 3; i++ {
		m.Get(context.Background(), "k", &got)
	}
	if kv.gets != 3 {
		t.Errorf("backend saw %d reads, want 3", kv.gets)
	}
}

func TestTemporaryEntriesExpire(t *testing.T) {
	kv := newFakeKV()
	m := newManager(kv, Options{})

	m.Set(context.Background(), "perm", doc{}, SetOptions{})
	m.Set(context.Background(), "temp", doc{}, SetOptions{Temporary: true})

	if got := kv.ttls["state:perm"]; got != 0 {
		t.Errorf("permanent entry ttl = %v, want none", got)
	}
	if got := kv.ttls["state:temp"]; got != time.Hour {
		t.Errorf("temporary entry ttl = %v, want 1h", got)
	}
}

func TestVersionsGrow(t *testing.T) {
	m := newManager(newFakeKV(), Options{})

	m.Set(context.Background(), "k", doc{Count: 1}, SetOptions{})
	first, _, _ := m.Inspect(context.Background(), "k")
	m.Set(context.Background(), "k", doc{Count: 2}, SetOptions{})
	second, _, _ := m.Inspect(context.Background(), "k")

	if second.Version <= first.Version {
		t.Errorf("versions = %d then %d, want growth", first.Version, second.Version)
	}
}

func TestDelete(t *testing.T) {
	kv := newFakeKV()
	m := newManager(kv, Options{})
	m.Set(context.Background(), "k", doc{}, SetOptions{})

	if err := m.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var got doc
	if found, _ := m.Get(context.Background(), "k", &got); found {
		t.Error("key still readable after delete")
	}
	if _, ok := kv.data["state:k"]; ok {
		t.Error("backend still holds the deleted key")
	}
}

func TestKeys(t *testing.T) {
	m := newManager(newFakeKV(), Options{})
	m.Set(context.Background(), "planner/session/b", doc{}, SetOptions{})
	m.Set(context.Background(), "planner/session/a", doc{}, SetOptions{})
	m.Set(context.Background(), "other/x", doc{}, SetOptions{})

	keys, err := m.Keys(context.Background(), "planner/session/*")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []string{"planner/session/a", "planner/session/b"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestBackendFailuresAreWrapped(t *testing.T) {
	kv := newFakeKV()
	kv.broken = true
	m := newManager(kv, Options{})

	if err := m.Set(context.Background(), "k", doc{}, SetOptions{}); err == nil || !strings.Contains(err.Error(), "store state") {
		t.Errorf("Set() error = %v, want wrapped store error", err)
	}
	var got doc
	if _, err := m.Get(context.Background(), "k", &got); err == nil || !strings.Contains(err.Error(), "load state") {
		t.Errorf("Get() error = %v, want wrapped load error", err)
	}
}
