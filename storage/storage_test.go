package storage

import (
	"context"
	"os"
	"testing"
	"time"
)

func testRoundTrip(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if err := s.Set(ctx, "a", []byte("hello"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, ok, err := s.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("get after set: data=%v ok=%v err=%v", data, ok, err)
	}
	if string(data) != "hello" {
		t.Fatalf("get returned %q, want %q", data, "hello")
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("second delete (no-op on missing): %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("get after delete: expected miss")
	}
}

func testExpiry(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if err := s.Set(ctx, "ttl", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := s.Get(ctx, "ttl"); err != nil || !ok {
		t.Fatalf("get within ttl: ok=%v err=%v", ok, err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok, err := s.Get(ctx, "ttl"); err != nil || ok {
		t.Fatalf("get after ttl elapsed: expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	testRoundTrip(t, NewMemory())
}

func TestMemoryExpiry(t *testing.T) {
	testExpiry(t, NewMemory())
}

func TestMemoryDeleteAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "a", []byte("1"), 0)
	_ = m.Set(ctx, "b", []byte("2"), 0)
	if err := m.DeleteAll(ctx); err != nil {
		t.Fatalf("delete_all: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Fatalf("expected a to be gone")
	}
	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Fatalf("expected b to be gone")
	}
}

func TestBoundedMemoryRoundTrip(t *testing.T) {
	m, err := NewBoundedMemory(8)
	if err != nil {
		t.Fatalf("new bounded memory: %v", err)
	}
	testRoundTrip(t, m)
}

func TestBoundedMemoryEviction(t *testing.T) {
	ctx := context.Background()
	m, err := NewBoundedMemory(2)
	if err != nil {
		t.Fatalf("new bounded memory: %v", err)
	}
	_ = m.Set(ctx, "a", []byte("1"), 0)
	_ = m.Set(ctx, "b", []byte("2"), 0)
	_ = m.Set(ctx, "c", []byte("3"), 0) // evicts "a" (least recently used)
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Fatalf("expected a to have been evicted")
	}
	if _, ok, _ := m.Get(ctx, "c"); !ok {
		t.Fatalf("expected c to be present")
	}
}

func TestFileRoundTrip(t *testing.T) {
	f, err := NewFile(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new file storage: %v", err)
	}
	testRoundTrip(t, f)
}

func TestFileExpiry(t *testing.T) {
	f, err := NewFile(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new file storage: %v", err)
	}
	testExpiry(t, f)
}

func TestFileKeyPrefixIsolation(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	a, err := NewFile(root, "ns-a")
	if err != nil {
		t.Fatalf("new file storage a: %v", err)
	}
	b, err := NewFile(root, "ns-b")
	if err != nil {
		t.Fatalf("new file storage b: %v", err)
	}

	_ = a.Set(ctx, "k", []byte("a-value"), 0)
	_ = b.Set(ctx, "k", []byte("b-value"), 0)

	if err := a.DeleteAll(ctx); err != nil {
		t.Fatalf("delete_all on a: %v", err)
	}
	if _, ok, _ := a.Get(ctx, "k"); ok {
		t.Fatalf("expected a's key to be gone")
	}
	data, ok, err := b.Get(ctx, "k")
	if err != nil || !ok || string(data) != "b-value" {
		t.Fatalf("expected b's namespace untouched by a's delete_all, got data=%q ok=%v err=%v", data, ok, err)
	}
}

// TestFileStaleTempNeverObserved: an abandoned temp file from a write that
// died between temp-write and rename must not corrupt the committed value.
func TestFileStaleTempNeverObserved(t *testing.T) {
	root := t.TempDir()
	f, err := NewFile(root, "")
	if err != nil {
		t.Fatalf("new file storage: %v", err)
	}
	ctx := context.Background()

	if err := f.Set(ctx, "K", []byte("v1"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Simulate a crashed second Set: a sibling temp file holding a partial
	// envelope, never renamed over the target.
	stale := f.pathFor("K") + ".tmp.deadbeef"
	if err := os.WriteFile(stale, []byte(`{"data":"v2-part`), 0o644); err != nil {
		t.Fatalf("write stale temp: %v", err)
	}

	data, ok, err := f.Get(ctx, "K")
	if err != nil || !ok {
		t.Fatalf("get after stale temp: ok=%v err=%v", ok, err)
	}
	if string(data) != "v1" {
		t.Fatalf("expected the committed value v1, got %q", data)
	}
}

func TestFileSafeNameHandlesUnsafeKeys(t *testing.T) {
	f, err := NewFile(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new file storage: %v", err)
	}
	ctx := context.Background()
	key := "abc_123/def:ghi é"
	if err := f.Set(ctx, key, []byte("payload"), 0); err != nil {
		t.Fatalf("set with unsafe key: %v", err)
	}
	data, ok, err := f.Get(ctx, key)
	if err != nil || !ok || string(data) != "payload" {
		t.Fatalf("get with unsafe key: data=%q ok=%v err=%v", data, ok, err)
	}
}
