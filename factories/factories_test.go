package factories

import (
	"context"
	"testing"
)

func TestMemoryFactoryRoundTrip(t *testing.T) {
	factory := Memory()
	s, err := factory()
	if err != nil {
		t.Fatalf("memory factory: %v", err)
	}
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(data) != "v" {
		t.Fatalf("get: data=%q ok=%v err=%v", data, ok, err)
	}
}

func TestBoundedMemoryFactoryRejectsNonPositiveCapacity(t *testing.T) {
	factory := BoundedMemory(0)
	if _, err := factory(); err == nil {
		t.Fatalf("expected an error constructing a zero-capacity bounded cache")
	}
}

func TestFileFactoryRoundTrip(t *testing.T) {
	factory := File(t.TempDir(), "")
	s, err := factory()
	if err != nil {
		t.Fatalf("file factory: %v", err)
	}
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(data) != "v" {
		t.Fatalf("get: data=%q ok=%v err=%v", data, ok, err)
	}
}

func TestRedisFactoryRejectsBadURL(t *testing.T) {
	factory := Redis("not-a-valid-redis-url", "")
	if _, err := factory(); err == nil {
		t.Fatalf("expected an error parsing an invalid redis url")
	}
}
