package valuecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raid-newvicx/cachex/cacheerrors"
	"github.com/raid-newvicx/cachex/keybuilder"
	"github.com/raid-newvicx/cachex/storage"
)

func memFactory() StorageFactory {
	return func() (storage.Storage, error) {
		return storage.NewMemory(), nil
	}
}

func TestValueCacheHitReturnsDistinctCopy(t *testing.T) {
	var calls int32
	fn := func(args ...keybuilder.Arg) (any, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]any{"n": args[0].Value}, nil
	}
	cached := Value(fn, WithStorageFactory(memFactory()))

	v1, err := cached(keybuilder.Positional(float64(1)))
	if err != nil {
		t.Fatalf("call 1: %v", err)
	}
	v2, err := cached(keybuilder.Positional(float64(1)))
	if err != nil {
		t.Fatalf("call 2: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected underlying function to run once, ran %d times", got)
	}

	m1, ok1 := v1.(map[string]any)
	m2, ok2 := v2.(map[string]any)
	if !ok1 || !ok2 {
		t.Fatalf("expected decoded maps, got %T and %T", v1, v2)
	}
	m1["mutated"] = true
	if _, present := m2["mutated"]; present {
		t.Fatalf("expected v2 to be an independent copy, mutation of v1 leaked into v2")
	}
}

func TestValueCacheExpiry(t *testing.T) {
	var calls int32
	fn := func(args ...keybuilder.Arg) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "fresh", nil
	}
	cached := Value(fn, WithStorageFactory(memFactory()), WithExpiresIn(10*time.Millisecond))

	if _, err := cached(); err != nil {
		t.Fatalf("call 1: %v", err)
	}
	if _, err := cached(); err != nil {
		t.Fatalf("call 2: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one call before expiry, got %d", got)
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := cached(); err != nil {
		t.Fatalf("call 3: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected a second call after expiry, got %d", got)
	}
}

func TestValueCacheSingleFlight(t *testing.T) {
	var calls int32
	fn := func(args ...keybuilder.Arg) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}
	cached := Value(fn, WithStorageFactory(memFactory()), WithAllowConcurrent(false))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cached()
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one underlying call under allow_concurrent=false, got %d", got)
	}
}

func TestValueCacheMissingFactoryIsImproperlyConfigured(t *testing.T) {
	cached := Value(func(args ...keybuilder.Arg) (any, error) { return nil, nil })
	_, err := cached()
	var ice *cacheerrors.ImproperlyConfiguredException
	if err == nil {
		t.Fatalf("expected an error with no storage factory configured")
	}
	if !isImproperlyConfigured(err, &ice) {
		t.Fatalf("expected ImproperlyConfiguredException, got %T: %v", err, err)
	}
}

func isImproperlyConfigured(err error, target **cacheerrors.ImproperlyConfiguredException) bool {
	if e, ok := err.(*cacheerrors.ImproperlyConfiguredException); ok {
		*target = e
		return true
	}
	return false
}

func TestValueCacheUnserializableReturnValue(t *testing.T) {
	fn := func(args ...keybuilder.Arg) (any, error) {
		return make(chan int), nil
	}
	cached := Value(fn, WithStorageFactory(memFactory()))
	_, err := cached()
	if _, ok := err.(*cacheerrors.UnserializableReturnValueError); !ok {
		t.Fatalf("expected UnserializableReturnValueError, got %T: %v", err, err)
	}
}

func TestAsyncValueCancellation(t *testing.T) {
	fn := func(ctx context.Context, args ...keybuilder.Arg) (any, error) {
		return "v", nil
	}
	cached := AsyncValue(fn, WithStorageFactory(memFactory()), WithAllowConcurrent(false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cached(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestAsyncValueHit(t *testing.T) {
	var calls int32
	fn := func(ctx context.Context, args ...keybuilder.Arg) (any, error) {
		atomic.AddInt32(&calls, 1)
		return float64(42), nil
	}
	cached := AsyncValue(fn, WithStorageFactory(memFactory()))

	ctx := context.Background()
	v1, err := cached(ctx)
	if err != nil {
		t.Fatalf("call 1: %v", err)
	}
	v2, err := cached(ctx)
	if err != nil {
		t.Fatalf("call 2: %v", err)
	}
	if v1 != v2 {
		t.Fatalf("expected equal decoded values, got %v and %v", v1, v2)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one underlying call, got %d", got)
	}
}

func TestValueCacheSharesFactorySingleton(t *testing.T) {
	var constructed int32
	factory := func() (storage.Storage, error) {
		atomic.AddInt32(&constructed, 1)
		return storage.NewMemory(), nil
	}

	cachedA := Value(func(args ...keybuilder.Arg) (any, error) { return "a", nil },
		WithStorageFactory(factory), WithFactoryKey("shared"))
	cachedB := Value(func(args ...keybuilder.Arg) (any, error) { return "b", nil },
		WithStorageFactory(factory), WithFactoryKey("shared"))

	if _, err := cachedA(); err != nil {
		t.Fatalf("cachedA: %v", err)
	}
	if _, err := cachedB(); err != nil {
		t.Fatalf("cachedB: %v", err)
	}

	if got := atomic.LoadInt32(&constructed); got != 1 {
		t.Fatalf("expected both decorators to share one storage instance from the same factory+factory_key, got %d distinct constructions", got)
	}

	// A different factory_key must disambiguate: same factory closure, new
	// singleton bucket.
	cachedC := Value(func(args ...keybuilder.Arg) (any, error) { return "c", nil },
		WithStorageFactory(factory), WithFactoryKey("other"))
	if _, err := cachedC(); err != nil {
		t.Fatalf("cachedC: %v", err)
	}
	if got := atomic.LoadInt32(&constructed); got != 2 {
		t.Fatalf("expected a distinct factory_key to construct a second storage instance, got %d constructions", got)
	}
}
