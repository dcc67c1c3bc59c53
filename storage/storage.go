// Package storage defines the Storage contract shared by every cachex
// backend and the in-memory implementation. Every method takes a
// context.Context: a context with no deadline behaves like an ordinary
// blocking call, and ctx.Done() cancellation gives callers a uniform
// cooperative-cancellation contract at every suspension point.
package storage

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/raid-newvicx/cachex/cacheerrors"
	"github.com/raid-newvicx/cachex/envelope"
)

// Storage is a uniform key -> bytes store with TTL, implemented by every
// cachex backend (memory, file, Redis, Memcached, Mongo).
//
// get after set with the same key returns equal bytes until the entry
// expires or is deleted. get after expiry returns (nil, false) and should
// opportunistically delete the underlying record. delete_all affects only
// the instance's own key namespace.
type Storage interface {
	// Set stores value under key with the given TTL (0 = never expires).
	Set(ctx context.Context, key string, value []byte, expiresIn time.Duration) error
	// Get returns the stored bytes for key, or (nil, false) on a miss or
	// expiry. A backend I/O failure is a non-nil error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Delete removes key. It is a no-op, not an error, if key is absent.
	Delete(ctx context.Context, key string) error
	// DeleteAll removes every key in this instance's namespace.
	DeleteAll(ctx context.Context) error
}

// Memory is an in-process Storage backed by a mutex-guarded map. Expiry is
// checked lazily on Get.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*envelope.Envelope
}

// NewMemory constructs an empty in-memory Storage.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*envelope.Envelope)}
}

func (m *Memory) Set(_ context.Context, key string, value []byte, expiresIn time.Duration) error {
	env, err := envelope.New(value, expiresIn)
	if err != nil {
		return &cacheerrors.CacheError{Op: "memory: set", Cause: err}
	}
	m.mu.Lock()
	m.entries[key] = env
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	env, ok := m.entries[key]
	if ok && env.Expired() {
		delete(m.entries, key)
		ok = false
		logMiss("memory", key, "expired")
	}
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	return env.Data, true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]*envelope.Envelope)
	m.mu.Unlock()
	return nil
}

var _ Storage = (*Memory)(nil)

// BoundedMemory is an in-process Storage backed by a size-capped LRU
// (github.com/hashicorp/golang-lru/v2). Unlike Memory it evicts the
// least-recently-used entry once Capacity is reached, trading unbounded
// growth for a fixed memory ceiling — useful when cachex guards a function
// called with unboundedly many distinct argument combinations.
type BoundedMemory struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *envelope.Envelope]
}

// NewBoundedMemory constructs an in-memory Storage holding at most
// capacity entries.
func NewBoundedMemory(capacity int) (*BoundedMemory, error) {
	c, err := lru.New[string, *envelope.Envelope](capacity)
	if err != nil {
		return nil, &cacheerrors.ImproperlyConfiguredException{Msg: "bounded memory storage", Cause: err}
	}
	return &BoundedMemory{lru: c}, nil
}

func (m *BoundedMemory) Set(_ context.Context, key string, value []byte, expiresIn time.Duration) error {
	env, err := envelope.New(value, expiresIn)
	if err != nil {
		return &cacheerrors.CacheError{Op: "bounded memory: set", Cause: err}
	}
	m.mu.Lock()
	m.lru.Add(key, env)
	m.mu.Unlock()
	return nil
}

func (m *BoundedMemory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if env.Expired() {
		m.lru.Remove(key)
		logMiss("bounded-memory", key, "expired")
		return nil, false, nil
	}
	return env.Data, true, nil
}

func (m *BoundedMemory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	m.lru.Remove(key)
	m.mu.Unlock()
	return nil
}

func (m *BoundedMemory) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	m.lru.Purge()
	m.mu.Unlock()
	return nil
}

var _ Storage = (*BoundedMemory)(nil)

// logMiss is a shared helper used by the in-process backends (Memory and
// BoundedMemory for expiry-driven deletes, File for unreadable or corrupt
// entries) so misses are logged at the same level; a miss is not an error
// so it is never logged above debug.
func logMiss(backend, key string, reason string) {
	log.Debug().Str("backend", backend).Str("key", key).Str("reason", reason).Msg("cachex: storage miss")
}
