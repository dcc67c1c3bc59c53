// Package memcachedkv implements a Memcached-backed Storage, using
// github.com/bradfitz/gomemcache as the client.
package memcachedkv

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/raid-newvicx/cachex/cacheerrors"
	"github.com/raid-newvicx/cachex/storage"
)

// Memcached delegates TTL enforcement to the backend via the item's
// Expiration field, expressed in whole seconds (rounded up).
type Memcached struct {
	client *memcache.Client
}

// New wraps an existing *memcache.Client.
func New(client *memcache.Client) *Memcached {
	return &Memcached{client: client}
}

// NewFromServers dials a fresh client against the given "host:port"
// server addresses.
func NewFromServers(servers ...string) *Memcached {
	return New(memcache.New(servers...))
}

var _ storage.Storage = (*Memcached)(nil)

func (m *Memcached) Set(_ context.Context, key string, value []byte, expiresIn time.Duration) error {
	item := &memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expirationSeconds(expiresIn),
	}
	if err := m.client.Set(item); err != nil {
		return &cacheerrors.CacheError{Op: "memcached: set", Cause: err}
	}
	return nil
}

// expirationSeconds rounds up to the next whole second. A zero TTL
// (never expires) maps to memcache's own "never expires" value, 0.
func expirationSeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	return int32(math.Ceil(d.Seconds()))
}

func (m *Memcached) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, err := m.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, &cacheerrors.CacheError{Op: "memcached: get", Cause: err}
	}
	return item.Value, true, nil
}

func (m *Memcached) Delete(_ context.Context, key string) error {
	if err := m.client.Delete(key); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return &cacheerrors.CacheError{Op: "memcached: delete", Cause: err}
	}
	return nil
}

// DeleteAll issues flush_all, which is backend-wide: this clears every
// key on the memcached server(s) this client talks to, not just this
// instance's namespace (memcached has no native per-prefix flush).
func (m *Memcached) DeleteAll(_ context.Context) error {
	if err := m.client.FlushAll(); err != nil {
		return &cacheerrors.CacheError{Op: "memcached: delete_all (flush_all)", Cause: err}
	}
	return nil
}
