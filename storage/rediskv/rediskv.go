// Package rediskv implements a Redis-backed Storage, using
// github.com/redis/go-redis/v9 as the client.
package rediskv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/raid-newvicx/cachex/cacheerrors"
	"github.com/raid-newvicx/cachex/storage"
)

// Redis stores each key as "{KeyPrefix}:{key}" and delegates TTL
// enforcement to the server via SET ... EX.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// New wraps an existing *redis.Client. keyPrefix defaults to "cachex".
func New(client *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "cachex"
	}
	return &Redis{client: client, keyPrefix: keyPrefix}
}

// NewFromURL parses url (a redis:// or rediss:// connection string) and
// constructs a Redis storage backed by a fresh client.
func NewFromURL(url, keyPrefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, &cacheerrors.ImproperlyConfiguredException{Msg: "redis storage: parse url", Cause: err}
	}
	return New(redis.NewClient(opts), keyPrefix), nil
}

var _ storage.Storage = (*Redis)(nil)

func (r *Redis) namespaced(key string) string {
	return r.keyPrefix + ":" + key
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, expiresIn time.Duration) error {
	if err := r.client.Set(ctx, r.namespaced(key), value, expiresIn).Err(); err != nil {
		return &cacheerrors.CacheError{Op: "redis: set", Cause: err}
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.namespaced(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, &cacheerrors.CacheError{Op: "redis: get", Cause: err}
	}
	return data, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.namespaced(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return &cacheerrors.CacheError{Op: "redis: delete", Cause: err}
	}
	return nil
}

// DeleteAll runs a server-side SCAN→UNLINK loop matching "{prefix}*:*",
// so it never blocks the server the way a KEYS scan or a FLUSHALL would.
// The glob also matches keys of an instance whose prefix begins with this
// instance's prefix (e.g. "cachex2:k" for prefix "cachex").
func (r *Redis) DeleteAll(ctx context.Context) error {
	pattern := r.keyPrefix + "*:*"
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Unlink(ctx, batch...).Err(); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := flush(); err != nil {
				return &cacheerrors.CacheError{Op: "redis: delete_all unlink", Cause: err}
			}
		}
	}
	if err := iter.Err(); err != nil {
		return &cacheerrors.CacheError{Op: "redis: delete_all scan", Cause: err}
	}
	if err := flush(); err != nil {
		return &cacheerrors.CacheError{Op: "redis: delete_all unlink", Cause: err}
	}
	log.Debug().Str("pattern", pattern).Msg("cachex: redis delete_all complete")
	return nil
}
