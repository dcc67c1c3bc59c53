// Package factories implements zero-argument Storage constructors, one per
// backend, wired to valuecache.Value / valuecache.AsyncValue via
// WithStorageFactory. Each constructor returns a valuecache.StorageFactory
// that builds the storage.Storage when a decorated function is first
// called.
package factories

import (
	"context"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/raid-newvicx/cachex/storage"
	"github.com/raid-newvicx/cachex/storage/memcachedkv"
	"github.com/raid-newvicx/cachex/storage/mongokv"
	"github.com/raid-newvicx/cachex/storage/rediskv"
	"github.com/raid-newvicx/cachex/valuecache"
)

// Memory returns a factory producing a fresh unbounded in-memory Storage.
func Memory() valuecache.StorageFactory {
	return func() (storage.Storage, error) {
		return storage.NewMemory(), nil
	}
}

// BoundedMemory returns a factory producing a capacity-bounded in-memory
// Storage evicting least-recently-used entries.
func BoundedMemory(capacity int) valuecache.StorageFactory {
	return func() (storage.Storage, error) {
		return storage.NewBoundedMemory(capacity)
	}
}

// File returns a factory producing filesystem Storage rooted at
// filepath.Join(root, keyPrefix).
func File(root, keyPrefix string) valuecache.StorageFactory {
	return func() (storage.Storage, error) {
		return storage.NewFile(root, keyPrefix)
	}
}

// Redis returns a factory producing Storage backed by a fresh
// *redis.Client dialed from url (a redis:// or rediss:// connection
// string). clientOpts, if given, is applied to the parsed options before
// the client is constructed.
func Redis(url, keyPrefix string, clientOpts ...func(*redis.Options)) valuecache.StorageFactory {
	return func() (storage.Storage, error) {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, err
		}
		for _, apply := range clientOpts {
			apply(opts)
		}
		return rediskv.New(redis.NewClient(opts), keyPrefix), nil
	}
}

// Memcached returns a factory wrapping an already-constructed
// *memcache.Client. Use MemcachedServers to dial a client from server
// addresses instead.
func Memcached(client *memcache.Client) valuecache.StorageFactory {
	return func() (storage.Storage, error) {
		return memcachedkv.New(client), nil
	}
}

// MemcachedServers returns a factory dialing a fresh client against the
// given "host:port" addresses.
func MemcachedServers(servers ...string) valuecache.StorageFactory {
	return func() (storage.Storage, error) {
		return memcachedkv.NewFromServers(servers...), nil
	}
}

// MongoOptions configures the Mongo factory's retry behavior:
// max_backoff, base_backoff, and max_failures.
type MongoOptions struct {
	MaxBackoff  time.Duration
	BaseBackoff time.Duration
	MaxFailures int
}

// Mongo returns a factory producing Storage backed by the named
// collection in database, dialed from uri. collection defaults to
// "cachex" when empty.
func Mongo(uri, database, collection, keyPrefix string, retry MongoOptions) valuecache.StorageFactory {
	if collection == "" {
		collection = "cachex"
	}
	return func() (storage.Storage, error) {
		client, err := mongo.Connect(context.Background(), mongooptions.Client().ApplyURI(uri))
		if err != nil {
			return nil, err
		}
		coll := client.Database(database).Collection(collection)
		var opts []mongokv.Option
		if retry.BaseBackoff > 0 || retry.MaxBackoff > 0 || retry.MaxFailures > 0 {
			base, max, maxFailures := retry.BaseBackoff, retry.MaxBackoff, retry.MaxFailures
			if base == 0 {
				base = mongokv.DefaultBaseBackoff
			}
			if max == 0 {
				max = mongokv.DefaultMaxBackoff
			}
			if maxFailures == 0 {
				maxFailures = mongokv.DefaultMaxFailures
			}
			opts = append(opts, mongokv.WithBackoff(base, max, maxFailures))
		}
		return mongokv.New(coll, keyPrefix, opts...), nil
	}
}
