// Package valuecache implements Value (blocking) and AsyncValue
// (context-aware), each binding a user function to a lazily-constructed
// Storage instance and driving the lookup/miss/populate protocol, with
// optional single-flight serialization via allow_concurrent=false.
//
// Unlike refcache, every hit is decoded fresh from stored bytes: callers
// never share an object, only its serialized representation — every
// caller gets its own copy.
package valuecache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/raid-newvicx/cachex/cacheerrors"
	"github.com/raid-newvicx/cachex/hash"
	"github.com/raid-newvicx/cachex/keybuilder"
	"github.com/raid-newvicx/cachex/refcache"
	"github.com/raid-newvicx/cachex/storage"
)

// Codec converts a return value to and from bytes for storage. The
// default, json, uses encoding/json rather than a bespoke binary format.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out *any) error
}

// jsonCodec is the default Codec.
type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Decode(data []byte, out *any) error {
	return json.Unmarshal(data, out)
}

// StorageFactory is a zero-argument Storage constructor. Factories are
// always wrapped through refcache so that repeated decoration with the
// "same" factory yields one shared Storage instance (a connection pool,
// not a new client per decorated function).
type StorageFactory func() (storage.Storage, error)

// options configures Value / AsyncValue.
type options struct {
	factory         StorageFactory
	factoryKey      string
	encoders        hash.Encoders
	expiresIn       time.Duration
	allowConcurrent bool
	codec           Codec
}

// Option configures a value-cache decorator.
type Option func(*options)

// WithStorageFactory supplies the zero-argument Storage constructor. If
// omitted, there is nowhere to store a result: every call returns
// ImproperlyConfiguredException without running the decorated function.
func WithStorageFactory(factory StorageFactory) Option {
	return func(o *options) { o.factory = factory }
}

// WithFactoryKey disambiguates two source-identical zero-argument
// factory closures that capture different arguments.
func WithFactoryKey(key string) Option {
	return func(o *options) { o.factoryKey = key }
}

// WithTypeEncoders registers type encoders consulted when fingerprinting
// call arguments.
func WithTypeEncoders(encoders hash.Encoders) Option {
	return func(o *options) { o.encoders = encoders }
}

// WithExpiresIn sets the TTL applied to every stored entry. Zero (the
// default) means entries never expire.
func WithExpiresIn(d time.Duration) Option {
	return func(o *options) { o.expiresIn = d }
}

// WithAllowConcurrent controls single-flight serialization. Default
// true; set false to serialize identical concurrent calls through a
// per-decorator mutex so the underlying function runs at most once per
// miss.
func WithAllowConcurrent(allow bool) Option {
	return func(o *options) { o.allowConcurrent = allow }
}

// WithCodec overrides the default JSON codec used to serialize return
// values.
func WithCodec(codec Codec) Option {
	return func(o *options) { o.codec = codec }
}

func applyOptions(opts []Option) options {
	o := options{allowConcurrent: true, codec: jsonCodec{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Func is the blocking function shape Value wraps.
type Func func(args ...keybuilder.Arg) (any, error)

// ContextFunc is the context-aware function shape AsyncValue wraps.
type ContextFunc func(ctx context.Context, args ...keybuilder.Arg) (any, error)

// storageResolver lazily constructs the bound Storage instance exactly
// once, under a per-decorator mutex, by reference-caching the factory so
// repeated decoration with the "same" factory shares one backend
// connection.
type storageResolver struct {
	mu      sync.Mutex
	s       storage.Storage
	factory StorageFactory
	key     string
}

func newStorageResolver(factory StorageFactory, factoryKey string) *storageResolver {
	return &storageResolver{factory: factory, key: factoryKey}
}

func (r *storageResolver) resolve() (storage.Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s != nil {
		return r.s, nil
	}
	if r.factory == nil {
		return nil, &cacheerrors.ImproperlyConfiguredException{
			Msg: "value cache decorator has no storage factory configured (use WithStorageFactory)",
		}
	}

	// The factory's own code location, not the adapter closure's, is what
	// must distinguish one backend from another: every resolver wraps its
	// factory in an identical adapter literal, so deriving the refcache
	// function key from the adapter would collide distinct backends that
	// happen to share a factory_key. keybuilder.FunctionKeyOf(r.factory)
	// recovers the factory's real identity instead.
	factoryIdentity := keybuilder.FunctionKeyOf(r.factory).String()
	wrapped := refcache.Reference(func(args ...keybuilder.Arg) (any, error) {
		return r.factory()
	}, refcache.WithFunctionKey(factoryIdentity))

	var argKey []keybuilder.Arg
	if r.key != "" {
		argKey = []keybuilder.Arg{keybuilder.Named("factory_key", r.key)}
	}
	obj, err := wrapped(argKey...)
	if err != nil {
		return nil, err
	}
	s, ok := obj.(storage.Storage)
	if !ok {
		return nil, &cacheerrors.ImproperlyConfiguredException{
			Msg: "storage factory did not return a storage.Storage",
		}
	}
	r.s = s
	return s, nil
}

// Value wraps fn with the blocking value-cache protocol: lazily resolve
// storage, optionally serialize through a per-decorator mutex, compute
// the cache key, get-or-populate.
func Value(fn Func, opts ...Option) Func {
	o := applyOptions(opts)
	fnKey := keybuilder.FunctionKeyOf(fn)
	fnName := funcDisplayName(fn)
	resolver := newStorageResolver(o.factory, o.factoryKey)
	var serializeMu sync.Mutex

	return func(args ...keybuilder.Arg) (any, error) {
		s, err := resolver.resolve()
		if err != nil {
			return nil, err
		}

		if !o.allowConcurrent {
			serializeMu.Lock()
			defer serializeMu.Unlock()
		}

		ak, err := keybuilder.ArgKey(fnName, args, o.encoders)
		if err != nil {
			return nil, err
		}
		key := keybuilder.CacheKey(fnKey, ak)
		ctx := context.Background()

		data, found, err := getData(ctx, s, key)
		if err != nil {
			return nil, err
		}
		if found {
			var out any
			if err := o.codec.Decode(data, &out); err != nil {
				return nil, &cacheerrors.CacheError{Op: "valuecache: decode", Cause: err}
			}
			return out, nil
		}

		value, err := fn(args...)
		if err != nil {
			return nil, err
		}
		encoded, err := o.codec.Encode(value)
		if err != nil {
			return nil, &cacheerrors.UnserializableReturnValueError{Func: fnName, Cause: err}
		}
		if err := setData(ctx, s, key, encoded, o.expiresIn); err != nil {
			return nil, err
		}
		return value, nil
	}
}

// AsyncValue is the context-aware counterpart of Value, for functions
// and backends that may suspend on I/O. Every suspension point — storage
// access and the serialization mutex — honors ctx.Done().
func AsyncValue(fn ContextFunc, opts ...Option) ContextFunc {
	o := applyOptions(opts)
	fnKey := keybuilder.FunctionKeyOf(fn)
	fnName := funcDisplayName(fn)
	resolver := newStorageResolver(o.factory, o.factoryKey)
	sem := make(chan struct{}, 1)

	return func(ctx context.Context, args ...keybuilder.Arg) (any, error) {
		s, err := resolver.resolve()
		if err != nil {
			return nil, err
		}

		if !o.allowConcurrent {
			// A select with both cases ready picks one at random, so an
			// already-cancelled ctx is checked first.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			defer func() { <-sem }()
		}

		ak, err := keybuilder.ArgKey(fnName, args, o.encoders)
		if err != nil {
			return nil, err
		}
		key := keybuilder.CacheKey(fnKey, ak)

		data, found, err := getData(ctx, s, key)
		if err != nil {
			return nil, err
		}
		if found {
			var out any
			if err := o.codec.Decode(data, &out); err != nil {
				return nil, &cacheerrors.CacheError{Op: "valuecache: decode", Cause: err}
			}
			return out, nil
		}

		value, err := fn(ctx, args...)
		if err != nil {
			return nil, err
		}
		encoded, err := o.codec.Encode(value)
		if err != nil {
			return nil, &cacheerrors.UnserializableReturnValueError{Func: fnName, Cause: err}
		}
		if err := setData(ctx, s, key, encoded, o.expiresIn); err != nil {
			return nil, err
		}
		return value, nil
	}
}

// getData wraps storage.Get's error, re-raising ImproperlyConfiguredException
// unchanged and wrapping any other backend failure as CacheError.
func getData(ctx context.Context, s storage.Storage, key string) ([]byte, bool, error) {
	data, found, err := s.Get(ctx, key)
	if err == nil {
		return data, found, nil
	}
	if _, ok := err.(*cacheerrors.ImproperlyConfiguredException); ok {
		return nil, false, err
	}
	return nil, false, &cacheerrors.CacheError{Op: "valuecache: get", Cause: err}
}

func setData(ctx context.Context, s storage.Storage, key string, data []byte, expiresIn time.Duration) error {
	if err := s.Set(ctx, key, data, expiresIn); err != nil {
		if _, ok := err.(*cacheerrors.ImproperlyConfiguredException); ok {
			return err
		}
		return &cacheerrors.CacheError{Op: "valuecache: set", Cause: err}
	}
	return nil
}

func funcDisplayName(fn any) string {
	name, _, _, ok := hash.FuncForPC(fn)
	if !ok {
		return "<anonymous func>"
	}
	return name
}
