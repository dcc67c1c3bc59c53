// Package refcache implements the reference cache: a
// process-global fingerprint -> live-object registry, and the
// cache_reference decorator built on top of it. Unlike valuecache,
// objects here are never copied, serialized, or expired — their lifetime
// is the process's lifetime unless explicitly removed.
//
// The same registry also underlies the storage-factory singleton
// mechanism in package valuecache: two decorators that construct a
// backend with the "same" zero-argument factory collide on the factory's
// function key and end up sharing one Storage instance, which is the
// entire point of a connection-pooling storage client.
package refcache

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/raid-newvicx/cachex/hash"
	"github.com/raid-newvicx/cachex/keybuilder"
)

var (
	globalMu      sync.Mutex
	globalStorage = make(map[string]any)
)

// lookup returns the object registered under key, if any. Safe for
// concurrent use.
func lookup(key string) (any, bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	v, ok := globalStorage[key]
	return v, ok
}

// store registers obj under key. Safe for concurrent use. It does not
// check for an existing entry: callers that need exactly-once construction
// serialize through a decorator-scoped lock before calling store (see
// Reference below).
func store(key string, obj any) {
	globalMu.Lock()
	globalStorage[key] = obj
	globalMu.Unlock()
}

// Remove deletes key from the registry, if present. Reference-cached
// objects are deliberately process-scoped singletons with no automatic
// eviction; Remove exists only for tests and explicit
// teardown, not for ordinary cache operation.
func Remove(key string) {
	globalMu.Lock()
	delete(globalStorage, key)
	globalMu.Unlock()
}

// Snapshot returns a point-in-time copy of every live reference-cached
// object, typically used by a host application to finalize resources on
// shutdown.
func Snapshot() []any {
	globalMu.Lock()
	defer globalMu.Unlock()
	out := make([]any, 0, len(globalStorage))
	for _, v := range globalStorage {
		out = append(out, v)
	}
	return out
}

// Entries returns a point-in-time copy of the registry keyed by cache key.
// The admin introspection surface uses this so an operator can see which
// key to pass to Remove.
func Entries() map[string]any {
	globalMu.Lock()
	defer globalMu.Unlock()
	out := make(map[string]any, len(globalStorage))
	for k, v := range globalStorage {
		out[k] = v
	}
	return out
}

// options configures a reference-cache decorator.
type options struct {
	encoders    hash.Encoders
	explicitKey string
}

// Option configures Reference / ReferenceContext.
type Option func(*options)

// WithTypeEncoders registers type encoders consulted when fingerprinting
// call arguments, forwarded to the hasher.
func WithTypeEncoders(encoders hash.Encoders) Option {
	return func(o *options) { o.encoders = encoders }
}

// WithFunctionKey pins the function-identity half of the cache key to an
// explicit string instead of deriving it from fn's own code location.
// Package valuecache uses this so the singleton bucket is
// keyed off the user-supplied factory's identity rather than the shared
// adapter closure wrapping it.
func WithFunctionKey(key string) Option {
	return func(o *options) { o.explicitKey = key }
}

// Func is the blocking function shape cache_reference wraps.
type Func func(args ...keybuilder.Arg) (any, error)

// ContextFunc is the context-aware function shape ReferenceContext wraps; ctx
// cancellation is propagated before the construction lock is taken and
// while the underlying call runs, matching the library-wide cancellation
// contract.
type ContextFunc func(ctx context.Context, args ...keybuilder.Arg) (any, error)

// Reference wraps fn so that the first call for a given set of arguments
// constructs the object and every subsequent call with an
// argument-fingerprint-equal set of arguments returns the *same* object
// (pointer/interface identity), not a copy. This is what makes reference
// caching different from valuecache: callers share one live instance.
//
// Concurrent calls to the same underlying fn are serialized through a
// per-decorator construction lock so a slow
// constructor is never run twice for the same key.
func Reference(fn Func, opts ...Option) Func {
	o := applyOptions(opts)
	fnKey := resolveFunctionKey(fn, o)
	fnName := funcDisplayName(fn)
	var constructionMu sync.Mutex

	return func(args ...keybuilder.Arg) (any, error) {
		constructionMu.Lock()
		defer constructionMu.Unlock()

		ak, err := keybuilder.ArgKey(fnName, args, o.encoders)
		if err != nil {
			return nil, err
		}
		key := keybuilder.CacheKey(fnKey, ak)

		if obj, ok := lookup(key); ok {
			log.Debug().Str("func", fnName).Str("key", key).Msg("cachex: reference cache hit")
			return obj, nil
		}
		log.Debug().Str("func", fnName).Str("key", key).Msg("cachex: reference cache miss")

		obj, err := fn(args...)
		if err != nil {
			return nil, err
		}
		store(key, obj)
		return obj, nil
	}
}

// ReferenceContext is the context-aware counterpart of Reference, for
// functions that may block on I/O constructing their result (e.g. opening
// a network connection). Decoration-time type checking is irrelevant in Go
// since the two signatures (Func, ContextFunc) are already distinct types
// the compiler enforces — there is no way to accidentally pass a
// context-taking function where Reference expects Func.
func ReferenceContext(fn ContextFunc, opts ...Option) ContextFunc {
	o := applyOptions(opts)
	fnKey := resolveFunctionKey(fn, o)
	fnName := funcDisplayName(fn)
	// A buffered channel of capacity 1 is the idiomatic context-cancellable
	// mutex: acquiring is "send a token", releasing is "receive it back".
	// Unlike sync.Mutex, a select can race the acquire against ctx.Done()
	// without risking an orphaned lock (see the sync.Mutex + goroutine
	// approach this replaced: if ctx was cancelled first, the goroutine
	// would eventually grab the mutex with nothing left to unlock it).
	sem := make(chan struct{}, 1)

	return func(ctx context.Context, args ...keybuilder.Arg) (any, error) {
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

		ak, err := keybuilder.ArgKey(fnName, args, o.encoders)
		if err != nil {
			return nil, err
		}
		key := keybuilder.CacheKey(fnKey, ak)

		if obj, ok := lookup(key); ok {
			log.Debug().Str("func", fnName).Str("key", key).Msg("cachex: reference cache hit")
			return obj, nil
		}
		log.Debug().Str("func", fnName).Str("key", key).Msg("cachex: reference cache miss")

		obj, err := fn(ctx, args...)
		if err != nil {
			return nil, err
		}
		store(key, obj)
		return obj, nil
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// resolveFunctionKey returns the explicit key override if one was
// configured, else fn's own code-location identity.
func resolveFunctionKey(fn any, o options) keybuilder.FunctionKey {
	if o.explicitKey != "" {
		return keybuilder.FunctionKeyOf(fn, keybuilder.WithFunctionKey(o.explicitKey))
	}
	return keybuilder.FunctionKeyOf(fn)
}

func funcDisplayName(fn any) string {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return fmt.Sprintf("%T", fn)
	}
	name, _, _, ok := hash.FuncForPC(fn)
	if !ok {
		return "<anonymous func>"
	}
	return name
}
