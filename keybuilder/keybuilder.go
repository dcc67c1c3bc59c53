// Package keybuilder derives the two halves of a cachex cache key: a
// function-identity fingerprint computed once at decoration time, and a
// per-call argument fingerprint computed from the caller-supplied argument
// list. Go's lack of parameter-name and bound-method introspection pushes
// argument naming onto the caller via the Arg type below.
package keybuilder

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/raid-newvicx/cachex/cacheerrors"
	"github.com/raid-newvicx/cachex/hash"
)

// Arg is one (parameter name, value) pair supplied to a decorated call.
// Name is empty ("null") for positional arguments and for variadic/
// out-of-range positions. A Name beginning with "_" excludes the pair
// from the argument fingerprint entirely.
type Arg struct {
	Name  string
	Value any
}

// Positional builds an Arg with no name, for ordinary positional-style
// calls where ordering alone disambiguates the argument.
func Positional(value any) Arg { return Arg{Value: value} }

// Named builds an Arg carrying a logical parameter name, for keyword-style
// calls. Insertion order of Named args is significant and preserved.
func Named(name string, value any) Arg { return Arg{Name: name, Value: value} }

// FunctionKey is the 128-bit digest identifying a function for caching
// purposes, computed once per decorated function at decoration time.
type FunctionKey [16]byte

// String returns the lowercase hex encoding used in composite cache keys.
func (k FunctionKey) String() string { return hex.EncodeToString(k[:]) }

// funcKeyOptions configures FunctionKeyOf.
type funcKeyOptions struct {
	explicit string
}

// FunctionKeyOption configures how a function's identity is derived.
type FunctionKeyOption func(*funcKeyOptions)

// WithFunctionKey pins a function's identity to an explicit string instead
// of deriving it from runtime.FuncForPC. Use this when the derived key is
// unstable (closures, generated code) or when two distinct Go functions
// must deliberately collide (see refcache's factory-key disambiguation).
func WithFunctionKey(key string) FunctionKeyOption {
	return func(o *funcKeyOptions) { o.explicit = key }
}

// FunctionKeyOf fingerprints fn's identity: its package-qualified name,
// defining file, and starting line — a stable, code-location-based
// substitute for source text. When WithFunctionKey is given, the digest
// is derived from that key alone and fn is not inspected. Otherwise it
// panics if fn is not a function value; this is a decoration-time
// programmer error, not a runtime condition.
func FunctionKeyOf(fn any, opts ...FunctionKeyOption) FunctionKey {
	var o funcKeyOptions
	for _, opt := range opts {
		opt(&o)
	}

	h := md5.New()
	if o.explicit != "" {
		h.Write([]byte("explicit:"))
		h.Write([]byte(o.explicit))
		var out FunctionKey
		copy(out[:], h.Sum(nil))
		return out
	}

	name, file, line, ok := funcForPC(fn)
	if !ok {
		panic(fmt.Sprintf("cachex: keybuilder.FunctionKeyOf: %v is not a function value", fn))
	}
	fmt.Fprintf(h, "%s\x00%s\x00%d", name, file, line)
	var out FunctionKey
	copy(out[:], h.Sum(nil))
	return out
}

// funcForPC is a thin indirection over hash.FuncForPC so this package's
// exported surface does not leak the hash package's internals.
func funcForPC(fn any) (name, file string, line int, ok bool) {
	return hash.FuncForPC(fn)
}

// ArgKey fingerprints an ordered argument list into a 128-bit digest.
// funcName is used only to build a readable error on failure
// (UnhashableParamError names the function). encoders may be nil.
func ArgKey(funcName string, args []Arg, encoders hash.Encoders) ([16]byte, error) {
	h := md5.New()
	for _, a := range args {
		if strings.HasPrefix(a.Name, "_") {
			continue
		}
		pairBytes, err := hash.ToBytes([2]any{a.Name, a.Value}, encoders)
		if err != nil {
			var typeName string
			if a.Value == nil {
				typeName = "nil"
			} else {
				typeName = fmt.Sprintf("%T", a.Value)
			}
			var out [16]byte
			return out, &cacheerrors.UnhashableParamError{
				Func:      funcName,
				Param:     paramLabel(a.Name),
				ParamType: typeName,
				Cause:     err,
			}
		}
		h.Write(pairBytes)
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func paramLabel(name string) string {
	if name == "" {
		return "<positional>"
	}
	return name
}

// CacheKey composes the textual cache key "{function_key}_{arg_key}".
func CacheKey(fk FunctionKey, ak [16]byte) string {
	return fk.String() + "_" + hex.EncodeToString(ak[:])
}

// Key derives the full cache key for a call to fn with args, in one step.
// It is the composition most decorators (valuecache, refcache) actually
// need: function identity + argument fingerprint + textual composition.
func Key(fn any, fnOpts []FunctionKeyOption, funcLabel string, args []Arg, encoders hash.Encoders) (string, error) {
	fk := FunctionKeyOf(fn, fnOpts...)
	ak, err := ArgKey(funcLabel, args, encoders)
	if err != nil {
		return "", err
	}
	return CacheKey(fk, ak), nil
}
