package hash

import (
	"fmt"
	"reflect"
	"runtime"
)

// qualifiedTypeName returns a stable "pkgpath.TypeName" string for value,
// used as the leading "typeName:" tag on every encoded value. Untyped
// nil and nil interfaces report "nil".
func qualifiedTypeName(value any) string {
	if value == nil {
		return "nil"
	}
	t := reflect.TypeOf(value)
	if t == nil {
		return "nil"
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// identityOf returns a stable identity for value suitable for cycle
// detection, for the reference-like kinds where aliasing (and therefore
// cycles) is possible: pointers, maps, slices, channels, functions. Value
// types (structs, arrays, numbers, strings) have no identity distinct from
// their value and are not tracked on the stack.
func identityOf(value any) (uintptr, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	case reflect.Slice:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	case reflect.Func:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	}
	return 0, false
}

// funcName returns the package-qualified name of a function value, used
// both by the hasher's function-variant encoding and by keybuilder's
// function-identity fingerprint.
func funcName(fn any) string {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return "<nil func>"
	}
	pc := rv.Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "<unknown func>"
	}
	return f.Name()
}

// FuncForPC exposes runtime.FuncForPC-derived identity (name, file,
// starting line) for a function value. keybuilder uses this as the
// stable, code-location-based substitute for source text: stable across
// runs of the same binary, and changes whenever the function's code
// moves, which is what an edit almost always does.
func FuncForPC(fn any) (name, file string, line int, ok bool) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return "", "", 0, false
	}
	f := runtime.FuncForPC(rv.Pointer())
	if f == nil {
		return "", "", 0, false
	}
	file, line = f.FileLine(rv.Pointer())
	return f.Name(), file, line, true
}

// simpleMemoKey returns a memo key and true if value is one of the "simple"
// variants memoizable within one hashing session: bytes, strings,
// numerics, booleans, nil, and homogeneous simple tuples/lists (modeled in
// Go as slices/arrays of comparable simple kinds). Anything else returns
// (nil, false) and is never memoized, since arbitrary mutable/unhashable
// values cannot be safely memoized.
func simpleMemoKey(value any) (any, bool) {
	if value == nil {
		return nil, true
	}
	switch v := value.(type) {
	case []byte:
		// A raw slice is not comparable and cannot key the memo map.
		return bytesKey(v), true
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr,
		float32, float64:
		return value, true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if !isHomogeneousSimple(rv) {
			return nil, false
		}
		return simpleSliceKey(rv), true
	}
	return nil, false
}

func isHomogeneousSimple(rv reflect.Value) bool {
	for i := 0; i < rv.Len(); i++ {
		if _, ok := simpleScalar(rv.Index(i).Interface()); !ok {
			return false
		}
	}
	return true
}

func simpleScalar(v any) (any, bool) {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr,
		float32, float64:
		return v, true
	}
	return nil, false
}

// bytesKey is the comparable memo-key form of a []byte value. The memo
// key also carries the qualified type name, so it never collides with a
// plain string holding the same bytes.
type bytesKey string

// simpleSliceKey builds a comparable memo key for a homogeneous-simple
// slice/array by joining type-tagged renderings of its elements into a
// string held in a struct tagged list-or-array (a plain []any would not be
// comparable and could not key a Go map).
type simpleListKey struct {
	isList bool
	items  string // joined, type-tagged representation; good enough as a memo key
}

func simpleSliceKey(rv reflect.Value) simpleListKey {
	isList := rv.Kind() == reflect.Slice
	var b []byte
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		b = append(b, []byte(qualifiedTypeName(item))...)
		b = append(b, ':')
		b = append(b, []byte(fmt.Sprintf("%v", item))...)
		b = append(b, ';')
	}
	return simpleListKey{isList: isList, items: string(b)}
}
