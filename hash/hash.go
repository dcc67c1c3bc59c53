// Package hash implements the deterministic, content-addressed
// fingerprinting engine at the core of cachex. It converts an arbitrary
// Go value into bytes appended to a streaming MD5 hash, with cycle
// detection, per-call memoization, and user-extensible type encoders.
//
// Fingerprints are integrity checks, not MACs: MD5 is used throughout and
// collision resistance against an adversarial input is explicitly out of
// scope.
package hash

import (
	"bytes"
	"crypto/md5"
	"encoding"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"math"
	"os"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/raid-newvicx/cachex/cacheerrors"
)

// cyclePlaceholder is emitted in place of a value currently being
// fingerprinted higher up the call stack, breaking reference cycles with a
// fixed, recognizable byte string.
var cyclePlaceholder = []byte("<cachex:cycle>")

// Encoders maps a runtime type to a function that converts an otherwise
// unfingerprintable value into one hash already knows how to encode. An
// encoder's output is fed back through the hasher, so it may itself be a
// struct, slice, or any other supported shape. Encoders must be
// deterministic across process runs.
type Encoders map[reflect.Type]func(v any) (any, error)

// session carries the per-call state that must not leak across calls or
// be shared between goroutines: the identity stack used for cycle
// detection and the simple-value memo table. A session is created once
// per top-level call to Update/ToBytes and threaded explicitly through
// the recursive encode calls, replacing a per-thread-local hash stack
// with an explicit value passed down the call chain.
type session struct {
	stack map[uintptr]struct{}
	memo  map[memoKey]string
}

type memoKey struct {
	typeName string
	key      any
}

func newSession() *session {
	return &session{
		stack: make(map[uintptr]struct{}),
		memo:  make(map[memoKey]string),
	}
}

func (s *session) push(id uintptr) bool {
	if _, ok := s.stack[id]; ok {
		return false
	}
	s.stack[id] = struct{}{}
	return true
}

func (s *session) pop(id uintptr) {
	delete(s.stack, id)
}

// Update fingerprints value and appends "typeName:digest(value)" to out, a
// caller-supplied streaming hash (typically one used to accumulate several
// values, e.g. an ordered argument list). encoders may be nil.
func Update(value any, out hash.Hash, encoders Encoders) error {
	s := newSession()
	b, err := s.toBytes(value, encoders)
	if err != nil {
		return err
	}
	out.Write(b)
	return nil
}

// ToBytes fingerprints a single value in its own session and returns the
// raw "typeName:digest" byte string. Exposed for callers (such as
// keybuilder) that need the bytes directly rather than a running hash.
func ToBytes(value any, encoders Encoders) ([]byte, error) {
	s := newSession()
	return s.toBytes(value, encoders)
}

func (s *session) toBytes(value any, encoders Encoders) ([]byte, error) {
	tname := qualifiedTypeName(value)

	if key, ok := simpleMemoKey(value); ok {
		mk := memoKey{typeName: tname, key: key}
		if digest, ok := s.memo[mk]; ok {
			return []byte(digest), nil
		}
		digest, err := s.encodeTagged(tname, value, encoders)
		if err != nil {
			return nil, err
		}
		s.memo[mk] = string(digest)
		return digest, nil
	}

	if id, ok := identityOf(value); ok {
		if !s.push(id) {
			return append([]byte(tname+":"), cyclePlaceholder...), nil
		}
		defer s.pop(id)
	}

	return s.encodeTagged(tname, value, encoders)
}

func (s *session) encodeTagged(tname string, value any, encoders Encoders) ([]byte, error) {
	encoded, err := s.encode(value, encoders)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(tname)+1+len(encoded))
	out = append(out, tname...)
	out = append(out, ':')
	out = append(out, encoded...)
	return out, nil
}

// encode is the type dispatch table; first match wins.
func (s *session) encode(value any, encoders Encoders) ([]byte, error) {
	if value == nil {
		return []byte{'0'}, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return []byte{'0'}, nil
		}
	}

	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case bool:
		if v {
			return []byte{'1'}, nil
		}
		return []byte{'0'}, nil
	case *regexp.Regexp:
		h := md5.New()
		h.Write([]byte(v.String()))
		return h.Sum(nil), nil
	case time.Time:
		// MarshalBinary drops the monotonic reading, so two equal wall-clock
		// instants fingerprint identically across sessions.
		b, err := v.MarshalBinary()
		if err != nil {
			return nil, unhashable(reflect.TypeOf(v), err)
		}
		return b, nil
	case *os.File:
		return encodeFileHandle(v)
	case *bytes.Buffer:
		h := md5.New()
		h.Write(v.Bytes())
		return h.Sum(nil), nil
	case reflect.Type:
		// A type used as a value fingerprints as its qualified name, the
		// closest Go analogue to hashing a class object.
		return []byte(v.String()), nil
	}

	switch rv.Kind() {
	case reflect.String:
		// Named string types fall through the exact-type switch above.
		return []byte(rv.String()), nil
	case reflect.Bool:
		if rv.Bool() {
			return []byte{'1'}, nil
		}
		return []byte{'0'}, nil
	case reflect.Float32, reflect.Float64:
		// "fingerprint of its hash-equivalent integer": hash the raw bit
		// pattern rather than reinterpreting it as a signed magnitude.
		h := md5.New()
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], floatBits(rv))
		h.Write(buf[:])
		return h.Sum(nil), nil
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		h := md5.New()
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(real(c)))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(imag(c)))
		h.Write(buf[:])
		return h.Sum(nil), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intToBytes(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintToBytes(rv.Uint()), nil
	case reflect.Slice, reflect.Array:
		return s.encodeSequence(rv, encoders)
	case reflect.Map:
		return s.encodeMap(rv, encoders)
	case reflect.Ptr, reflect.Interface:
		return s.toBytes(rv.Elem().Interface(), encoders)
	case reflect.Func:
		return encodeFuncValue(value)
	case reflect.Struct:
		return s.encodeStructOrEncoder(value, rv, encoders)
	}

	if enc, ok := lookupEncoder(rv.Type(), encoders); ok {
		mapped, err := enc(value)
		if err != nil {
			return nil, unhashable(rv.Type(), err)
		}
		return s.toBytes(mapped, encoders)
	}
	if b, ok, err := marshalBinaryForm(value, rv); ok {
		return b, err
	}

	return nil, unhashable(rv.Type(), fmt.Errorf("no built-in rule, encoder, or reflectable shape"))
}

func (s *session) encodeStructOrEncoder(value any, rv reflect.Value, encoders Encoders) ([]byte, error) {
	if enc, ok := lookupEncoder(rv.Type(), encoders); ok {
		mapped, err := enc(value)
		if err != nil {
			return nil, unhashable(rv.Type(), err)
		}
		return s.toBytes(mapped, encoders)
	}
	if b, ok, err := marshalBinaryForm(value, rv); ok {
		return b, err
	}
	// "record/struct-like user type with field reflection": fingerprint the
	// exported field map, name -> value, in declaration order.
	h := md5.New()
	t := rv.Type()
	exported := 0
	for i := 0; i < rv.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		exported++
		b, err := s.toBytes(rv.Field(i).Interface(), encoders)
		if err != nil {
			return nil, err
		}
		h.Write([]byte(f.Name))
		h.Write([]byte{':'})
		h.Write(b)
		h.Write([]byte{';'})
	}
	if exported == 0 && t.NumField() > 0 {
		// A struct whose state is entirely unexported would fingerprint as
		// empty, silently colliding every instance of the type.
		return nil, unhashable(t, fmt.Errorf("struct has no exported fields"))
	}
	return h.Sum(nil), nil
}

// marshalBinaryForm is the catch-all "reduce form": a type that knows how
// to serialize itself via encoding.BinaryMarshaler is fingerprinted from
// that serialization.
func marshalBinaryForm(value any, rv reflect.Value) ([]byte, bool, error) {
	bm, ok := value.(encoding.BinaryMarshaler)
	if !ok {
		return nil, false, nil
	}
	b, err := bm.MarshalBinary()
	if err != nil {
		return nil, true, unhashable(rv.Type(), err)
	}
	return b, true, nil
}

func (s *session) encodeSequence(rv reflect.Value, encoders Encoders) ([]byte, error) {
	h := md5.New()
	for i := 0; i < rv.Len(); i++ {
		b, err := s.toBytes(rv.Index(i).Interface(), encoders)
		if err != nil {
			return nil, err
		}
		h.Write(b)
	}
	return h.Sum(nil), nil
}

// encodeMap hashes (key, value) pairs sorted by their fingerprinted key so
// that two maps with the same entries produce the same digest regardless
// of Go's randomized map iteration order.
func (s *session) encodeMap(rv reflect.Value, encoders Encoders) ([]byte, error) {
	type pair struct {
		keyBytes []byte
		entry    []byte
	}
	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		kb, err := s.toBytes(iter.Key().Interface(), encoders)
		if err != nil {
			return nil, err
		}
		vb, err := s.toBytes(iter.Value().Interface(), encoders)
		if err != nil {
			return nil, err
		}
		entry := make([]byte, 0, len(kb)+len(vb)+1)
		entry = append(entry, kb...)
		entry = append(entry, ':')
		entry = append(entry, vb...)
		pairs = append(pairs, pair{kb, entry})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return string(pairs[i].keyBytes) < string(pairs[j].keyBytes)
	})
	h := md5.New()
	for _, p := range pairs {
		h.Write(p.entry)
	}
	return h.Sum(nil), nil
}

func encodeFuncValue(value any) ([]byte, error) {
	h := md5.New()
	h.Write([]byte(funcName(value)))
	return h.Sum(nil), nil
}

func unhashable(t reflect.Type, cause error) error {
	return &cacheerrors.UnhashableTypeError{TypeName: t.String(), Cause: cause}
}

// encodeFileHandle fingerprints an open file by (name, mtime, current
// offset): the same file re-opened at the same position with unchanged
// contents fingerprints identically, while any write or seek changes the
// digest.
func encodeFileHandle(f *os.File) ([]byte, error) {
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, unhashable(reflect.TypeOf(f), err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, unhashable(reflect.TypeOf(f), err)
	}
	h := md5.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d", f.Name(), info.ModTime().UnixNano(), offset)
	return h.Sum(nil), nil
}

func lookupEncoder(t reflect.Type, encoders Encoders) (func(v any) (any, error), bool) {
	if encoders == nil {
		return nil, false
	}
	enc, ok := encoders[t]
	return enc, ok
}

// intToBytes encodes n as little-endian two's complement in the minimal
// width that still preserves the sign: high-order bytes that are pure
// sign extension (0x00 for non-negative, 0xff for negative) are dropped
// as long as the remaining top bit agrees with the sign.
func intToBytes(n int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	end := 8
	for end > 1 {
		ext := byte(0x00)
		if n < 0 {
			ext = 0xff
		}
		if buf[end-1] != ext {
			break
		}
		if (buf[end-2]&0x80 != 0) != (n < 0) {
			break
		}
		end--
	}
	return buf[:end]
}

func uintToBytes(u uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], u)
	// Minimal width: drop trailing (high-order) zero bytes, but always keep
	// at least one byte.
	end := 8
	for end > 1 && buf[end-1] == 0 {
		end--
	}
	return buf[:end]
}

func floatBits(rv reflect.Value) uint64 {
	return math.Float64bits(rv.Float())
}
